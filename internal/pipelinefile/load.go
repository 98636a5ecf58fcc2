// Package pipelinefile reads pipeline definitions from disk. YAML and JSONC
// (JSON with comments and trailing commas) are accepted; both feed the same
// layout parser and validator.
package pipelinefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/execution/specvalidator"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the decoder by extension. Unknown extensions are
// treated as YAML, which also accepts plain JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// NameFromPath strips the directory and extension: "ci/build.yaml" -> "build".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Load reads, parses and validates the definition at path. A definition
// without a name takes the file name. Read errors are returned as is;
// everything else is a *specvalidator.ValidationError.
func Load(path string) (domain.PipelineDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PipelineDefinition{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data, FormatFromPath(path), NameFromPath(path))
}

// Parse decodes data in the given format. fallbackName is used when the
// document names no pipeline.
func Parse(data []byte, format Format, fallbackName string) (domain.PipelineDefinition, error) {
	raw, err := decode(data, format)
	if err != nil {
		return domain.PipelineDefinition{}, err
	}
	if raw == nil {
		return domain.PipelineDefinition{}, specvalidator.Invalid("Invalid pipeline definition: document is empty")
	}
	if !hasName(raw) && fallbackName != "" {
		raw["name"] = fallbackName
	}

	def, err := specvalidator.ParsePipeline(raw)
	if err != nil {
		return domain.PipelineDefinition{}, err
	}
	def.RepositoryURL = firstString(raw, "repositoryUrl", "repository")
	def.Branch = firstString(raw, "branch")
	def.CommitHash = firstString(raw, "commitHash", "commit")
	return def, nil
}

func decode(data []byte, format Format) (map[string]any, error) {
	var raw map[string]any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
			return nil, specvalidator.Invalid("Invalid pipeline definition: %v", err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, specvalidator.Invalid("Invalid pipeline definition: %v", err)
		}
	}
	return raw, nil
}

func hasName(raw map[string]any) bool {
	if firstString(raw, "name") != "" {
		return true
	}
	if nested, ok := raw["pipeline"].(map[string]any); ok {
		return firstString(nested, "name") != ""
	}
	return false
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
