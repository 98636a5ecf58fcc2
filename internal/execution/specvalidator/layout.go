package specvalidator

import (
	"strings"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

// layoutKind tags which of the two accepted document shapes was supplied.
type layoutKind string

const (
	// jobs listed under each stage map
	layoutNested layoutKind = "nested"
	// flat jobs list, each job carrying a stage reference
	layoutTopLevel layoutKind = "top-level"
)

// layout is the raw document resolved into stage and job entries. After
// canonical() runs, nothing downstream looks at the source shape again.
type layout struct {
	kind   layoutKind
	name   string
	stages []string
	jobs   []jobEntry
}

type jobEntry struct {
	stage string
	index int
	raw   map[string]any
}

// ParsePipeline turns a parsed definition document (nested maps and lists)
// into a validated PipelineDefinition. The first violation is returned.
func ParsePipeline(raw map[string]any) (domain.PipelineDefinition, error) {
	if raw == nil {
		return domain.PipelineDefinition{}, invalid("Invalid pipeline definition: document is empty")
	}
	l, err := resolveLayout(raw)
	if err != nil {
		return domain.PipelineDefinition{}, err
	}
	def, err := l.canonical()
	if err != nil {
		return domain.PipelineDefinition{}, err
	}
	if err := ValidatePipeline(def); err != nil {
		return domain.PipelineDefinition{}, err
	}
	return def, nil
}

func resolveLayout(raw map[string]any) (layout, error) {
	l := layout{name: pipelineName(raw)}

	stagesRaw, ok := raw["stages"]
	if !ok {
		return layout{}, invalid("Invalid pipeline definition: missing 'stages' field")
	}
	stages, ok := asList(stagesRaw)
	if !ok {
		return layout{}, invalid("Invalid pipeline definition: 'stages' must be a list")
	}
	if len(stages) == 0 {
		return layout{}, invalid("Invalid pipeline definition: 'stages' must contain at least one stage")
	}

	topLevelRaw, hasTopLevel := raw["jobs"]
	l.kind = layoutNested
	if hasTopLevel {
		l.kind = layoutTopLevel
	}

	seen := make(map[string]struct{}, len(stages))
	for i, entry := range stages {
		name, nested, err := stageEntry(i, entry)
		if err != nil {
			return layout{}, err
		}
		if _, dup := seen[name]; dup {
			return layout{}, invalid("Duplicate stage name %q", name)
		}
		seen[name] = struct{}{}
		l.stages = append(l.stages, name)

		if nested == nil {
			continue
		}
		if l.kind == layoutTopLevel {
			return layout{}, invalid("stage %q declares jobs while top-level 'jobs' is also present", name)
		}
		list, ok := asList(nested)
		if !ok {
			return layout{}, invalid("stage %q: 'jobs' must be a list", name)
		}
		for j, item := range list {
			m, ok := asMap(item)
			if !ok {
				return layout{}, invalid("job at index %d in stage %q must be a map", j, name)
			}
			l.jobs = append(l.jobs, jobEntry{stage: name, index: j, raw: m})
		}
	}

	if l.kind == layoutTopLevel {
		list, ok := asList(topLevelRaw)
		if !ok {
			return layout{}, invalid("Invalid pipeline definition: 'jobs' must be a list")
		}
		for j, item := range list {
			m, ok := asMap(item)
			if !ok {
				return layout{}, invalid("job at index %d must be a map", j)
			}
			stage := stringValue(m, "stage")
			if stage == "" {
				name := stringValue(m, "name")
				if name == "" {
					return layout{}, invalid("job at index %d is missing 'name' field", j)
				}
				return layout{}, invalid("job %q is missing 'stage' field", name)
			}
			if _, ok := seen[stage]; !ok {
				return layout{}, invalid("job %q references non-existent stage %q", stringValue(m, "name"), stage)
			}
			l.jobs = append(l.jobs, jobEntry{stage: stage, index: j, raw: m})
		}
	}
	return l, nil
}

// stageEntry accepts a bare stage name or a map with a non-empty name.
func stageEntry(index int, entry any) (string, any, error) {
	if s, ok := entry.(string); ok {
		name := strings.TrimSpace(s)
		if name == "" {
			return "", nil, invalid("Stage at index %d is missing 'name' field", index)
		}
		return name, nil, nil
	}
	m, ok := asMap(entry)
	if !ok {
		return "", nil, invalid("Stage at index %d must be a string or a map", index)
	}
	name := stringValue(m, "name")
	if name == "" {
		return "", nil, invalid("Stage at index %d is missing 'name' field", index)
	}
	return name, m["jobs"], nil
}

func pipelineName(raw map[string]any) string {
	if name := stringValue(raw, "name"); name != "" {
		return name
	}
	if nested, ok := asMap(raw["pipeline"]); ok {
		return stringValue(nested, "name")
	}
	return ""
}

func (l layout) canonical() (domain.PipelineDefinition, error) {
	def := domain.PipelineDefinition{Name: l.name}
	index := make(map[string]int, len(l.stages))
	for i, name := range l.stages {
		index[name] = i
		def.Stages = append(def.Stages, domain.StageDefinition{
			Name:           name,
			ExecutionOrder: i,
			Jobs:           []domain.JobDefinition{},
		})
	}
	for _, entry := range l.jobs {
		job, err := jobFromMap(entry)
		if err != nil {
			return domain.PipelineDefinition{}, err
		}
		i := index[entry.stage]
		def.Stages[i].Jobs = append(def.Stages[i].Jobs, job)
	}
	return def, nil
}

func jobFromMap(entry jobEntry) (domain.JobDefinition, error) {
	m := entry.raw
	name := stringValue(m, "name")
	if name == "" {
		return domain.JobDefinition{}, invalid("job at index %d in stage %q is missing 'name' field", entry.index, entry.stage)
	}

	image := stringValue(m, "image", "dockerImage", "docker_image")
	if image == "" {
		return domain.JobDefinition{}, invalid("job %q: 'image' is required", name)
	}

	scriptRaw, _, _ := lookup(m, "script")
	script, err := scriptValue(name, scriptRaw)
	if err != nil {
		return domain.JobDefinition{}, err
	}

	allowFailure := false
	if v, key, ok := lookup(m, "allow_failure", "allowFailure"); ok {
		allowFailure, err = boolValue(name, key, v)
		if err != nil {
			return domain.JobDefinition{}, err
		}
	}

	depsRaw, depsKey, _ := lookup(m, "dependencies", "needs")
	deps, err := stringListValue(name, depsKey, depsRaw)
	if err != nil {
		return domain.JobDefinition{}, err
	}

	artifactsRaw, artifactsKey, _ := lookup(m, "artifacts", "artifactPatterns", "artifact_patterns")
	if artifactsMap, ok := asMap(artifactsRaw); ok {
		artifactsRaw = artifactsMap["paths"]
	}
	patterns, err := stringListValue(name, artifactsKey, artifactsRaw)
	if err != nil {
		return domain.JobDefinition{}, err
	}

	return domain.JobDefinition{
		Name:             name,
		Image:            image,
		Script:           script,
		WorkingDir:       stringValue(m, "workingDir", "working_dir"),
		AllowFailure:     allowFailure,
		ArtifactPatterns: patterns,
		Dependencies:     deps,
	}, nil
}
