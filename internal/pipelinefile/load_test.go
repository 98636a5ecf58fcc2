package pipelinefile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Vincamine/PipelineRunner-sub000/internal/execution/specvalidator"
)

const yamlDoc = `
branch: main
stages:
  - name: build
    jobs:
      - name: compile
        image: golang:1.25
        script: go build ./...
  - name: test
    jobs:
      - name: unit
        image: golang:1.25
        script:
          - go vet ./...
          - go test ./...
        dependencies: [compile]
        allow_failure: true
`

const jsoncDoc = `{
  // same pipeline, top-level jobs layout
  "branch": "main",
  "stages": ["build", "test"],
  "jobs": [
    {"name": "compile", "stage": "build", "image": "golang:1.25", "script": "go build ./..."},
    {
      "name": "unit",
      "stage": "test",
      "image": "golang:1.25",
      "script": ["go vet ./...", "go test ./..."],
      "dependencies": ["compile"],
      "allowFailure": true, /* trailing comma next */
    },
  ],
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_YAMLAndJSONCAgree(t *testing.T) {
	a, err := Load(writeFile(t, "ci.yaml", yamlDoc))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	b, err := Load(writeFile(t, "ci.jsonc", jsoncDoc))
	if err != nil {
		t.Fatalf("jsonc: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical definitions\nyaml=%+v\njsonc=%+v", a, b)
	}
	if a.Name != "ci" {
		t.Fatalf("expected name from file, got %q", a.Name)
	}
	if a.Branch != "main" {
		t.Fatalf("expected branch main, got %q", a.Branch)
	}
	if !a.Stages[1].Jobs[0].AllowFailure {
		t.Fatalf("expected allowFailure on unit")
	}
}

func TestLoad_ExplicitNameWins(t *testing.T) {
	def, err := Load(writeFile(t, "other.yml", "name: release\n"+yamlDoc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Name != "release" {
		t.Fatalf("expected release, got %q", def.Name)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "malformed yaml", file: "bad.yaml", content: "stages: [unterminated", want: "Invalid pipeline definition"},
		{name: "malformed json", file: "bad.json", content: `{"stages": }`, want: "Invalid pipeline definition"},
		{name: "empty document", file: "empty.yaml", content: "", want: "document is empty"},
		{name: "missing stages", file: "nostages.yaml", content: "name: x\n", want: "missing 'stages'"},
		{name: "unknown dependency", file: "dep.yaml", content: `
stages:
  - name: build
    jobs:
      - name: compile
        image: alpine
        script: make
        dependencies: [ghost]
`, want: "ghost"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			if !specvalidator.IsValidationError(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if specvalidator.IsValidationError(err) {
		t.Fatalf("read errors must not be validation errors")
	}
}

func TestFormatFromPath(t *testing.T) {
	cases := map[string]Format{
		"a.yaml":  FormatYAML,
		"a.YML":   FormatYAML,
		"a.json":  FormatJSON,
		"a.jsonc": FormatJSON,
		"a":       FormatYAML,
	}
	for path, want := range cases {
		if got := FormatFromPath(path); got != want {
			t.Fatalf("%s: expected %s got %s", path, want, got)
		}
	}
}
