package artifacts

import (
	"archive/tar"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/Vincamine/PipelineRunner-sub000/internal/storage/objectstore"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	return c
}

func TestCollect(t *testing.T) {
	work := t.TempDir()
	writeFile(t, filepath.Join(work, "dist", "app"), "binary")
	writeFile(t, filepath.Join(work, "dist", "lib", "x.so"), "lib")
	writeFile(t, filepath.Join(work, "coverage.out"), "cov")
	writeFile(t, filepath.Join(work, "notes.txt"), "skip")

	c := newCollector(t)
	got := c.Collect("job-1", work, []string{"dist", "*.out", "missing/*", "[", "coverage.out"})

	files := append([]string{}, got.Files...)
	sort.Strings(files)
	want := []string{"coverage.out", "dist/app", "dist/lib/x.so"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v got %v", want, files)
	}
	data, err := os.ReadFile(filepath.Join(got.Dir, "dist", "lib", "x.so"))
	if err != nil || string(data) != "lib" {
		t.Fatalf("expected copied file, got %q (%v)", data, err)
	}
	if filepath.Base(got.Dir) != "job-1" {
		t.Fatalf("expected per-job dir, got %s", got.Dir)
	}
}

func TestCollect_SkipsOutsideWorkDir(t *testing.T) {
	parent := t.TempDir()
	work := filepath.Join(parent, "work")
	writeFile(t, filepath.Join(parent, "secret"), "x")
	writeFile(t, filepath.Join(work, "ok"), "y")

	got := newCollector(t).Collect("job-2", work, []string{"../secret", "ok"})
	if len(got.Files) != 1 || got.Files[0] != "ok" {
		t.Fatalf("expected only ok, got %v", got.Files)
	}
}

func TestCollect_RecursivePatterns(t *testing.T) {
	work := t.TempDir()
	writeFile(t, filepath.Join(work, "build", "app.jar"), "a")
	writeFile(t, filepath.Join(work, "build", "libs", "core.jar"), "b")
	writeFile(t, filepath.Join(work, "build", "libs", "deep", "util.jar"), "c")
	writeFile(t, filepath.Join(work, "build", "libs", "notes.txt"), "skip")
	writeFile(t, filepath.Join(work, "reports", "unit", "junit.xml"), "d")
	writeFile(t, filepath.Join(work, "root.jar"), "e")

	cases := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{name: "interior", patterns: []string{"build/**/*.jar"}, want: []string{"build/app.jar", "build/libs/core.jar", "build/libs/deep/util.jar"}},
		{name: "leading", patterns: []string{"**/junit.xml"}, want: []string{"reports/unit/junit.xml"}},
		{name: "trailing copies the directory", patterns: []string{"reports/**"}, want: []string{"reports/unit/junit.xml"}},
		{name: "everywhere", patterns: []string{"**/*.jar"}, want: []string{"build/app.jar", "build/libs/core.jar", "build/libs/deep/util.jar", "root.jar"}},
		{name: "escaping pattern skipped", patterns: []string{"../**/*.jar", "root.jar"}, want: []string{"root.jar"}},
		{name: "malformed segment skipped", patterns: []string{"**/[", "root.jar"}, want: []string{"root.jar"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := newCollector(t).Collect("job-r", work, tc.patterns)
			files := append([]string{}, got.Files...)
			sort.Strings(files)
			if strings.Join(files, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("expected %v got %v", tc.want, files)
			}
		})
	}
}

func TestMatchSegments(t *testing.T) {
	cases := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"build/**/*.jar", "build/app.jar", true},
		{"build/**/*.jar", "build/a/b/c.jar", true},
		{"build/**/*.jar", "other/app.jar", false},
		{"build/*/*.jar", "build/a/b/c.jar", false},
		{"**", "any/depth/at/all", true},
		{"a/**/b/**/c", "a/x/b/y/z/c", true},
		{"a/**/b", "a/b/c", false},
	}
	for _, tc := range cases {
		got := matchSegments(strings.Split(tc.pattern, "/"), strings.Split(tc.name, "/"))
		if got != tc.want {
			t.Fatalf("%s ~ %s: expected %v", tc.pattern, tc.name, tc.want)
		}
	}
}

func TestUpload_BundlesFiles(t *testing.T) {
	work := t.TempDir()
	writeFile(t, filepath.Join(work, "report.xml"), "<ok/>")
	c := newCollector(t)
	col := c.Collect("job-3", work, []string{"report.xml"})

	store := objectstore.NewMemoryStore()
	up, err := NewUploader(store, "artifacts")
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	key, err := up.Upload(context.Background(), "job-3", col)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if key != BundleKey("job-3") {
		t.Fatalf("expected %s got %s", BundleKey("job-3"), key)
	}

	body, info, err := store.Get(context.Background(), "artifacts", key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer body.Close()
	if info.ContentType != BundleContentType {
		t.Fatalf("expected %s got %s", BundleContentType, info.ContentType)
	}
	dec, err := zstd.NewReader(body)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()
	tr := tar.NewReader(dec)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("tar next: %v", err)
	}
	content, _ := io.ReadAll(tr)
	if hdr.Name != "report.xml" || string(content) != "<ok/>" {
		t.Fatalf("unexpected entry %s %q", hdr.Name, content)
	}

	empty, err := up.Upload(context.Background(), "job-4", Collection{})
	if err != nil || empty != "" {
		t.Fatalf("expected no upload for empty collection, got %q %v", empty, err)
	}
}
