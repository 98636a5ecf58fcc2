// Package artifacts copies the files a job declared as artifacts out of its
// working directory and optionally ships them to object storage.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Collector copies artifact matches into <root>/<jobExecutionID>/, keeping
// their path relative to the working directory.
type Collector struct {
	logger *slog.Logger
	root   string
}

// Collection lists what one job produced. Files are relative to Dir.
type Collection struct {
	Dir   string
	Files []string
}

func NewCollector(logger *slog.Logger, root string) (*Collector, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("artifact root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{logger: logger, root: root}, nil
}

// Collect never fails the job: patterns that match nothing and files that
// cannot be copied are logged and skipped.
func (c *Collector) Collect(jobExecutionID, workDir string, patterns []string) Collection {
	out := Collection{Dir: filepath.Join(c.root, jobExecutionID)}
	if len(patterns) == 0 {
		return out
	}
	if strings.TrimSpace(workDir) == "" {
		workDir = "."
	}
	base, err := filepath.Abs(workDir)
	if err != nil {
		c.logger.Warn("artifact working dir unusable", "job_execution_id", jobExecutionID, "error", err)
		return out
	}

	seen := map[string]struct{}{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		matches, err := expand(base, pattern)
		if err != nil {
			c.logger.Warn("artifact pattern invalid", "job_execution_id", jobExecutionID, "pattern", pattern, "error", err)
			continue
		}
		if len(matches) == 0 {
			c.logger.Warn("artifact pattern matched nothing", "job_execution_id", jobExecutionID, "pattern", pattern)
			continue
		}
		for _, match := range matches {
			rel, err := filepath.Rel(base, match)
			if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				c.logger.Warn("artifact outside working dir skipped", "job_execution_id", jobExecutionID, "path", match)
				continue
			}
			for _, file := range c.copyTree(jobExecutionID, match, filepath.Join(out.Dir, rel), rel) {
				if _, dup := seen[file]; dup {
					continue
				}
				seen[file] = struct{}{}
				out.Files = append(out.Files, file)
			}
		}
	}
	c.logger.Info("artifacts collected", "job_execution_id", jobExecutionID, "files", len(out.Files), "dir", out.Dir)
	return out
}

// expand returns the absolute paths matching pattern under base. Patterns
// without "**" use filepath.Glob. A "**" segment matches zero or more
// directories, so "build/**/*.jar" also matches "build/app.jar". A directory
// that matches is returned once and copied whole.
func expand(base, pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		return filepath.Glob(filepath.Join(base, pattern))
	}
	segments := strings.Split(path.Clean(filepath.ToSlash(pattern)), "/")
	for _, segment := range segments {
		if segment == ".." {
			return nil, errors.New("recursive pattern must stay inside the working directory")
		}
		if _, err := path.Match(segment, ""); err != nil {
			return nil, err
		}
	}

	var matches []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil || rel == "." {
			return nil
		}
		if matchSegments(segments, strings.Split(filepath.ToSlash(rel), "/")) {
			matches = append(matches, p)
			if d.IsDir() {
				return fs.SkipDir
			}
		}
		return nil
	})
	return matches, err
}

// matchSegments matches path segments against pattern segments, where "**"
// spans any number of segments and the rest follow path.Match.
func matchSegments(pattern, name []string) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(pattern[1:], name) {
			return true
		}
		return len(name) > 0 && matchSegments(pattern, name[1:])
	}
	if len(name) == 0 {
		return false
	}
	ok, _ := path.Match(pattern[0], name[0])
	return ok && matchSegments(pattern[1:], name[1:])
}

// copyTree copies a file or a directory and returns the relative paths of
// the files it copied.
func (c *Collector) copyTree(jobExecutionID, src, dst, rel string) []string {
	var copied []string
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warn("artifact walk failed", "job_execution_id", jobExecutionID, "path", path, "error", err)
			return nil
		}
		suffix, _ := filepath.Rel(src, path)
		target := filepath.Join(dst, suffix)
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				c.logger.Warn("artifact dir create failed", "job_execution_id", jobExecutionID, "path", target, "error", err)
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(path, target); err != nil {
			c.logger.Warn("artifact copy failed", "job_execution_id", jobExecutionID, "path", path, "error", err)
			return nil
		}
		copied = append(copied, filepath.ToSlash(filepath.Join(rel, suffix)))
		return nil
	})
	if err != nil {
		c.logger.Warn("artifact walk failed", "job_execution_id", jobExecutionID, "path", src, "error", err)
	}
	return copied
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
