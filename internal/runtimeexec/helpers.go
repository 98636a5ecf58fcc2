package runtimeexec

import (
	"bytes"
	"sort"
	"strings"
	"sync"
)

const maxOutputBytes = 1 << 20

// joinScript chains script lines so the first failing line stops the job.
func joinScript(script []string) string {
	lines := make([]string, 0, len(script))
	for _, line := range script {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, " && ")
}

// envPairs renders env as sorted KEY=value pairs, skipping blank keys.
func envPairs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimSpace(k)+"="+env[k])
	}
	return out
}

// outputBuffer keeps the first maxOutputBytes of combined output. Writes
// past the limit are dropped and marked as truncated.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := maxOutputBytes - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
