package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session file names inside a session's in/ directory, shared with the
// in-container runner.
const (
	ScriptFileName  = "script.py"
	PayloadFileName = "known.cbor"
	ResultsFileName = "results.cbor"
)

const sessionPrefix = "cepheid-"

// Session is the ephemeral working directory of one sandboxed
// extraction. Its in/ subdirectory carries the script and payload into
// the sandbox; out/ receives the results.
type Session struct {
	ID  string
	Dir string
}

// NewSession creates a fresh session directory under baseDir. An empty
// baseDir falls back to the system temp directory.
func NewSession(baseDir string) (*Session, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	dir := filepath.Join(baseDir, sessionPrefix+id)

	for _, sub := range []string{"in", "out"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	}
	return &Session{ID: id, Dir: dir}, nil
}

// InDir returns the directory mounted read-only into the sandbox.
func (s *Session) InDir() string {
	return filepath.Join(s.Dir, "in")
}

// OutDir returns the directory the sandbox writes results into.
func (s *Session) OutDir() string {
	return filepath.Join(s.Dir, "out")
}

// Stage writes the script and encoded payload into the in/ directory.
func (s *Session) Stage(script string, payload []byte) error {
	if err := os.WriteFile(filepath.Join(s.InDir(), ScriptFileName), []byte(script), 0o644); err != nil {
		return fmt.Errorf("stage script: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.InDir(), PayloadFileName), payload, 0o644); err != nil {
		return fmt.Errorf("stage payload: %w", err)
	}
	return nil
}

// Results reads the encoded results the sandbox left in out/.
func (s *Session) Results() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.OutDir(), ResultsFileName))
	if err != nil {
		return nil, fmt.Errorf("read session results: %w", err)
	}
	return data, nil
}

// Close removes the session directory. Safe to call more than once.
func (s *Session) Close() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	err := os.RemoveAll(s.Dir)
	s.Dir = ""
	return err
}

// SweepStale removes session directories under baseDir left behind by
// prior runs that crashed before cleanup. Only directories older than
// ttl are touched. Returns the number of directories removed. An empty
// baseDir falls back to the system temp directory, like NewSession.
func SweepStale(baseDir string, ttl time.Duration) (int, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("sweep stale sessions: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-ttl)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), sessionPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(baseDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
