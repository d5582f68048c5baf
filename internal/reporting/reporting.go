// Package reporting tracks and exports compile session summaries: how
// many instructions a Task compiled, how many candidate graphs the
// search tried, how large the emitted chain came out, and how it
// finished.
// Grounded on internal/reporting/reporting.go's ReportingModule shape
// from the retrieved language-toolchain repo (a mutex-guarded map of
// named records plus per-format Export methods), narrowed to the
// fields a compile session produces.
package reporting

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Session is one compile task's outcome, from Task.ID through to the
// emitted chain's size or the error that stopped it.
type Session struct {
	ID           string    `json:"id"`
	Arch         string    `json:"arch"`
	System       string    `json:"system"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Instructions int       `json:"instructions"`
	TriesUsed    int       `json:"tries_used"`
	ChainWords   int       `json:"chain_words"`
	ChainBytes   int       `json:"chain_bytes"`
	Status       string    `json:"status"` // RUNNING, OK, FAILED, CANCELLED
	Error        string    `json:"error,omitempty"`
}

// Duration reports how long the session ran.
func (s *Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Module collects sessions across the lifetime of a server or CLI
// invocation and exports them in a handful of formats.
type Module struct {
	mu              sync.RWMutex
	Sessions        map[string]*Session
	OutputDirectory string
}

func NewModule() *Module {
	return &Module{
		Sessions:        make(map[string]*Session),
		OutputDirectory: "./reports",
	}
}

// StartSession records the beginning of a compile task.
func (m *Module) StartSession(id, archName, system string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Session{
		ID:        id,
		Arch:      archName,
		System:    system,
		StartedAt: time.Now(),
		Status:    "RUNNING",
	}
	m.Sessions[id] = s
	return s
}

// FinishSession records a compile task's outcome. wordSize is the
// target arch's bytes-per-word, used to derive ChainBytes from
// ChainWords.
func (m *Module) FinishSession(id string, instructions, tries, chainWords, wordSize int, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.Sessions[id]
	if !ok {
		return fmt.Errorf("reporting: unknown session %s", id)
	}

	s.FinishedAt = time.Now()
	s.Instructions = instructions
	s.TriesUsed = tries
	s.ChainWords = chainWords
	s.ChainBytes = chainWords * wordSize

	switch {
	case err == nil:
		s.Status = "OK"
	case strings.Contains(err.Error(), "cancelled"):
		s.Status = "CANCELLED"
		s.Error = err.Error()
	default:
		s.Status = "FAILED"
		s.Error = err.Error()
	}
	return nil
}

// Summary renders a one-line human-readable report for a session,
// using humanize for the chain size and elapsed time so a terminal
// reader sees "1.2 kB" and "3 seconds ago" rather than raw numbers.
func (m *Module) Summary(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.Sessions[id]
	if !ok {
		return "", fmt.Errorf("reporting: unknown session %s", id)
	}

	return fmt.Sprintf(
		"session %s (%s/%s): %s, %s instructions, %s candidate tries, chain %s, finished %s",
		s.ID, s.Arch, s.System, s.Status,
		humanize.Comma(int64(s.Instructions)),
		humanize.Comma(int64(s.TriesUsed)),
		humanize.Bytes(uint64(s.ChainBytes)),
		humanize.Time(s.FinishedAt),
	), nil
}

// Export writes a session to OutputDirectory/filename in the given
// format (json, csv, text).
func (m *Module) Export(id, format, filename string) error {
	m.mu.RLock()
	s, ok := m.Sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("reporting: unknown session %s", id)
	}

	if err := os.MkdirAll(m.OutputDirectory, 0755); err != nil {
		return err
	}
	fullPath := filepath.Join(m.OutputDirectory, filename)

	switch strings.ToUpper(format) {
	case "JSON":
		return exportJSON(s, fullPath)
	case "CSV":
		return exportCSV(s, fullPath)
	case "TEXT":
		return exportText(m, s, fullPath)
	default:
		return fmt.Errorf("reporting: unsupported format %s", format)
	}
}

func exportJSON(s *Session, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func exportCSV(s *Session, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"id", "arch", "system", "status", "instructions", "tries_used", "chain_bytes", "duration", "error"}); err != nil {
		return err
	}
	return w.Write([]string{
		s.ID, s.Arch, s.System, s.Status,
		fmt.Sprint(s.Instructions), fmt.Sprint(s.TriesUsed), fmt.Sprint(s.ChainBytes),
		s.Duration().String(), s.Error,
	})
}

func exportText(m *Module, s *Session, path string) error {
	summary, err := m.Summary(s.ID)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(summary+"\n"), 0644)
}

// ListFailed returns the ids of every session that did not finish OK,
// newest first.
func (m *Module) ListFailed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var failed []*Session
	for _, s := range m.Sessions {
		if s.Status == "FAILED" || s.Status == "CANCELLED" {
			failed = append(failed, s)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].FinishedAt.After(failed[j].FinishedAt) })

	out := make([]string, len(failed))
	for i, s := range failed {
		out[i] = s.ID
	}
	return out
}
