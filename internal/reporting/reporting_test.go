package reporting

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStartAndFinishSessionOK(t *testing.T) {
	m := NewModule()
	m.StartSession("s1", "x86", "LINUX")
	if err := m.FinishSession("s1", 3, 42, 10, 4, nil); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	s := m.Sessions["s1"]
	if s.Status != "OK" || s.ChainBytes != 40 {
		t.Fatalf("session = %+v, want Status=OK ChainBytes=40", s)
	}
}

func TestFinishSessionClassifiesCancelled(t *testing.T) {
	m := NewModule()
	m.StartSession("s1", "x86", "LINUX")
	if err := m.FinishSession("s1", 1, 1, 0, 4, errors.New("compile cancelled before instruction 0")); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	if m.Sessions["s1"].Status != "CANCELLED" {
		t.Fatalf("Status = %q, want CANCELLED", m.Sessions["s1"].Status)
	}
}

func TestFinishSessionClassifiesFailed(t *testing.T) {
	m := NewModule()
	m.StartSession("s1", "x86", "LINUX")
	if err := m.FinishSession("s1", 1, 1, 0, 4, errors.New("no candidate rewrite matched")); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	if m.Sessions["s1"].Status != "FAILED" {
		t.Fatalf("Status = %q, want FAILED", m.Sessions["s1"].Status)
	}
}

func TestFinishSessionUnknownID(t *testing.T) {
	m := NewModule()
	if err := m.FinishSession("missing", 0, 0, 0, 4, nil); err == nil {
		t.Fatalf("expected an error for an unknown session id")
	}
}

func TestSummaryIncludesStatusAndCounts(t *testing.T) {
	m := NewModule()
	m.StartSession("s1", "x86", "LINUX")
	m.FinishSession("s1", 5, 100, 20, 4, nil)
	out, err := m.Summary("s1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !strings.Contains(out, "OK") || !strings.Contains(out, "x86/LINUX") {
		t.Fatalf("Summary = %q, missing expected fields", out)
	}
}

func TestExportJSONWritesSessionFields(t *testing.T) {
	m := NewModule()
	m.OutputDirectory = t.TempDir()
	m.StartSession("s1", "x64", "LINUX")
	m.FinishSession("s1", 2, 7, 5, 8, nil)

	if err := m.Export("s1", "json", "out.json"); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(m.OutputDirectory, "out.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s.ID != "s1" || s.ChainBytes != 40 {
		t.Fatalf("decoded session = %+v", s)
	}
}

func TestExportCSVWritesHeaderAndRow(t *testing.T) {
	m := NewModule()
	m.OutputDirectory = t.TempDir()
	m.StartSession("s1", "x86", "LINUX")
	m.FinishSession("s1", 1, 1, 1, 4, nil)

	if err := m.Export("s1", "csv", "out.csv"); err != nil {
		t.Fatalf("Export: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(m.OutputDirectory, "out.csv"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a header and one data row, got %d lines", len(lines))
	}
}

func TestExportRejectsUnsupportedFormat(t *testing.T) {
	m := NewModule()
	m.OutputDirectory = t.TempDir()
	m.StartSession("s1", "x86", "LINUX")
	m.FinishSession("s1", 1, 1, 1, 4, nil)
	if err := m.Export("s1", "xml", "out.xml"); err == nil {
		t.Fatalf("expected an unsupported format to be rejected")
	}
}

func TestListFailedOrdersNewestFirst(t *testing.T) {
	m := NewModule()
	m.StartSession("old", "x86", "LINUX")
	m.FinishSession("old", 1, 1, 0, 4, errors.New("boom"))

	m.Sessions["old"].FinishedAt = m.Sessions["old"].FinishedAt.Add(-1)
	// give the second session a strictly later FinishedAt
	m.StartSession("new", "x86", "LINUX")
	m.FinishSession("new", 1, 1, 0, 4, errors.New("boom again"))
	m.Sessions["new"].FinishedAt = m.Sessions["old"].FinishedAt.Add(1000000)

	m.StartSession("ok", "x86", "LINUX")
	m.FinishSession("ok", 1, 1, 1, 4, nil)

	failed := m.ListFailed()
	if len(failed) != 2 {
		t.Fatalf("ListFailed = %v, want 2 entries", failed)
	}
	if failed[0] != "new" || failed[1] != "old" {
		t.Fatalf("ListFailed = %v, want [new old]", failed)
	}
}

func TestDurationUsesFinishedAtWhenSet(t *testing.T) {
	s := &Session{}
	s.FinishedAt = s.StartedAt.Add(5)
	if s.Duration() != 5 {
		t.Fatalf("Duration() = %v, want 5ns", s.Duration())
	}
}
