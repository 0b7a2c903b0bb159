package database

import (
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	if err := Init(dbPath); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		Close()
		DB = nil
	})
}

func TestSettings_RoundTrip(t *testing.T) {
	setupTestDB(t)

	if err := SetSetting("greeting", "hello"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	got, err := GetSetting("greeting")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestSettings_Overwrite(t *testing.T) {
	setupTestDB(t)

	if err := SetSetting("k", "v1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := SetSetting("k", "v2"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	got, err := GetSetting("k")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got != "v2" {
		t.Errorf("got %q, want %q", got, "v2")
	}
}

func TestSettings_Missing(t *testing.T) {
	setupTestDB(t)

	if _, err := GetSetting("nope"); err == nil {
		t.Error("expected error for missing setting")
	}
}

func TestAuditor_SessionLifecycle(t *testing.T) {
	setupTestDB(t)
	audit := Auditor{}

	audit.SessionStarted("sess-1", "10.1.2.3:5555")

	recs, err := RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.SessionID != "sess-1" || rec.RemoteAddr != "10.1.2.3:5555" || rec.State != "active" {
		t.Errorf("unexpected start record: %+v", rec)
	}
	if rec.ClosedAt != nil {
		t.Error("ClosedAt set before close")
	}

	code := 2
	audit.SessionClosed("sess-1", &code, "shell exited")

	recs, err = RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	rec = recs[0]
	if rec.State != "closed" {
		t.Errorf("state = %q, want closed", rec.State)
	}
	if rec.Reason != "shell exited" {
		t.Errorf("reason = %q, want %q", rec.Reason, "shell exited")
	}
	if rec.ExitCode == nil || *rec.ExitCode != 2 {
		t.Errorf("exit code = %v, want 2", rec.ExitCode)
	}
	if rec.ClosedAt == nil {
		t.Error("ClosedAt not set")
	}
}

func TestAuditor_CloseWithoutExitCode(t *testing.T) {
	setupTestDB(t)
	audit := Auditor{}

	audit.SessionStarted("sess-2", "")
	audit.SessionClosed("sess-2", nil, "idle timeout")

	recs, err := RecentSessions(10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if recs[0].ExitCode != nil {
		t.Errorf("exit code = %v, want nil", recs[0].ExitCode)
	}
	if recs[0].Reason != "idle timeout" {
		t.Errorf("reason = %q, want %q", recs[0].Reason, "idle timeout")
	}
}

func TestRecentSessions_Limit(t *testing.T) {
	setupTestDB(t)
	audit := Auditor{}

	audit.SessionStarted("a", "")
	audit.SessionStarted("b", "")
	audit.SessionStarted("c", "")

	recs, err := RecentSessions(2)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records, want 2", len(recs))
	}
}
