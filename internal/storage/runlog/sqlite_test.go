package runlog

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "db", "redeem.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_RequiresPath(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Error("NewStore(\"\") returned nil error")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	id, err := s.StartRun("SPRING")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty run id")
	}

	attempts := []Attempt{
		{RunID: id, Round: 1, AccountID: "1", State: "SUCCESSFUL", Outcome: "Redeemed", ErrCode: 20000, Message: "SUCCESS", CaptchaText: "AB12", CaptchaMethod: "otsu", CaptchaConfidence: 0.91},
		{RunID: id, Round: 1, AccountID: "2", State: "COOLDOWN", Message: "captcha not recognized"},
	}
	for _, a := range attempts {
		if err := s.RecordAttempt(a); err != nil {
			t.Fatal(err)
		}
	}

	clock = clock.Add(time.Minute)
	if err := s.FinishRun(Run{ID: id, ExitStatus: "ok", Redeemed: 1, Failed: 1}); err != nil {
		t.Fatal(err)
	}

	runs, err := s.RunHistory("SPRING")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %+v", runs)
	}
	r := runs[0]
	if r.ID != id || r.ExitStatus != "ok" || r.Redeemed != 1 || r.Failed != 1 {
		t.Errorf("run = %+v", r)
	}
	if !r.FinishedAt.Equal(clock) || !r.StartedAt.Equal(clock.Add(-time.Minute)) {
		t.Errorf("times = %s..%s", r.StartedAt, r.FinishedAt)
	}

	got, err := s.AttemptsFor(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("attempts = %+v", got)
	}
	if got[0].CaptchaText != "AB12" || got[0].ErrCode != 20000 || got[0].CaptchaConfidence != 0.91 {
		t.Errorf("attempt[0] = %+v", got[0])
	}
	if got[1].AccountID != "2" || got[1].Outcome != "" {
		t.Errorf("attempt[1] = %+v", got[1])
	}

	if other, _ := s.RunHistory("OTHER"); len(other) != 0 {
		t.Errorf("RunHistory(OTHER) = %+v", other)
	}
}

func TestEnsureColumns_MigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Exec(`CREATE TABLE attempts (run_id TEXT NOT NULL, round INTEGER NOT NULL, account_id TEXT NOT NULL, state TEXT NOT NULL, created_at TEXT NOT NULL)`)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() on old schema error = %v", err)
	}
	defer s.Close()

	if err := s.RecordAttempt(Attempt{RunID: "r", Round: 1, AccountID: "1", State: "UNSUCCESSFUL", CaptchaMethod: "edges"}); err != nil {
		t.Fatalf("RecordAttempt() after migration error = %v", err)
	}
}
