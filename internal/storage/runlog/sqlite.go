package runlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Store journals runs and per-account attempts in a local sqlite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

type Run struct {
	ID          string
	Code        string
	StartedAt   time.Time
	FinishedAt  time.Time
	ExitStatus  string
	Redeemed    int
	Already     int
	Failed      int
	PreExisting int
}

type Attempt struct {
	RunID             string
	Round             int
	AccountID         string
	State             string
	Outcome           string
	ErrCode           int
	Message           string
	CaptchaText       string
	CaptchaMethod     string
	CaptchaConfidence float64
	CreatedAt         time.Time
}

func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        code TEXT NOT NULL,
        started_at TEXT NOT NULL,
        finished_at TEXT,
        exit_status TEXT
    )`,
		`CREATE TABLE IF NOT EXISTS attempts (
        run_id TEXT NOT NULL,
        round INTEGER NOT NULL,
        account_id TEXT NOT NULL,
        state TEXT NOT NULL,
        created_at TEXT NOT NULL
    )`,
		`CREATE INDEX IF NOT EXISTS attempts_run ON attempts(run_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	if err := s.ensureColumns("runs", []column{
		{"redeemed", `INTEGER NOT NULL DEFAULT 0`},
		{"already_redeemed", `INTEGER NOT NULL DEFAULT 0`},
		{"failed", `INTEGER NOT NULL DEFAULT 0`},
		{"pre_existing", `INTEGER NOT NULL DEFAULT 0`},
	}); err != nil {
		return err
	}
	return s.ensureColumns("attempts", []column{
		{"outcome", `TEXT`},
		{"err_code", `INTEGER NOT NULL DEFAULT 0`},
		{"message", `TEXT`},
		{"captcha_text", `TEXT`},
		{"captcha_method", `TEXT`},
		{"captcha_confidence", `REAL NOT NULL DEFAULT 0`},
	})
}

type column struct {
	name       string
	definition string
}

// ensureColumns adds columns introduced after a database was first created.
func (s *Store) ensureColumns(table string, wanted []column) error {
	columns := map[string]bool{}
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		columns[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range wanted {
		if columns[c.name] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, c.name, c.definition)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun opens a journal entry for a run and returns its id.
func (s *Store) StartRun(code string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO runs(id, code, started_at) VALUES(?, ?, ?)`, id, code, s.now().UTC().Format(timeLayout))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) FinishRun(run Run) error {
	_, err := s.db.Exec(`UPDATE runs SET finished_at = ?, exit_status = ?, redeemed = ?, already_redeemed = ?, failed = ?, pre_existing = ? WHERE id = ?`,
		s.now().UTC().Format(timeLayout), run.ExitStatus, run.Redeemed, run.Already, run.Failed, run.PreExisting, run.ID)
	return err
}

func (s *Store) RecordAttempt(a Attempt) error {
	_, err := s.db.Exec(`INSERT INTO attempts(run_id, round, account_id, state, outcome, err_code, message, captcha_text, captcha_method, captcha_confidence, created_at)
    VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Round, a.AccountID, a.State, a.Outcome, a.ErrCode, a.Message, a.CaptchaText, a.CaptchaMethod, a.CaptchaConfidence,
		s.now().UTC().Format(timeLayout))
	return err
}

// RunHistory lists the runs for code, newest first.
func (s *Store) RunHistory(code string) ([]Run, error) {
	rows, err := s.db.Query(`SELECT id, code, started_at, finished_at, exit_status, redeemed, already_redeemed, failed, pre_existing
    FROM runs WHERE code = ? ORDER BY started_at DESC, rowid DESC`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var finished, status sql.NullString
		if err := rows.Scan(&r.ID, &r.Code, &started, &finished, &status, &r.Redeemed, &r.Already, &r.Failed, &r.PreExisting); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(timeLayout, started)
		if finished.Valid {
			r.FinishedAt, _ = time.Parse(timeLayout, finished.String)
		}
		r.ExitStatus = status.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) AttemptsFor(runID string) ([]Attempt, error) {
	rows, err := s.db.Query(`SELECT run_id, round, account_id, state, outcome, err_code, message, captcha_text, captcha_method, captcha_confidence, created_at
    FROM attempts WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var outcome, message, text, method sql.NullString
		var created string
		if err := rows.Scan(&a.RunID, &a.Round, &a.AccountID, &a.State, &outcome, &a.ErrCode, &message, &text, &method, &a.CaptchaConfidence, &created); err != nil {
			return nil, err
		}
		a.Outcome = outcome.String
		a.Message = message.String
		a.CaptchaText = text.String
		a.CaptchaMethod = method.String
		a.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, a)
	}
	return out, rows.Err()
}
