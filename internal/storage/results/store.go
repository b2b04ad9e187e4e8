package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

var (
	ErrRegression    = errors.New("refusing to downgrade a successful account")
	ErrInvalidStatus = errors.New("invalid account status")
)

// Record is the persisted state of one code. Accounts absent from Status
// have not been processed.
type Record struct {
	Code   string                         `json:"code"`
	Status map[string]model.AccountStatus `json:"status"`
}

// Store keeps the results document in memory and rewrites it on Flush.
type Store struct {
	mu      sync.Mutex
	path    string
	records []Record
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("results path is required")
	}
	records, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, records: records}, nil
}

// ensure returns the index of the first record for code, creating it when
// absent.
func (s *Store) ensure(code string) int {
	if i := find(s.records, code); i >= 0 {
		if s.records[i].Status == nil {
			s.records[i].Status = make(map[string]model.AccountStatus)
		}
		return i
	}
	s.records = append(s.records, Record{Code: code, Status: make(map[string]model.AccountStatus)})
	return len(s.records) - 1
}

func (s *Store) Ensure(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(code)
}

func (s *Store) Status(code, accountID string) model.AccountStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := find(s.records, code)
	if i < 0 {
		return model.StatusUnprocessed
	}
	return s.records[i].Status[accountID]
}

// SetStatus records status for the account. A Successful account can only
// be written as Successful again.
func (s *Store) SetStatus(code, accountID string, status model.AccountStatus) error {
	if status != model.StatusSuccessful && status != model.StatusUnsuccessful {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, string(status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.ensure(code)
	if s.records[i].Status[accountID] == model.StatusSuccessful && status != model.StatusSuccessful {
		return fmt.Errorf("%w: %s for %s", ErrRegression, accountID, code)
	}
	s.records[i].Status[accountID] = status
	return nil
}

// Counts tallies the statuses recorded for code.
func (s *Store) Counts(code string) (successful, unsuccessful int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := find(s.records, code)
	if i < 0 {
		return 0, 0
	}
	for _, st := range s.records[i].Status {
		switch st {
		case model.StatusSuccessful:
			successful++
		case model.StatusUnsuccessful:
			unsuccessful++
		}
	}
	return successful, unsuccessful
}

// Flush merges the in-memory document with the file and rewrites it
// atomically. Records and accounts only present on disk are kept, and a
// Successful status on either side wins.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	onDisk, err := readRecords(s.path)
	if err != nil {
		return fmt.Errorf("re-read results: %w", err)
	}
	s.records = merge(onDisk, s.records)

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.path, data)
}

func merge(onDisk, inMemory []Record) []Record {
	out := make([]Record, 0, len(onDisk)+len(inMemory))
	for _, r := range onDisk {
		out = append(out, cloneRecord(r))
	}
	for _, r := range inMemory {
		i := find(out, r.Code)
		if i < 0 {
			out = append(out, cloneRecord(r))
			continue
		}
		if out[i].Status == nil {
			out[i].Status = make(map[string]model.AccountStatus)
		}
		for id, st := range r.Status {
			if out[i].Status[id] == model.StatusSuccessful {
				continue
			}
			out[i].Status[id] = st
		}
	}
	return out
}

func cloneRecord(r Record) Record {
	c := Record{Code: r.Code, Status: make(map[string]model.AccountStatus, len(r.Status))}
	for id, st := range r.Status {
		c.Status[id] = st
	}
	return c
}

func find(records []Record, code string) int {
	for i, r := range records {
		if r.Code == code {
			return i
		}
	}
	return -1
}

func readRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse results file %s: %w", path, err)
	}
	return records, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
