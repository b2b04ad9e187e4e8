package model

// Session is the per-account view shared by the worker, the logger and the UI.
type Session struct {
	AccountID   string
	DisplayName string
	AccIdx      int
	Total       int
	Round       int
	Parent      *Session
	Nickname    string
	State       AccountState
	Attempt     int
	LastCaptcha string
}

func NewSession(account Account, index, total int) *Session {
	return &Session{
		AccountID:   account.ID,
		DisplayName: account.DisplayName,
		AccIdx:      index,
		Total:       total,
		State:       StateUnprocessed,
	}
}

func (s *Session) LoggingSession() *Session {
	if s == nil {
		return nil
	}
	if s.Parent != nil {
		return s.Parent.LoggingSession()
	}
	return s
}

func (s *Session) Label() string {
	if s == nil {
		return "-"
	}
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.AccountID
}
