package model

import "time"

// Account is one roster entry. ID is the game's numeric FID.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"original_name"`
}

// AccountStatus is the durable per-code result for an account.
type AccountStatus string

const (
	StatusUnprocessed  AccountStatus = ""
	StatusSuccessful   AccountStatus = "Successful"
	StatusUnsuccessful AccountStatus = "Unsuccessful"
)

func (s AccountStatus) String() string {
	if s == StatusUnprocessed {
		return "Unprocessed"
	}
	return string(s)
}

// AccountState is the position of an account inside the redemption state machine.
type AccountState int

const (
	StateUnprocessed AccountState = iota
	StateAuthenticated
	StateCaptchaSolving
	StateRedeeming
	StateSuccessful
	StateUnsuccessful
	StateCooldown
)

var accountStateNames = map[AccountState]string{
	StateUnprocessed:    "UNPROCESSED",
	StateAuthenticated:  "AUTHENTICATED",
	StateCaptchaSolving: "SOLVING CAPTCHA",
	StateRedeeming:      "REDEEMING",
	StateSuccessful:     "SUCCESSFUL",
	StateUnsuccessful:   "UNSUCCESSFUL",
	StateCooldown:       "COOLDOWN",
}

func (s AccountState) String() string {
	if name, ok := accountStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether s ends a round for the account.
func (s AccountState) Terminal() bool {
	return s == StateSuccessful || s == StateUnsuccessful || s == StateCooldown
}

// CooldownReason explains why an account was deferred.
type CooldownReason string

const (
	CooldownReasonNone             CooldownReason = ""
	CooldownReasonRateLimited      CooldownReason = "rate_limited"
	CooldownReasonCaptchaExhausted CooldownReason = "captcha_exhausted"
	CooldownReasonCaptchaRejected  CooldownReason = "captcha_rejected"
)

// CooldownEntry defers an account until EligibleAt.
type CooldownEntry struct {
	AccountID  string
	EligibleAt time.Time
	Reason     CooldownReason
}
