package model

import "fmt"

// OutcomeKind is the closed set of semantic results of a redeem call.
type OutcomeKind int

const (
	OutcomeUnknownError OutcomeKind = iota
	OutcomeRedeemed
	OutcomeAlreadyRedeemed
	OutcomeFatalExpired
	OutcomeFatalInvalid
	OutcomeFatalUsed
	OutcomeRetryableCaptcha
	OutcomeRateLimited
	OutcomeSessionExpired
	OutcomeTransportFailure
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeUnknownError:     "UnknownError",
	OutcomeRedeemed:         "Redeemed",
	OutcomeAlreadyRedeemed:  "AlreadyRedeemed",
	OutcomeFatalExpired:     "FatalExpired",
	OutcomeFatalInvalid:     "FatalInvalid",
	OutcomeFatalUsed:        "FatalUsed",
	OutcomeRetryableCaptcha: "RetryableCaptcha",
	OutcomeRateLimited:      "RateLimited",
	OutcomeSessionExpired:   "SessionExpired",
	OutcomeTransportFailure: "TransportFailure",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is a classified server answer. Message and ErrCode keep the raw
// server signal for diagnostics.
type Outcome struct {
	Kind     OutcomeKind
	ErrCode  int
	Message  string
	SameType bool
}

// IsFatal reports whether the outcome invalidates the code for every account.
func (o Outcome) IsFatal() bool {
	switch o.Kind {
	case OutcomeFatalExpired, OutcomeFatalInvalid, OutcomeFatalUsed:
		return true
	}
	return false
}

func (o Outcome) String() string {
	if o.Message == "" {
		return o.Kind.String()
	}
	if o.ErrCode != 0 {
		return fmt.Sprintf("%s (%d %s)", o.Kind, o.ErrCode, o.Message)
	}
	return fmt.Sprintf("%s (%s)", o.Kind, o.Message)
}
