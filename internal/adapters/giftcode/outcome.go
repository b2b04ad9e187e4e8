package giftcode

import (
	"strings"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

const (
	ErrCodeSuccess           = 20000
	ErrCodeSignError         = 40002
	ErrCodeTimeoutRetry      = 40004
	ErrCodeUsed              = 40005
	ErrCodeTimeError         = 40007
	ErrCodeReceived          = 40008
	ErrCodeNotLogin          = 40009
	ErrCodeSameType          = 40011
	ErrCodeCDKNotFound       = 40014
	ErrCodeCaptchaGetLimit   = 40100
	ErrCodeCaptchaCheckLimit = 40101
	ErrCodeCaptchaCheckError = 40103
)

var outcomeByErrCode = map[int]model.OutcomeKind{
	ErrCodeSuccess:           model.OutcomeRedeemed,
	ErrCodeReceived:          model.OutcomeAlreadyRedeemed,
	ErrCodeSameType:          model.OutcomeAlreadyRedeemed,
	ErrCodeTimeError:         model.OutcomeFatalExpired,
	ErrCodeCDKNotFound:       model.OutcomeFatalInvalid,
	ErrCodeUsed:              model.OutcomeFatalUsed,
	ErrCodeCaptchaCheckError: model.OutcomeRetryableCaptcha,
	ErrCodeSignError:         model.OutcomeRetryableCaptcha,
	ErrCodeTimeoutRetry:      model.OutcomeRetryableCaptcha,
	ErrCodeCaptchaCheckLimit: model.OutcomeRateLimited,
	ErrCodeNotLogin:          model.OutcomeSessionExpired,
}

// Keys are normalized with normalizeMessage.
var outcomeByMessage = map[string]model.OutcomeKind{
	"SUCCESS":                    model.OutcomeRedeemed,
	"RECEIVED":                   model.OutcomeAlreadyRedeemed,
	"SAME TYPE EXCHANGE":         model.OutcomeAlreadyRedeemed,
	"TIME ERROR":                 model.OutcomeFatalExpired,
	"CDK NOT FOUND":              model.OutcomeFatalInvalid,
	"USED":                       model.OutcomeFatalUsed,
	"CAPTCHA CHECK ERROR":        model.OutcomeRetryableCaptcha,
	"SIGN ERROR":                 model.OutcomeRetryableCaptcha,
	"TIMEOUT RETRY":              model.OutcomeRetryableCaptcha,
	"CAPTCHA CHECK TOO FREQUENT": model.OutcomeRateLimited,
	"NOT LOGIN":                  model.OutcomeSessionExpired,
}

// Classify maps a redeem response onto an outcome. err_code decides when it
// is known; the message is the fallback.
func Classify(errCode int, msg string) model.Outcome {
	out := model.Outcome{Kind: model.OutcomeUnknownError, ErrCode: errCode, Message: msg}

	if kind, ok := outcomeByErrCode[errCode]; ok {
		out.Kind = kind
		out.SameType = errCode == ErrCodeSameType
		return out
	}

	norm := normalizeMessage(msg)
	if kind, ok := outcomeByMessage[norm]; ok {
		out.Kind = kind
		out.SameType = norm == "SAME TYPE EXCHANGE"
	}
	return out
}

func normalizeMessage(msg string) string {
	msg = strings.ToUpper(strings.TrimSpace(msg))
	return strings.TrimSpace(strings.TrimRight(msg, ".!"))
}

func isCaptchaRateLimit(errCode int, msg string) bool {
	if errCode == ErrCodeCaptchaGetLimit || errCode == ErrCodeCaptchaCheckLimit {
		return true
	}
	return strings.Contains(strings.ToUpper(msg), "TOO FREQUENT")
}
