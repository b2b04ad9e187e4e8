package ui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

var (
	spinners = make(map[string]*pterm.SpinnerPrinter)
	plain    bool
	started  bool
	mu       sync.Mutex
)

// Summary is the operator-facing tally printed after each round.
type Summary struct {
	Code            string
	Round           int
	Total           int
	PreExisting     int
	Redeemed        int
	AlreadyRedeemed int
	Failed          int
	Cooling         int
	Pending         int
	CaptchaFetched  int
	CaptchaSolved   int
	CaptchaMissed   int
	CaptchaRejected int
	ByMethod        map[string]int
}

// StartUISystem selects the output mode. Plain mode emits one line per event
// so a supervising process can consume stdout incrementally.
func StartUISystem(plainOutput bool) {
	mu.Lock()
	defer mu.Unlock()
	plain = plainOutput
	started = true
	if plain {
		pterm.DisableStyling()
	}
}

func StopUISystem() {
	mu.Lock()
	defer mu.Unlock()
	for id, spinner := range spinners {
		_ = spinner.Stop()
		delete(spinners, id)
	}
	started = false
}

func UpdateStatus(session model.Session, status string, remainingDelay time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	updateStatusLocked(session, status, remainingDelay)
}

func updateStatusLocked(session model.Session, status string, remainingDelay time.Duration) {
	if !started {
		return
	}
	if plain {
		line := fmt.Sprintf("[%d/%d] %s (%s) %s: %s", session.AccIdx+1, session.Total, session.Label(), session.AccountID, session.State, status)
		if remainingDelay > 0 {
			line += " | wait " + FormatDelay(remainingDelay)
		}
		pterm.Info.Println(line)
		return
	}

	content := fmt.Sprintf(`
============ Account %d / %d ============
Player   : %s
FID      : %s
Nickname : %s
Round    : %d
State    : %s
Captcha  : %s

Status   : %s
Delay    : %s
=========================================`,
		session.AccIdx+1,
		session.Total,
		session.Label(),
		session.AccountID,
		defaultString(session.Nickname, "-"),
		session.Round,
		session.State,
		defaultString(session.LastCaptcha, "-"),
		status,
		FormatDelay(remainingDelay))

	if spinner, ok := spinners[session.AccountID]; ok {
		spinner.UpdateText(content)
	} else {
		spinner, _ := pterm.DefaultSpinner.
			WithRemoveWhenDone(false).
			Start(content)
		spinners[session.AccountID] = spinner
	}
}

func SetSpinnerSuccess(session model.Session, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}
	if plain {
		pterm.Success.Println(fmt.Sprintf("[%d/%d] %s (%s): %s", session.AccIdx+1, session.Total, session.Label(), session.AccountID, finalMessage))
		return
	}
	if spinner, ok := spinners[session.AccountID]; ok {
		spinner.Success(finalMessage)
		delete(spinners, session.AccountID)
	}
}

func SetSpinnerError(session model.Session, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}
	if plain {
		pterm.Error.Println(fmt.Sprintf("[%d/%d] %s (%s): %s", session.AccIdx+1, session.Total, session.Label(), session.AccountID, finalMessage))
		return
	}
	if spinner, ok := spinners[session.AccountID]; ok {
		spinner.Fail(finalMessage)
		delete(spinners, session.AccountID)
	}
}

func SetSpinnerWarning(session model.Session, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}
	if plain {
		pterm.Warning.Println(fmt.Sprintf("[%d/%d] %s (%s): %s", session.AccIdx+1, session.Total, session.Label(), session.AccountID, finalMessage))
		return
	}
	if spinner, ok := spinners[session.AccountID]; ok {
		spinner.Warning(finalMessage)
		delete(spinners, session.AccountID)
	}
}

func PrintRound(round, pending, cooling int) {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}
	header := fmt.Sprintf("Round %d | pending %d | cooling down %d", round, pending, cooling)
	if plain {
		pterm.Info.Println(header)
		return
	}
	pterm.DefaultSection.Println(header)
}

func PrintMessage(msg string) {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}
	pterm.Info.Println(msg)
}

func PrintFatal(msg string) {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}
	pterm.Error.Println(msg)
}

func PrintSummary(s Summary, final bool) {
	mu.Lock()
	defer mu.Unlock()
	if !started {
		return
	}

	title := fmt.Sprintf("Round %d summary", s.Round)
	if final {
		title = "FINAL RESULTS"
	}

	rows := pterm.TableData{
		{"Metric", "Value"},
		{"Code", s.Code},
		{"Total players", fmt.Sprint(s.Total)},
		{"Successful (new)", fmt.Sprint(s.Redeemed)},
		{"Already redeemed", fmt.Sprint(s.AlreadyRedeemed)},
		{"Successful (previous runs)", fmt.Sprint(s.PreExisting)},
		{"Failed", fmt.Sprint(s.Failed)},
		{"Cooling down", fmt.Sprint(s.Cooling)},
		{"Pending", fmt.Sprint(s.Pending)},
		{"Captcha fetched", fmt.Sprint(s.CaptchaFetched)},
		{"Captcha recognized", fmt.Sprint(s.CaptchaSolved)},
		{"Captcha unrecognized", fmt.Sprint(s.CaptchaMissed)},
		{"Captcha rejected by server", fmt.Sprint(s.CaptchaRejected)},
	}
	if methods := formatMethods(s.ByMethod); methods != "" {
		rows = append(rows, []string{"Winning transforms", methods})
	}

	if plain {
		pterm.Info.Println("=== " + title + " ===")
		for _, row := range rows[1:] {
			pterm.Info.Println(fmt.Sprintf("%s: %s", row[0], row[1]))
		}
		return
	}

	pterm.DefaultSection.Println(title)
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func FormatDelay(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d H %02d M %02d S", h, m, s)
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func formatMethods(byMethod map[string]int) string {
	if len(byMethod) == 0 {
		return ""
	}
	names := make([]string, 0, len(byMethod))
	for name := range byMethod {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if byMethod[names[i]] != byMethod[names[j]] {
			return byMethod[names[i]] > byMethod[names[j]]
		}
		return names[i] < names[j]
	})

	var builder strings.Builder
	for i, name := range names {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(fmt.Sprintf("%s=%d", name, byMethod[name]))
	}
	return builder.String()
}
