package logger

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/ui"
	"github.com/ohmynofan/wos-giftcode-bot/pkg/utils"
)

var (
	fileLogger *log.Logger
	once       sync.Once
	logFile    *os.File
)

func Init(path string) error {
	var err error
	once.Do(func() {
		os.Remove(path)
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return
		}
		logFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		fileLogger = log.New(logFile, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	})
	return err
}

func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

type ClassLogger struct {
	class   string
	session *model.Session
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewLogger(v interface{}, session *model.Session) *ClassLogger {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return &ClassLogger{class: t.Name(), session: normalizeSession(session)}
}

func NewNamed(name string, session *model.Session) *ClassLogger {
	return &ClassLogger{class: name, session: normalizeSession(session)}
}

func normalizeSession(session *model.Session) *model.Session {
	if session == nil {
		return nil
	}
	return session.LoggingSession()
}

// WithSession returns a copy of l bound to another account.
func (l *ClassLogger) WithSession(session *model.Session) *ClassLogger {
	return &ClassLogger{class: l.class, session: normalizeSession(session), sleep: l.sleep}
}

// WithSleeper returns a copy of l whose Wait sleeps through sleep.
func (l *ClassLogger) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *ClassLogger {
	return &ClassLogger{class: l.class, session: l.session, sleep: sleep}
}

// Log writes msg to the log file and mirrors it into the account's status line.
func (l *ClassLogger) Log(msg string) {
	l.write(msg)

	if session := l.session; session != nil {
		ui.UpdateStatus(*session, shortenForDisplay(msg), 0)
	}
}

// Wait shows a countdown for d and sleeps until it elapses or ctx is cancelled.
func (l *ClassLogger) Wait(ctx context.Context, msg string, d time.Duration) error {
	l.write(fmt.Sprintf("%s (%s)", msg, d))

	sleep := l.sleep
	if sleep == nil {
		sleep = utils.Sleep
	}

	session := l.session
	if session == nil {
		return sleep(ctx, d)
	}

	displayMsg := shortenForDisplay(msg)
	interval := 1 * time.Second
	for remaining := d; remaining > 0; remaining -= interval {
		ui.UpdateStatus(*session, displayMsg, remaining)

		sleepTime := interval
		if remaining < interval {
			sleepTime = remaining
		}
		if err := sleep(ctx, sleepTime); err != nil {
			return err
		}
	}

	ui.UpdateStatus(*session, displayMsg, 0)
	return nil
}

func (l *ClassLogger) JustLog(msg string) {
	l.write(msg)
}

func (l *ClassLogger) LogObject(msg string, obj interface{}) {
	if fileLogger != nil {
		formattedString, err := utils.FormatObject(obj)
		if err != nil {
			l.JustLog(fmt.Sprintf("Error formatting object: %v", err))
			return
		}
		l.JustLog(fmt.Sprintf("%s : \n%v", msg, formattedString))
	}
}

func (l *ClassLogger) write(msg string) {
	if fileLogger == nil {
		return
	}
	funcName := callerFunc(3)
	if session := l.session; session != nil {
		label := fmt.Sprintf("Account %d %s", session.AccIdx+1, session.AccountID)
		fileLogger.Printf("[%s][%s][%s] %s", l.class, label, funcName, msg)
		return
	}
	fileLogger.Printf("[%s][%s] %s", l.class, funcName, msg)
}

func callerFunc(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	parts := strings.Split(fn.Name(), ".")
	return parts[len(parts)-1]
}

func shortenForDisplay(msg string) string {
	const maxLen = 140
	runes := []rune(msg)
	if len(runes) <= maxLen {
		return msg
	}
	return string(runes[:maxLen-1]) + "…"
}
