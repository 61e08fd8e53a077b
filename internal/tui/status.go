package tui

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/derailed/tview"
)

// LogLevel represents the severity of a message
type LogLevel int

const (
	LogLevelInfo LogLevel = iota
	LogLevelWarning
	LogLevelError
	LogLevelSuccess
)

// StatusBar shows transient and persistent feedback on a single line
type StatusBar struct {
	mu       sync.Mutex
	view     *tview.TextView
	queue    func(func())
	logger   *log.Logger
	baseline string

	currentStatus    string
	persistentStatus string
	statusTimer      *time.Timer
	clearAfter       time.Duration
}

// NewStatusBar creates a status bar. queue schedules UI updates on the draw loop.
func NewStatusBar(view *tview.TextView, queue func(func()), logger *log.Logger) *StatusBar {
	if queue == nil {
		queue = func(fn func()) { fn() }
	}
	return &StatusBar{
		view:       view,
		queue:      queue,
		logger:     logger,
		baseline:   "casecomms • Tab to move • Ctrl+J to send • Esc to close",
		clearAfter: 5 * time.Second,
	}
}

// HandleError logs err and shows userMsg
func (s *StatusBar) HandleError(err error, userMsg string) {
	if err == nil {
		return
	}
	if s.logger != nil {
		s.logger.Printf("ERROR: %v", err)
	}
	if userMsg == "" {
		userMsg = "An error occurred"
	}
	s.ShowMessage(userMsg, LogLevelError)
}

// ShowMessage displays a message that clears itself after a few seconds
func (s *StatusBar) ShowMessage(msg string, level LogLevel) {
	if strings.TrimSpace(msg) == "" {
		return
	}
	formatted := formatMessage(msg, level)
	if s.logger != nil {
		s.logger.Printf("%s: %s", levelToString(level), msg)
	}
	s.queue(func() { s.setCurrent(formatted) })
}

// ShowProgress shows a message that stays until ClearProgress
func (s *StatusBar) ShowProgress(msg string) {
	formatted := formatMessage(msg, LogLevelInfo)
	s.queue(func() {
		s.mu.Lock()
		s.persistentStatus = formatted
		s.refreshLocked()
		s.mu.Unlock()
	})
}

// ClearProgress clears any progress message
func (s *StatusBar) ClearProgress() {
	s.queue(func() {
		s.mu.Lock()
		s.persistentStatus = ""
		s.refreshLocked()
		s.mu.Unlock()
	})
}

// ShowError shows an error message
func (s *StatusBar) ShowError(msg string) { s.ShowMessage(msg, LogLevelError) }

// ShowSuccess shows a success message
func (s *StatusBar) ShowSuccess(msg string) { s.ShowMessage(msg, LogLevelSuccess) }

// ShowInfo shows an info message
func (s *StatusBar) ShowInfo(msg string) { s.ShowMessage(msg, LogLevelInfo) }

// Text returns what the bar currently displays
func (s *StatusBar) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayLocked()
}

func (s *StatusBar) setCurrent(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statusTimer != nil {
		s.statusTimer.Stop()
	}
	s.currentStatus = msg
	s.refreshLocked()

	s.statusTimer = time.AfterFunc(s.clearAfter, func() {
		s.queue(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			// A newer message may have replaced this one
			if s.currentStatus == msg {
				s.currentStatus = ""
				s.refreshLocked()
			}
		})
	})
}

func (s *StatusBar) displayLocked() string {
	switch {
	case s.currentStatus != "":
		return s.currentStatus
	case s.persistentStatus != "":
		return s.persistentStatus
	default:
		return s.baseline
	}
}

func (s *StatusBar) refreshLocked() {
	if s.view != nil {
		s.view.SetText(s.displayLocked())
	}
}

// Stop cancels the pending auto-clear
func (s *StatusBar) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusTimer != nil {
		s.statusTimer.Stop()
		s.statusTimer = nil
	}
}

func formatMessage(msg string, level LogLevel) string {
	var icon string
	switch level {
	case LogLevelInfo:
		icon = "ℹ️"
	case LogLevelWarning:
		icon = "⚠️"
	case LogLevelError:
		icon = "❌"
	case LogLevelSuccess:
		icon = "✅"
	default:
		icon = "•"
	}
	return fmt.Sprintf("%s %s", icon, msg)
}

func levelToString(level LogLevel) string {
	switch level {
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelSuccess:
		return "SUCCESS"
	default:
		return "UNKNOWN"
	}
}
