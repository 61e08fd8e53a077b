package tui

import (
	"io"
	"log"
	"os"
	"path/filepath"
)

// OpenLogger opens an append-only file logger. An empty path logs to
// ~/.config/casecomms/casecomms.log. The returned closer releases the file.
func OpenLogger(path string) (*log.Logger, io.Closer, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(home, ".config", "casecomms", "casecomms.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return log.New(f, "[casecomms] ", log.LstdFlags|log.Lmicroseconds), f, nil
}

// initLogger attaches a file logger unless one was injected
func (a *App) initLogger(path string) {
	if a.logger != nil {
		return
	}
	if logger, closer, err := OpenLogger(path); err == nil {
		a.logger = logger
		a.logFile = closer
	}
}

// closeLogger closes the log file if opened
func (a *App) closeLogger() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}
