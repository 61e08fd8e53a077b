// Package tui hosts the terminal dialogs for composing messages and
// confirming deletions.
package tui

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/ajramos/casecomms/internal/services"
	"github.com/derailed/tcell/v2"
	"github.com/derailed/tview"
)

const (
	pageCompose = "compose"
	pageDelete  = "delete"
)

// Options configures an App
type Options struct {
	Logger  *log.Logger
	LogFile string
}

// App owns the tview application and the page stack of dialogs
type App struct {
	*tview.Application
	pages  *tview.Pages
	layout *tview.Flex
	status *StatusBar
	ctx    context.Context
	cancel context.CancelFunc

	logger  *log.Logger
	logFile io.Closer

	mu      sync.Mutex
	running bool
	compose *ComposePanel
	deleteD *DeleteDialog
}

// NewApp creates the application shell
func NewApp(ctx context.Context, opts Options) *App {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &App{
		Application: tview.NewApplication(),
		pages:       tview.NewPages(),
		ctx:         ctx,
		cancel:      cancel,
		logger:      opts.Logger,
	}
	a.initLogger(opts.LogFile)

	statusView := tview.NewTextView().SetDynamicColors(true)
	a.status = NewStatusBar(statusView, a.queue, a.logger)
	statusView.SetText(a.status.Text())

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(statusView, 1, 0, false)

	a.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			a.Stop()
			return nil
		}
		return event
	})
	return a
}

// Status returns the shared status bar
func (a *App) Status() *StatusBar {
	return a.status
}

// Context returns the application context; it is cancelled on shutdown
func (a *App) Context() context.Context {
	return a.ctx
}

// ShowCompose opens the compose dialog for ctrl
func (a *App) ShowCompose(ctrl *services.ComposeController, templates []services.MessageTemplate) *ComposePanel {
	panel := NewComposePanel(a, ctrl, templates)
	a.mu.Lock()
	a.compose = panel
	a.mu.Unlock()

	a.pages.AddPage(pageCompose, panel, true, true)
	panel.Activate()
	return panel
}

// ShowDelete opens the delete confirmation dialog for targetID
func (a *App) ShowDelete(ctrl *services.DeleteConfirmationController, targetID string) *DeleteDialog {
	dlg := NewDeleteDialog(a, ctrl)
	a.mu.Lock()
	a.deleteD = dlg
	a.mu.Unlock()

	a.pages.AddPage(pageDelete, dlg, true, true)
	dlg.Start(targetID)
	return dlg
}

// closePage removes a dialog and stops the app once nothing is left
func (a *App) closePage(name string) {
	a.pages.RemovePage(name)
	a.mu.Lock()
	switch name {
	case pageCompose:
		a.compose = nil
	case pageDelete:
		a.deleteD = nil
	}
	empty := a.compose == nil && a.deleteD == nil
	running := a.running
	a.mu.Unlock()

	if empty && running {
		a.Stop()
	}
}

// Run starts the event loop and blocks until it exits
func (a *App) Run() error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		a.status.Stop()
		a.cancel()
		a.closeLogger()
	}()

	if a.logger != nil {
		a.logger.Printf("App: starting")
	}
	a.SetRoot(a.layout, true)
	return a.Application.Run()
}

// queue applies fn on the draw loop, or inline when the loop is not running.
// It never blocks, so it is safe from event handlers and worker goroutines.
func (a *App) queue(fn func()) {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()

	if running {
		go a.QueueUpdateDraw(fn)
		return
	}
	fn()
}
