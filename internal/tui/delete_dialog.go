package tui

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ajramos/casecomms/internal/services"
	"github.com/derailed/tcell/v2"
	"github.com/derailed/tview"
)

// DeleteDialog asks for the one-time code that confirms a deletion
type DeleteDialog struct {
	*tview.Flex
	app  *App
	ctrl *services.DeleteConfirmationController

	prompt        *tview.TextView
	codeField     *tview.InputField
	info          *tview.TextView
	confirmButton *tview.Button
	cancelButton  *tview.Button

	focusable  []tview.Primitive
	focusIndex int

	target    string
	tick      time.Duration
	watchOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewDeleteDialog builds the dialog around ctrl
func NewDeleteDialog(app *App, ctrl *services.DeleteConfirmationController) *DeleteDialog {
	d := &DeleteDialog{
		Flex: tview.NewFlex().SetDirection(tview.FlexRow),
		app:  app,
		ctrl: ctrl,
		tick: time.Second,
		stop: make(chan struct{}),
	}

	d.prompt = tview.NewTextView().SetWrap(true)
	d.codeField = tview.NewInputField().SetLabel("Code: ").SetFieldWidth(12)
	d.codeField.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			d.confirm()
		}
	})
	d.info = tview.NewTextView().SetWrap(true)
	d.confirmButton = tview.NewButton("Confirm")
	d.confirmButton.SetSelectedFunc(d.confirm)
	d.cancelButton = tview.NewButton("Cancel")
	d.cancelButton.SetSelectedFunc(d.cancel)

	buttons := tview.NewFlex().
		AddItem(tview.NewBox(), 0, 1, false).
		AddItem(d.confirmButton, 16, 0, false).
		AddItem(tview.NewBox(), 2, 0, false).
		AddItem(d.cancelButton, 10, 0, false).
		AddItem(tview.NewBox(), 0, 1, false)

	d.SetBorder(true)
	d.SetTitle(" Confirm deletion ")
	d.AddItem(d.prompt, 3, 0, false).
		AddItem(d.codeField, 1, 0, true).
		AddItem(d.info, 0, 1, false).
		AddItem(buttons, 1, 0, false)
	d.focusable = []tview.Primitive{d.codeField, d.confirmButton, d.cancelButton}

	d.Flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			d.cancel()
			return nil
		case tcell.KeyTab:
			d.focusIndex = (d.focusIndex + 1) % len(d.focusable)
			d.app.SetFocus(d.focusable[d.focusIndex])
			return nil
		case tcell.KeyBacktab:
			d.focusIndex = (d.focusIndex - 1 + len(d.focusable)) % len(d.focusable)
			d.app.SetFocus(d.focusable[d.focusIndex])
			return nil
		}
		return event
	})
	return d
}

// Start requests a code for targetID in the background
func (d *DeleteDialog) Start(targetID string) {
	d.target = targetID
	d.render()
	d.app.SetFocus(d.codeField)
	go d.initiate()
}

func (d *DeleteDialog) initiate() {
	d.app.status.ShowProgress(fmt.Sprintf("Requesting a verification code for %s...", d.target))
	err := d.ctrl.Initiate(d.app.ctx, d.target)
	d.app.status.ClearProgress()
	d.app.queue(func() { d.finishInitiate(err) })
}

func (d *DeleteDialog) finishInitiate(err error) {
	d.render()
	if err != nil {
		if !errors.Is(err, services.ErrDialogClosed) {
			d.app.status.ShowError(messageOr(d.ctrl.Message(), err))
		}
		return
	}
	d.app.status.ShowInfo("Verification code sent")
	d.startExpiryWatch()
}

// confirm submits the typed code, or retries the request after a failed one
func (d *DeleteDialog) confirm() {
	switch state := d.ctrl.State(); {
	case state.Terminal():
		d.close()
		return
	case state == services.DeleteIdle && d.ctrl.TargetID() != "":
		go d.initiate()
		return
	case state != services.DeleteOTPPending:
		return
	}

	code := d.codeField.GetText()
	d.confirmButton.SetLabel("Checking")
	go func() {
		err := d.ctrl.SubmitOTP(d.app.ctx, code)
		d.app.queue(func() { d.finishConfirm(err) })
	}()
}

func (d *DeleteDialog) finishConfirm(err error) {
	d.codeField.SetText("")
	d.render()

	switch d.ctrl.State() {
	case services.DeleteConfirmed:
		d.stopWatch()
		d.app.status.ShowSuccess(fmt.Sprintf("%s deleted", d.target))
		d.app.closePage(pageDelete)
	case services.DeleteExpired:
		d.stopWatch()
		d.app.status.ShowError(messageOr(d.ctrl.Message(), err))
	default:
		if err != nil {
			d.app.status.ShowError(messageOr(d.ctrl.Message(), err))
		}
	}
}

// cancel abandons the dialog; the server request is left to lapse
func (d *DeleteDialog) cancel() {
	if err := d.ctrl.Cancel(); err != nil && !errors.Is(err, services.ErrInvalidState) {
		d.app.status.HandleError(err, "Could not cancel the delete request")
	}
	d.close()
}

func (d *DeleteDialog) close() {
	d.stopWatch()
	d.app.closePage(pageDelete)
}

// startExpiryWatch polls the controller until the request expires or the dialog closes
func (d *DeleteDialog) startExpiryWatch() {
	d.watchOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(d.tick)
			defer ticker.Stop()
			for {
				select {
				case <-d.stop:
					return
				case <-d.app.ctx.Done():
					return
				case <-ticker.C:
					if d.ctrl.State().Terminal() {
						return
					}
					if d.ctrl.CheckExpiry(d.app.ctx) {
						d.app.queue(func() {
							d.render()
							d.app.status.ShowError(d.ctrl.Message())
						})
						return
					}
				}
			}
		}()
	})
}

func (d *DeleteDialog) stopWatch() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// render mirrors the controller state into the dialog
func (d *DeleteDialog) render() {
	state := d.ctrl.State()
	d.prompt.SetText(deletePrompt(state, d.target, d.ctrl.RemainingAttempts()))
	d.info.SetText(d.ctrl.Message())
	d.confirmButton.SetLabel(confirmLabel(state))
}

func deletePrompt(state services.DeleteState, target string, remaining int) string {
	switch state {
	case services.DeleteIdle:
		return fmt.Sprintf("Delete %s? A verification code is required to continue.", target)
	case services.DeleteRequesting:
		return fmt.Sprintf("Delete %s? Requesting a verification code...", target)
	case services.DeleteOTPPending, services.DeleteRejected:
		return fmt.Sprintf("Enter the verification code to delete %s. %s", target, attemptsLine(remaining))
	case services.DeleteConfirming:
		return "Checking code..."
	case services.DeleteConfirmed:
		return fmt.Sprintf("%s was deleted.", target)
	case services.DeleteExpired:
		return "This delete request has expired. Close the dialog and start again."
	case services.DeleteAbandoned:
		return "Deletion cancelled."
	default:
		return ""
	}
}

func attemptsLine(remaining int) string {
	if remaining == 1 {
		return "1 attempt left."
	}
	return fmt.Sprintf("%d attempts left.", remaining)
}

func confirmLabel(state services.DeleteState) string {
	switch {
	case state.Terminal():
		return "Close"
	case state == services.DeleteIdle:
		return "Request code"
	case state == services.DeleteConfirming:
		return "Checking"
	default:
		return "Confirm"
	}
}

func messageOr(msg string, err error) string {
	if msg != "" || err == nil {
		return msg
	}
	return err.Error()
}
