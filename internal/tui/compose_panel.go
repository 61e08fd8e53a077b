package tui

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ajramos/casecomms/internal/render"
	"github.com/ajramos/casecomms/internal/services"
	"github.com/derailed/tcell/v2"
	"github.com/derailed/tview"
)

const candidateWidth = 60

// ComposePanel is the compose dialog. All draft state lives in the controller;
// the panel only mirrors it.
type ComposePanel struct {
	*tview.Flex
	app       *App
	ctrl      *services.ComposeController
	resolver  *services.RecipientResolver
	channel   services.Channel
	templates []services.MessageTemplate
	tplIndex  int

	fields       []services.Field
	inputs       map[services.Field]*tview.InputField
	chips        map[services.Field]*tview.TextView
	subjectField *tview.InputField
	body         *BodyEditor
	candidates   *tview.List
	errorsView   *tview.TextView
	sendButton   *tview.Button
	cancelButton *tview.Button

	focusable  []tview.Primitive
	focusIndex int
	active     services.Field
	shown      []services.RecipientCandidate
	suppress   bool
}

// NewComposePanel builds the form for the controller's channel
func NewComposePanel(app *App, ctrl *services.ComposeController, templates []services.MessageTemplate) *ComposePanel {
	p := &ComposePanel{
		Flex:      tview.NewFlex().SetDirection(tview.FlexRow),
		app:       app,
		ctrl:      ctrl,
		resolver:  ctrl.Resolver(),
		channel:   services.ChannelEmail,
		templates: templates,
		inputs:    make(map[services.Field]*tview.InputField),
		chips:     make(map[services.Field]*tview.TextView),
		active:    services.FieldTo,
	}
	if d := ctrl.Draft(); d != nil {
		p.channel = d.Channel
	}
	for _, f := range services.AllFields {
		if f.AllowedFor(p.channel) {
			p.fields = append(p.fields, f)
		}
	}

	p.createComponents()
	p.setupLayout()
	p.setupInputHandling()

	if p.resolver != nil {
		p.resolver.OnChange(func(f services.Field) {
			p.app.queue(func() { p.refreshField(f) })
		})
	}
	for _, f := range p.fields {
		p.refreshChips(f)
	}
	p.refreshCandidates()
	return p
}

func (p *ComposePanel) createComponents() {
	for _, f := range p.fields {
		field := f
		input := tview.NewInputField().
			SetLabel(fieldLabel(field)).
			SetFieldWidth(0).
			SetPlaceholder("type to search")
		input.SetChangedFunc(func(text string) { p.onQuery(field, text) })
		p.inputs[field] = input
		p.chips[field] = tview.NewTextView().SetDynamicColors(false)
	}

	if p.channel == services.ChannelEmail {
		p.subjectField = tview.NewInputField().SetLabel(fmt.Sprintf("%-9s", "Subject:")).SetFieldWidth(0)
		p.subjectField.SetChangedFunc(func(text string) {
			if p.suppress {
				return
			}
			p.report(p.ctrl.SetSubject(text))
		})
	}

	p.body = NewBodyEditor().SetChangedFunc(func(text string) {
		p.report(p.ctrl.SetBody(text))
	})
	p.body.SetBorder(true)
	p.body.SetTitle(" Message ")

	p.candidates = tview.NewList().ShowSecondaryText(false)
	p.candidates.SetBorder(true)
	p.candidates.SetSelectedFunc(func(i int, _ string, _ string, _ rune) {
		p.toggleIndex(i)
	})

	p.errorsView = tview.NewTextView().SetDynamicColors(false).SetWrap(true)

	p.sendButton = tview.NewButton("Send")
	p.sendButton.SetSelectedFunc(p.send)
	p.cancelButton = tview.NewButton("Cancel")
	p.cancelButton.SetSelectedFunc(p.close)
}

func (p *ComposePanel) setupLayout() {
	title := "New email"
	if p.channel == services.ChannelSMS {
		title = "New text message"
	}
	p.SetBorder(true)
	p.SetTitle(" " + title + " ")

	for _, f := range p.fields {
		p.AddItem(p.inputs[f], 1, 0, false)
		p.AddItem(p.chips[f], 1, 0, false)
		p.focusable = append(p.focusable, p.inputs[f])
	}
	if p.subjectField != nil {
		p.AddItem(p.subjectField, 1, 0, false)
		p.focusable = append(p.focusable, p.subjectField)
	}
	p.AddItem(p.body, 0, 1, false)
	p.AddItem(p.candidates, 8, 0, false)
	p.AddItem(p.errorsView, 2, 0, false)

	buttons := tview.NewFlex().
		AddItem(tview.NewBox(), 0, 1, false).
		AddItem(p.sendButton, 10, 0, false).
		AddItem(tview.NewBox(), 2, 0, false).
		AddItem(p.cancelButton, 10, 0, false).
		AddItem(tview.NewBox(), 0, 1, false)
	p.AddItem(buttons, 1, 0, false)

	p.focusable = append(p.focusable, p.body, p.candidates, p.sendButton, p.cancelButton)
}

func (p *ComposePanel) setupInputHandling() {
	p.Flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			p.close()
			return nil
		case tcell.KeyTab:
			p.focusNext()
			return nil
		case tcell.KeyBacktab:
			p.focusPrevious()
			return nil
		case tcell.KeyCtrlJ:
			p.send()
			return nil
		case tcell.KeyCtrlT:
			p.nextTemplate()
			return nil
		}
		return event
	})

	for _, f := range p.fields {
		field := f
		input := p.inputs[field]
		input.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			switch event.Key() {
			case tcell.KeyDown:
				p.focusOn(p.candidates)
				return nil
			case tcell.KeyEnter:
				p.toggleIndex(0)
				return nil
			case tcell.KeyBackspace, tcell.KeyBackspace2:
				if input.GetText() == "" {
					p.removeLast(field)
					return nil
				}
			}
			return event
		})
	}
}

// Activate focuses the To field and loads the conversation's contacts
func (p *ComposePanel) Activate() {
	p.focusOn(p.inputs[services.FieldTo])
	go p.loadDefaults()
}

func (p *ComposePanel) loadDefaults() {
	if p.resolver == nil {
		return
	}
	if err := p.resolver.LoadDefaults(p.app.ctx); err != nil && !errors.Is(err, services.ErrDialogClosed) {
		p.app.status.HandleError(err, "Could not load contacts for this conversation")
	}
}

// onQuery forwards typed text to the resolver
func (p *ComposePanel) onQuery(f services.Field, text string) {
	if p.suppress || p.resolver == nil {
		return
	}
	p.active = f
	if err := p.resolver.SetQuery(f, text); err != nil {
		p.report(err)
		return
	}
	p.refreshCandidates()
}

// toggleIndex selects or deselects the i-th visible candidate
func (p *ComposePanel) toggleIndex(i int) {
	if i < 0 || i >= len(p.shown) {
		return
	}
	c := p.shown[i]
	added, err := p.ctrl.ToggleRecipient(p.active, c)
	if err != nil {
		p.report(err)
		return
	}
	if added {
		p.app.status.ShowInfo(fmt.Sprintf("Added %s", recipientLabel(c)))
		p.clearQuery(p.active)
	} else {
		p.app.status.ShowInfo(fmt.Sprintf("Removed %s", recipientLabel(c)))
	}
	p.refreshField(p.active)
	p.refreshErrors()
}

// removeLast drops the most recently selected recipient of f
func (p *ComposePanel) removeLast(f services.Field) {
	sel := p.selected(f)
	if len(sel) == 0 {
		return
	}
	last := sel[len(sel)-1]
	if err := p.ctrl.RemoveRecipient(f, last.Address); err != nil {
		p.report(err)
		return
	}
	p.refreshField(f)
}

func (p *ComposePanel) clearQuery(f services.Field) {
	input, ok := p.inputs[f]
	if !ok || input.GetText() == "" {
		return
	}
	p.suppress = true
	input.SetText("")
	p.suppress = false
	if p.resolver != nil {
		p.report(p.resolver.SetQuery(f, ""))
	}
}

// send submits in the background; the controller rejects double submission
func (p *ComposePanel) send() {
	if p.ctrl.State() == services.ComposeSubmitting {
		p.app.status.ShowMessage("Already sending", LogLevelWarning)
		return
	}
	p.sendButton.SetLabel("Sending")
	p.app.status.ShowProgress("Sending message...")
	go func() {
		err := p.ctrl.Submit(p.app.ctx)
		p.app.queue(func() { p.finishSend(err) })
	}()
}

func (p *ComposePanel) finishSend(err error) {
	p.app.status.ClearProgress()
	p.sendButton.SetLabel("Send")
	p.refreshErrors()

	if err == nil {
		msg := p.ctrl.Message()
		if msg == "" {
			msg = "Message sent"
		}
		p.app.status.ShowSuccess(msg)
		p.app.closePage(pageCompose)
		return
	}
	p.app.status.ShowError(submitMessage(err, p.ctrl.Message()))
}

// close discards the draft unless a submission is still in flight
func (p *ComposePanel) close() {
	if err := p.ctrl.Close(); err != nil {
		if errors.Is(err, services.ErrSubmitInFlight) {
			p.app.status.ShowMessage("Sending in progress, please wait", LogLevelWarning)
			return
		}
		p.report(err)
	}
	p.app.closePage(pageCompose)
}

// nextTemplate cycles through the channel's templates
func (p *ComposePanel) nextTemplate() {
	if len(p.templates) == 0 {
		p.app.status.ShowInfo(fmt.Sprintf("No %s templates available", p.channel))
		return
	}
	tpl := p.templates[p.tplIndex%len(p.templates)]
	p.tplIndex++

	if err := p.ctrl.ApplyTemplate(&tpl, templateVars(p.ctrl.Draft())); err != nil {
		p.report(err)
		return
	}
	if d := p.ctrl.Draft(); d != nil {
		p.suppress = true
		if p.subjectField != nil {
			p.subjectField.SetText(d.Subject)
		}
		p.body.SetText(d.Body)
		p.suppress = false
	}
	p.app.status.ShowInfo(fmt.Sprintf("Applied template %q", tpl.Name))
}

// refreshField redraws the selection line and, for the active field, the candidates
func (p *ComposePanel) refreshField(f services.Field) {
	p.refreshChips(f)
	if f == p.active {
		p.refreshCandidates()
	}
}

func (p *ComposePanel) refreshChips(f services.Field) {
	if chips, ok := p.chips[f]; ok {
		chips.SetText(formatSelected(p.selected(f)))
	}
}

func (p *ComposePanel) refreshCandidates() {
	p.candidates.Clear()
	p.shown = nil
	if p.resolver == nil {
		return
	}

	title := fmt.Sprintf(" %s suggestions ", strings.TrimSuffix(strings.TrimSpace(fieldLabel(p.active)), ":"))
	switch {
	case p.resolver.Loading(p.active):
		title = " Searching... "
	case p.resolver.FieldError(p.active) != nil:
		title = " Search failed, keep typing to retry "
	case p.resolver.Query(p.active) == "" && p.resolver.DefaultsError() != nil:
		title = " Contacts unavailable "
	}
	p.candidates.SetTitle(title)

	p.shown = p.resolver.Candidates(p.active)
	sel := p.selected(p.active)
	for _, c := range p.shown {
		mark := "  "
		if sel.Contains(p.channel, c.Address) {
			mark = "✓ "
		}
		p.candidates.AddItem(mark+candidateLabel(c, candidateWidth), "", 0, nil)
	}
}

func (p *ComposePanel) refreshErrors() {
	p.errorsView.SetText(formatFieldErrors(p.ctrl.FieldErrors()))
}

func (p *ComposePanel) selected(f services.Field) services.SelectedRecipients {
	if p.resolver == nil {
		d := p.ctrl.Draft()
		if d == nil {
			return nil
		}
		switch f {
		case services.FieldFrom:
			if d.From != nil {
				return services.SelectedRecipients{*d.From}
			}
			return nil
		case services.FieldCc:
			return d.Cc
		case services.FieldBcc:
			return d.Bcc
		default:
			return d.To
		}
	}
	if f == services.FieldFrom {
		if from := p.resolver.From(); from != nil {
			return services.SelectedRecipients{*from}
		}
		return nil
	}
	return p.resolver.Selected(f)
}

func (p *ComposePanel) report(err error) {
	if err == nil {
		return
	}
	p.app.status.HandleError(err, err.Error())
}

func (p *ComposePanel) focusOn(target tview.Primitive) {
	for i, item := range p.focusable {
		if item == target {
			p.focusIndex = i
			p.focusCurrent()
			return
		}
	}
}

func (p *ComposePanel) focusNext() {
	if len(p.focusable) == 0 {
		return
	}
	p.focusIndex = (p.focusIndex + 1) % len(p.focusable)
	p.focusCurrent()
}

func (p *ComposePanel) focusPrevious() {
	if len(p.focusable) == 0 {
		return
	}
	p.focusIndex = (p.focusIndex - 1 + len(p.focusable)) % len(p.focusable)
	p.focusCurrent()
}

// focusCurrent focuses the current item; recipient inputs become the active field
func (p *ComposePanel) focusCurrent() {
	if p.focusIndex >= len(p.focusable) {
		return
	}
	item := p.focusable[p.focusIndex]
	for f, input := range p.inputs {
		if item == input && p.active != f {
			p.active = f
			p.refreshCandidates()
			break
		}
	}
	p.app.SetFocus(item)
}

func fieldLabel(f services.Field) string {
	var label string
	switch f {
	case services.FieldFrom:
		label = "From:"
	case services.FieldTo:
		label = "To:"
	case services.FieldCc:
		label = "Cc:"
	case services.FieldBcc:
		label = "Bcc:"
	default:
		label = string(f) + ":"
	}
	return fmt.Sprintf("%-9s", label)
}

func recipientLabel(c services.RecipientCandidate) string {
	if c.DisplayName == "" || c.DisplayName == c.Address {
		return c.Address
	}
	return fmt.Sprintf("%s <%s>", c.DisplayName, c.Address)
}

func candidateLabel(c services.RecipientCandidate, width int) string {
	return render.Truncate(recipientLabel(c), width)
}

// formatSelected renders a field's selection as a single line of chips
func formatSelected(sel services.SelectedRecipients) string {
	if len(sel) == 0 {
		return ""
	}
	parts := make([]string, len(sel))
	for i, c := range sel {
		parts[i] = "[" + recipientLabel(c) + "]"
	}
	return "         " + strings.Join(parts, " ")
}

// formatFieldErrors renders field errors in a stable order
func formatFieldErrors(errs map[string][]string) string {
	if len(errs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, strings.Join(errs[k], "; ")))
	}
	return strings.Join(lines, "\n")
}

// submitMessage picks the status line for a failed submission
func submitMessage(err error, serverMsg string) string {
	switch services.ErrorKindOf(err) {
	case services.KindClientValidation:
		return "Please fix the highlighted fields"
	case services.KindServerValidation:
		if serverMsg != "" {
			return serverMsg
		}
		return "The server rejected some fields"
	case services.KindServerRejection, services.KindTransport:
		msg := serverMsg
		if msg == "" {
			msg = err.Error()
			if services.ErrorKindOf(err) == services.KindTransport {
				msg = services.MsgGenericNetwork
			}
		}
		if services.IsRetryableError(err) {
			msg += " Press Ctrl+J to retry."
		}
		return msg
	}
	return err.Error()
}

// templateVars exposes the draft's participants to templates
func templateVars(d *services.ComposeDraft) map[string]string {
	vars := map[string]string{}
	if d == nil {
		return vars
	}
	if len(d.To) > 0 {
		vars["name"] = d.To[0].DisplayName
		if parts := strings.Fields(d.To[0].DisplayName); len(parts) > 0 {
			vars["first_name"] = parts[0]
		}
	}
	if d.From != nil {
		vars["sender"] = d.From.DisplayName
	}
	return vars
}
