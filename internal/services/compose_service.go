package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ComposeState is the lifecycle state of a compose dialog
type ComposeState string

const (
	ComposeEditing          ComposeState = "editing"
	ComposeSubmitting       ComposeState = "submitting"
	ComposeSuccess          ComposeState = "success"
	ComposeValidationFailed ComposeState = "validation_failed"
	ComposeNetworkError     ComposeState = "network_error"
	ComposeClosed           ComposeState = "closed"
)

// Terminal reports whether no further transitions are possible
func (s ComposeState) Terminal() bool {
	return s == ComposeSuccess || s == ComposeClosed
}

// ComposeEvent drives NextComposeState
type ComposeEvent string

const (
	ComposeEventEdit     ComposeEvent = "edit"
	ComposeEventSubmit   ComposeEvent = "submit"
	ComposeEventAccepted ComposeEvent = "accepted" // apiStatus=true
	ComposeEventRejected ComposeEvent = "rejected" // apiStatus=false, with or without field errors
	ComposeEventFailed   ComposeEvent = "failed"   // transport failure
	ComposeEventClose    ComposeEvent = "close"
)

// NextComposeState is the compose transition function. A failed submission is
// left by editing or by submitting again, which passes back through editing.
func NextComposeState(state ComposeState, event ComposeEvent) (ComposeState, error) {
	if state.Terminal() {
		return state, ErrDialogClosed
	}
	if state == ComposeSubmitting {
		switch event {
		case ComposeEventAccepted:
			return ComposeSuccess, nil
		case ComposeEventRejected:
			return ComposeValidationFailed, nil
		case ComposeEventFailed:
			return ComposeNetworkError, nil
		case ComposeEventEdit, ComposeEventSubmit, ComposeEventClose:
			return state, ErrSubmitInFlight
		}
		return state, fmt.Errorf("%w: %s while %s", ErrInvalidState, event, state)
	}

	// editing, validation_failed, network_error
	switch event {
	case ComposeEventEdit:
		return ComposeEditing, nil
	case ComposeEventSubmit:
		return ComposeSubmitting, nil
	case ComposeEventClose:
		return ComposeClosed, nil
	}
	return state, fmt.Errorf("%w: %s while %s", ErrInvalidState, event, state)
}

// ComposeController owns one draft and drives it through validation and submission
type ComposeController struct {
	mu sync.Mutex

	state     ComposeState
	draft     *ComposeDraft
	submitter MessageSubmissionService
	resolver  *RecipientResolver

	fieldErrors map[string][]string
	message     string
	lastErr     error

	onSent    func()
	sentFired bool

	now    func() time.Time
	logger *log.Logger
}

// NewComposeController creates a controller with an empty draft for channel.
// resolver may be nil; recipient selection then lives only on the draft.
func NewComposeController(channel Channel, submitter MessageSubmissionService, resolver *RecipientResolver) (*ComposeController, error) {
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if resolver != nil && resolver.Channel() != channel {
		return nil, fmt.Errorf("%w: resolver is for %s, draft is %s", ErrInvalidChannel, resolver.Channel(), channel)
	}
	now := time.Now()
	return &ComposeController{
		state: ComposeEditing,
		draft: &ComposeDraft{
			ID:         uuid.New().String(),
			Channel:    channel,
			CreatedAt:  now,
			ModifiedAt: now,
		},
		submitter: submitter,
		resolver:  resolver,
		now:       time.Now,
	}, nil
}

// SetLogger sets the logger for debug output
func (c *ComposeController) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// OnSent registers the callback fired once after the server accepts the message.
// Callers use it to refetch their message list.
func (c *ComposeController) OnSent(fn func()) {
	c.mu.Lock()
	c.onSent = fn
	c.mu.Unlock()
}

// State returns the current state
func (c *ComposeController) State() ComposeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resolver returns the recipient resolver bound to this dialog, or nil
func (c *ComposeController) Resolver() *RecipientResolver {
	return c.resolver
}

// Draft returns a copy of the draft, or nil once it has been discarded
func (c *ComposeController) Draft() *ComposeDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return nil
	}
	d := *c.draft
	d.To = append(SelectedRecipients(nil), c.draft.To...)
	d.Cc = append(SelectedRecipients(nil), c.draft.Cc...)
	d.Bcc = append(SelectedRecipients(nil), c.draft.Bcc...)
	d.Attachments = append([]AttachmentRef(nil), c.draft.Attachments...)
	if c.draft.From != nil {
		from := *c.draft.From
		d.From = &from
	}
	return &d
}

// FieldErrors returns the errors of the last submission keyed by form field
func (c *ComposeController) FieldErrors() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]string, len(c.fieldErrors))
	for k, v := range c.fieldErrors {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Message returns the single user-facing message of the last submission, if any
func (c *ComposeController) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// LastError returns the classified error of the last submission
func (c *ComposeController) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetSubject replaces the subject
func (c *ComposeController) SetSubject(subject string) error {
	return c.edit(func(d *ComposeDraft) error {
		d.Subject = subject
		return nil
	})
}

// SetBody replaces the body
func (c *ComposeController) SetBody(body string) error {
	return c.edit(func(d *ComposeDraft) error {
		d.Body = body
		return nil
	})
}

// AddAttachment attaches an uploaded blob; duplicates by ID are ignored
func (c *ComposeController) AddAttachment(ref AttachmentRef) error {
	return c.edit(func(d *ComposeDraft) error {
		if d.Channel != ChannelEmail {
			return fmt.Errorf("%w: attachments on %s", ErrFieldNotSupported, d.Channel)
		}
		for _, a := range d.Attachments {
			if a.ID == ref.ID {
				return nil
			}
		}
		d.Attachments = append(d.Attachments, ref)
		return nil
	})
}

// RemoveAttachment drops the attachment with id. Absent ids are a no-op.
func (c *ComposeController) RemoveAttachment(id string) error {
	return c.edit(func(d *ComposeDraft) error {
		kept := d.Attachments[:0:0]
		for _, a := range d.Attachments {
			if a.ID != id {
				kept = append(kept, a)
			}
		}
		d.Attachments = kept
		return nil
	})
}

// ToggleRecipient toggles a candidate in field and reports whether it is now selected
func (c *ComposeController) ToggleRecipient(field Field, candidate RecipientCandidate) (bool, error) {
	if c.resolver != nil {
		if err := c.checkEditable(field); err != nil {
			return false, err
		}
		added, err := c.resolver.ToggleSelect(field, candidate)
		if err != nil {
			return false, err
		}
		return added, c.syncFromResolver(field)
	}

	var added bool
	err := c.edit(func(d *ComposeDraft) error {
		if !field.AllowedFor(d.Channel) {
			return fmt.Errorf("%w: %s on %s", ErrFieldNotSupported, field, d.Channel)
		}
		if field == FieldFrom {
			if d.From != nil && NormalizeAddress(d.Channel, d.From.Address) == NormalizeAddress(d.Channel, candidate.Address) {
				d.From = nil
				return nil
			}
			from := candidate
			d.From = &from
			added = true
			return nil
		}
		list := recipientList(d, field)
		*list, added = list.Toggle(d.Channel, candidate)
		return nil
	})
	return added, err
}

// RemoveRecipient removes address from field
func (c *ComposeController) RemoveRecipient(field Field, address string) error {
	if c.resolver != nil {
		if err := c.checkEditable(field); err != nil {
			return err
		}
		if err := c.resolver.RemoveSelected(field, address); err != nil {
			return err
		}
		return c.syncFromResolver(field)
	}

	return c.edit(func(d *ComposeDraft) error {
		if !field.AllowedFor(d.Channel) {
			return fmt.Errorf("%w: %s on %s", ErrFieldNotSupported, field, d.Channel)
		}
		if field == FieldFrom {
			if d.From != nil && NormalizeAddress(d.Channel, d.From.Address) == NormalizeAddress(d.Channel, address) {
				d.From = nil
			}
			return nil
		}
		list := recipientList(d, field)
		*list = list.Remove(d.Channel, address)
		return nil
	})
}

// ApplyTemplate replaces subject and body with the rendered template
func (c *ComposeController) ApplyTemplate(tpl *MessageTemplate, vars map[string]string) error {
	if tpl == nil {
		return fmt.Errorf("template cannot be nil")
	}
	return c.edit(func(d *ComposeDraft) error {
		if tpl.Channel != "" && tpl.Channel != d.Channel {
			return fmt.Errorf("%w: template %s is for %s", ErrInvalidChannel, tpl.ID, tpl.Channel)
		}
		subject, body := RenderTemplate(tpl, d.Channel, vars)
		if d.Channel == ChannelEmail {
			d.Subject = subject
		}
		d.Body = body
		return nil
	})
}

// Submit validates the draft locally, then sends it. The returned error is one of
// ClientValidationError, ServerValidationError, ServerRejectionError or TransportError,
// or a state error when submission is not allowed.
func (c *ComposeController) Submit(ctx context.Context) error {
	c.mu.Lock()
	next, err := NextComposeState(c.state, ComposeEventSubmit)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if errs := ValidateDraft(c.draft); len(errs) > 0 {
		verr := &ClientValidationError{Errors: errs}
		c.state = ComposeEditing
		c.fieldErrors = fieldErrorMap(errs)
		c.message = ""
		c.lastErr = verr
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Printf("ComposeController: draft %s failed local validation: %v", c.draftID(), verr)
		}
		return verr
	}
	c.state = next
	c.fieldErrors = nil
	c.message = ""
	c.lastErr = nil
	payload := BuildPayload(c.draft)
	draftID := c.draft.ID
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Printf("ComposeController: submitting draft %s via %s to=%q", draftID, payload.Channel, payload.To)
	}

	var resp *SubmitResponse
	if c.submitter == nil {
		err = fmt.Errorf("no submission service configured")
	} else {
		resp, err = c.submitter.SubmitMessage(ctx, payload)
	}
	return c.finishSubmit(draftID, resp, err)
}

func (c *ComposeController) finishSubmit(draftID string, resp *SubmitResponse, callErr error) error {
	var (
		event  ComposeEvent
		result error
	)

	c.mu.Lock()
	switch {
	case callErr != nil:
		event = ComposeEventFailed
		result = &TransportError{Op: "submit message", Err: callErr}
		c.message = MsgGenericNetwork
	case resp == nil:
		event = ComposeEventFailed
		result = &TransportError{Op: "submit message", Err: ErrUnexpectedResponse}
		c.message = MsgGenericNetwork
	case resp.APIStatus:
		event = ComposeEventAccepted
	case len(resp.Errors) > 0:
		event = ComposeEventRejected
		fields := make(map[string][]string, len(resp.Errors))
		for k, v := range resp.Errors {
			fields[k] = append([]string(nil), v...)
		}
		c.fieldErrors = fields
		c.message = resp.Message
		result = &ServerValidationError{Message: resp.Message, Fields: fields}
	default:
		event = ComposeEventRejected
		c.message = resp.Message
		if c.message == "" {
			c.message = MsgGenericReject
		}
		result = &ServerRejectionError{Message: c.message}
	}

	c.state, _ = NextComposeState(c.state, event)
	c.lastErr = result

	var fire func()
	if event == ComposeEventAccepted {
		c.draft = nil
		if !c.sentFired {
			c.sentFired = true
			fire = c.onSent
		}
	}
	c.mu.Unlock()

	if c.logger != nil {
		if result != nil {
			c.logger.Printf("ComposeController: draft %s not sent (%s): %v", draftID, ErrorKindOf(result), result)
		} else {
			c.logger.Printf("ComposeController: draft %s sent", draftID)
		}
	}

	if event == ComposeEventAccepted {
		if c.resolver != nil {
			c.resolver.Close()
		}
		if fire != nil {
			fire()
		}
	}
	return result
}

// Close discards the draft and releases the resolver. Closing while a
// submission is in flight is refused; closing twice is a no-op.
func (c *ComposeController) Close() error {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return nil
	}
	next, err := NextComposeState(c.state, ComposeEventClose)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	c.draft = nil
	c.mu.Unlock()

	if c.resolver != nil {
		c.resolver.Close()
	}
	return nil
}

// edit applies fn to the draft under the edit transition
func (c *ComposeController) edit(fn func(d *ComposeDraft) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := NextComposeState(c.state, ComposeEventEdit)
	if err != nil {
		return err
	}
	if err := fn(c.draft); err != nil {
		return err
	}
	c.state = next
	c.draft.ModifiedAt = c.now()
	return nil
}

// checkEditable reports whether field may be edited now. Resolver-backed edits
// run outside c.mu because the resolver notifies OnChange listeners synchronously.
func (c *ComposeController) checkEditable(field Field) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := NextComposeState(c.state, ComposeEventEdit); err != nil {
		return err
	}
	if !field.AllowedFor(c.draft.Channel) {
		return fmt.Errorf("%w: %s on %s", ErrFieldNotSupported, field, c.draft.Channel)
	}
	return nil
}

// syncFromResolver copies the resolver's selection for field into the draft
func (c *ComposeController) syncFromResolver(field Field) error {
	from := c.resolver.From()
	selected := c.resolver.Selected(field)
	return c.edit(func(d *ComposeDraft) error {
		if field == FieldFrom {
			d.From = from
			return nil
		}
		*recipientList(d, field) = selected
		return nil
	})
}

func (c *ComposeController) draftID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return ""
	}
	return c.draft.ID
}

func recipientList(d *ComposeDraft, field Field) *SelectedRecipients {
	switch field {
	case FieldCc:
		return &d.Cc
	case FieldBcc:
		return &d.Bcc
	default:
		return &d.To
	}
}

func fieldErrorMap(errs []FieldError) map[string][]string {
	out := make(map[string][]string, len(errs))
	for _, fe := range errs {
		out[fe.Field] = append(out[fe.Field], fe.Message)
	}
	return out
}
