package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// errClaimReleased is returned to a call whose delete request was released while it was in flight
var errClaimReleased = fmt.Errorf("%w: delete request released", ErrInvalidState)

// trackedDelete is the registry entry for one target. An empty RequestID means
// the delete-request call is still in flight.
type trackedDelete struct {
	req        DeleteRequest
	confirming bool
}

// DeleteRequestCoordinator tracks at most one delete request per target and
// performs the request and confirm exchanges against the DeleteService.
type DeleteRequestCoordinator struct {
	mu       sync.Mutex
	service  DeleteService
	ledger   DeleteLedger
	policy   DeletePolicy
	now      func() time.Time
	requests map[string]*trackedDelete
	expired  map[string]string // target -> request ID of its last expired request
	logger   *log.Logger
}

// NewDeleteRequestCoordinator creates a coordinator. Zero policy fields fall back to DefaultDeletePolicy.
func NewDeleteRequestCoordinator(service DeleteService, policy DeletePolicy) *DeleteRequestCoordinator {
	def := DefaultDeletePolicy()
	if policy.OTPLength <= 0 {
		policy.OTPLength = def.OTPLength
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.RequestTTL <= 0 {
		policy.RequestTTL = def.RequestTTL
	}
	return &DeleteRequestCoordinator{
		service:  service,
		policy:   policy,
		now:      time.Now,
		requests: make(map[string]*trackedDelete),
		expired:  make(map[string]string),
	}
}

// SetLogger sets the logger for debug output
func (c *DeleteRequestCoordinator) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// SetLedger sets where request transitions are persisted
func (c *DeleteRequestCoordinator) SetLedger(ledger DeleteLedger) {
	c.ledger = ledger
}

// SetClock replaces the time source used for expiry
func (c *DeleteRequestCoordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Policy returns the effective policy
func (c *DeleteRequestCoordinator) Policy() DeletePolicy {
	return c.policy
}

// Initiate asks the server to start a deletion of targetID and dispatch an OTP.
// A target with an unexpired pending request is refused with ErrDeleteAlreadyPending.
func (c *DeleteRequestCoordinator) Initiate(ctx context.Context, targetID string) (*DeleteRequest, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, ErrEmptyTargetID
	}

	var saves []DeleteRequest
	c.mu.Lock()
	if existing, ok := c.requests[targetID]; ok {
		if existing.req.RequestID == "" || !c.expiredLocked(existing) {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDeleteAlreadyPending, targetID)
		}
		saves = append(saves, c.finishLocked(targetID, DeleteStatusExpired))
	}
	claim := &trackedDelete{req: DeleteRequest{TargetID: targetID, Status: DeleteStatusPending}}
	c.requests[targetID] = claim
	delete(c.expired, targetID)
	c.mu.Unlock()
	c.persist(ctx, saves...)

	if c.logger != nil {
		c.logger.Printf("DeleteCoordinator: requesting delete of %s", targetID)
	}
	resp, err := c.service.RequestDelete(ctx, targetID)

	c.mu.Lock()
	if c.requests[targetID] != claim {
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Printf("DeleteCoordinator: delete request for %s released before the server answered", targetID)
		}
		return nil, errClaimReleased
	}
	var result error
	switch {
	case err != nil:
		result = &TransportError{Op: "request delete", Err: err}
	case resp == nil || (resp.APIStatus && resp.RequestID == ""):
		result = &TransportError{Op: "request delete", Err: ErrUnexpectedResponse}
	case !resp.APIStatus:
		msg := resp.Message
		if msg == "" {
			msg = MsgDeleteFailed
		}
		result = &ServerRejectionError{Message: msg}
	}
	if result != nil {
		delete(c.requests, targetID)
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Printf("DeleteCoordinator: delete request for %s failed: %v", targetID, result)
		}
		return nil, result
	}
	now := c.now()
	claim.req.RequestID = resp.RequestID
	claim.req.CreatedAt = now
	claim.req.UpdatedAt = now
	req := claim.req
	c.mu.Unlock()

	c.persist(ctx, req)
	if c.logger != nil {
		c.logger.Printf("DeleteCoordinator: delete of %s pending as request %s", targetID, req.RequestID)
	}
	return &req, nil
}

// Confirm submits an OTP for the target's pending request. The code is validated
// locally first; an expired request is closed without contacting the server.
func (c *DeleteRequestCoordinator) Confirm(ctx context.Context, targetID, code string) (*DeleteRequest, error) {
	c.mu.Lock()
	t, ok := c.requests[targetID]
	if !ok || t.req.RequestID == "" {
		_, wasExpired := c.expired[targetID]
		c.mu.Unlock()
		if wasExpired {
			return nil, ErrDeleteRequestExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrNoPendingDelete, targetID)
	}
	if t.confirming {
		c.mu.Unlock()
		return nil, ErrConfirmInFlight
	}
	if c.expiredLocked(t) {
		req := c.finishLocked(targetID, DeleteStatusExpired)
		c.mu.Unlock()
		c.persist(ctx, req)
		return &req, ErrDeleteRequestExpired
	}
	if err := ValidateOTP(code, c.policy.OTPLength); err != nil {
		c.mu.Unlock()
		return nil, &ClientValidationError{Errors: []FieldError{{Field: "otp", Message: err.Error()}}}
	}
	t.confirming = true
	requestID := t.req.RequestID
	c.mu.Unlock()

	resp, err := c.service.ConfirmDelete(ctx, requestID, strings.TrimSpace(code))

	c.mu.Lock()
	if c.requests[targetID] != t {
		// The dialog is gone but the server may still have deleted the target
		if err != nil || resp == nil || !resp.APIStatus {
			c.mu.Unlock()
			return nil, errClaimReleased
		}
		t.req.Status = DeleteStatusConfirmed
		t.req.UpdatedAt = c.now()
		req := t.req
		c.mu.Unlock()
		c.persist(ctx, req)
		if c.logger != nil {
			c.logger.Printf("DeleteCoordinator: request %s confirmed after release, %s deleted", requestID, targetID)
		}
		return nil, errClaimReleased
	}
	t.confirming = false

	switch {
	case err != nil:
		c.mu.Unlock()
		return nil, &TransportError{Op: "confirm delete", Err: err}
	case resp == nil:
		c.mu.Unlock()
		return nil, &TransportError{Op: "confirm delete", Err: ErrUnexpectedResponse}
	case resp.APIStatus:
		req := c.finishLocked(targetID, DeleteStatusConfirmed)
		c.mu.Unlock()
		c.persist(ctx, req)
		if c.logger != nil {
			c.logger.Printf("DeleteCoordinator: request %s confirmed, %s deleted", requestID, targetID)
		}
		return &req, nil
	}

	msg := resp.Message
	if msg == "" {
		msg = MsgOTPRejected
	}
	rejection := &ServerRejectionError{Message: msg}
	t.req.Attempts++
	t.req.UpdatedAt = c.now()
	if t.req.Attempts >= c.policy.MaxAttempts {
		req := c.finishLocked(targetID, DeleteStatusRejected)
		c.mu.Unlock()
		c.persist(ctx, req)
		if c.logger != nil {
			c.logger.Printf("DeleteCoordinator: request %s closed after %d rejected codes", requestID, req.Attempts)
		}
		return &req, fmt.Errorf("%w: %w", ErrAttemptsExhausted, rejection)
	}
	req := t.req
	c.mu.Unlock()
	c.persist(ctx, req)
	return &req, rejection
}

// Release stops tracking the target's request and records it as abandoned.
// The server is not contacted.
func (c *DeleteRequestCoordinator) Release(ctx context.Context, targetID string) {
	c.mu.Lock()
	t, ok := c.requests[targetID]
	if !ok {
		c.mu.Unlock()
		return
	}
	hasToken := t.req.RequestID != ""
	req := c.finishLocked(targetID, DeleteStatusAbandoned)
	c.mu.Unlock()

	if hasToken {
		c.persist(ctx, req)
	}
	if c.logger != nil {
		c.logger.Printf("DeleteCoordinator: released delete of %s", targetID)
	}
}

// Pending returns the target's tracked request, if any
func (c *DeleteRequestCoordinator) Pending(targetID string) (*DeleteRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.requests[targetID]
	if !ok || t.req.RequestID == "" {
		return nil, false
	}
	req := t.req
	return &req, true
}

// ExpireTarget closes the target's request once it has outlived the policy TTL.
// It reports whether the target's latest request is expired. Other targets are untouched.
func (c *DeleteRequestCoordinator) ExpireTarget(ctx context.Context, targetID string) bool {
	c.mu.Lock()
	t, ok := c.requests[targetID]
	if !ok {
		_, wasExpired := c.expired[targetID]
		c.mu.Unlock()
		return wasExpired
	}
	if t.confirming || !c.expiredLocked(t) {
		c.mu.Unlock()
		return false
	}
	req := c.finishLocked(targetID, DeleteStatusExpired)
	c.mu.Unlock()

	c.persist(ctx, req)
	if c.logger != nil {
		c.logger.Printf("DeleteCoordinator: request %s for %s expired", req.RequestID, targetID)
	}
	return true
}

func (c *DeleteRequestCoordinator) expiredLocked(t *trackedDelete) bool {
	if t.req.RequestID == "" || t.req.CreatedAt.IsZero() {
		return false
	}
	return !c.now().Before(t.req.CreatedAt.Add(c.policy.RequestTTL))
}

// finishLocked removes the target from the registry and returns its final record
func (c *DeleteRequestCoordinator) finishLocked(targetID string, status DeleteStatus) DeleteRequest {
	t := c.requests[targetID]
	delete(c.requests, targetID)
	t.req.Status = status
	t.req.UpdatedAt = c.now()
	if status == DeleteStatusExpired {
		c.expired[targetID] = t.req.RequestID
	}
	return t.req
}

func (c *DeleteRequestCoordinator) persist(ctx context.Context, reqs ...DeleteRequest) {
	if c.ledger == nil {
		return
	}
	for _, req := range reqs {
		if err := c.ledger.SaveDeleteRequest(ctx, req); err != nil && c.logger != nil {
			c.logger.Printf("DeleteCoordinator: failed to record %s as %s: %v", req.RequestID, req.Status, err)
		}
	}
}

// DeleteState is the lifecycle state of a delete confirmation dialog
type DeleteState string

const (
	DeleteIdle       DeleteState = "idle"
	DeleteRequesting DeleteState = "requesting"
	DeleteOTPPending DeleteState = "otp_pending"
	DeleteConfirming DeleteState = "confirming"
	DeleteRejected   DeleteState = "rejected"
	DeleteConfirmed  DeleteState = "confirmed"
	DeleteAbandoned  DeleteState = "abandoned"
	DeleteExpired    DeleteState = "expired"
)

// Terminal reports whether no further transitions are possible
func (s DeleteState) Terminal() bool {
	return s == DeleteConfirmed || s == DeleteAbandoned || s == DeleteExpired
}

// DeleteEvent drives NextDeleteState
type DeleteEvent string

const (
	DeleteEventInitiate      DeleteEvent = "initiate"
	DeleteEventIssued        DeleteEvent = "issued"
	DeleteEventRequestFailed DeleteEvent = "request_failed"
	DeleteEventSubmit        DeleteEvent = "submit"
	DeleteEventAccepted      DeleteEvent = "accepted"
	DeleteEventRejected      DeleteEvent = "rejected"
	DeleteEventRetry         DeleteEvent = "retry"
	DeleteEventExhausted     DeleteEvent = "exhausted"
	DeleteEventCallFailed    DeleteEvent = "call_failed"
	DeleteEventExpire        DeleteEvent = "expire"
	DeleteEventCancel        DeleteEvent = "cancel"
)

var deleteTransitions = map[DeleteState]map[DeleteEvent]DeleteState{
	DeleteIdle: {
		DeleteEventInitiate: DeleteRequesting,
		DeleteEventCancel:   DeleteAbandoned,
	},
	DeleteRequesting: {
		DeleteEventIssued:        DeleteOTPPending,
		DeleteEventRequestFailed: DeleteIdle,
		DeleteEventCancel:        DeleteAbandoned,
	},
	DeleteOTPPending: {
		DeleteEventSubmit: DeleteConfirming,
		DeleteEventExpire: DeleteExpired,
		DeleteEventCancel: DeleteAbandoned,
	},
	DeleteConfirming: {
		DeleteEventAccepted:   DeleteConfirmed,
		DeleteEventRejected:   DeleteRejected,
		DeleteEventCallFailed: DeleteOTPPending,
		DeleteEventExpire:     DeleteExpired,
		DeleteEventCancel:     DeleteAbandoned,
	},
	DeleteRejected: {
		DeleteEventRetry:     DeleteOTPPending,
		DeleteEventExhausted: DeleteExpired,
		DeleteEventCancel:    DeleteAbandoned,
	},
}

// NextDeleteState is the delete confirmation transition function
func NextDeleteState(state DeleteState, event DeleteEvent) (DeleteState, error) {
	if state == DeleteConfirming && event == DeleteEventSubmit {
		return state, ErrConfirmInFlight
	}
	if next, ok := deleteTransitions[state][event]; ok {
		return next, nil
	}
	return state, fmt.Errorf("%w: %s while %s", ErrInvalidState, event, state)
}

// DeleteConfirmationController drives one delete dialog: request, OTP entry, confirmation
type DeleteConfirmationController struct {
	mu          sync.Mutex
	coordinator *DeleteRequestCoordinator

	state     DeleteState
	targetID  string
	requestID string
	attempts  int
	message   string
	lastErr   error

	onConfirmed    func(targetID string)
	confirmedFired bool

	logger *log.Logger
}

// NewDeleteConfirmationController creates an idle controller
func NewDeleteConfirmationController(coordinator *DeleteRequestCoordinator) *DeleteConfirmationController {
	return &DeleteConfirmationController{
		coordinator: coordinator,
		state:       DeleteIdle,
	}
}

// SetLogger sets the logger for debug output
func (d *DeleteConfirmationController) SetLogger(logger *log.Logger) {
	d.logger = logger
}

// OnConfirmed registers the callback fired once when the deletion is confirmed.
// Callers use it to drop the target from cached lists.
func (d *DeleteConfirmationController) OnConfirmed(fn func(targetID string)) {
	d.mu.Lock()
	d.onConfirmed = fn
	d.mu.Unlock()
}

// Initiate requests deletion of targetID. Only allowed from idle.
func (d *DeleteConfirmationController) Initiate(ctx context.Context, targetID string) error {
	targetID = strings.TrimSpace(targetID)
	d.mu.Lock()
	next, err := NextDeleteState(d.state, DeleteEventInitiate)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if targetID == "" {
		d.mu.Unlock()
		return ErrEmptyTargetID
	}
	d.state = next
	d.targetID = targetID
	d.message = ""
	d.lastErr = nil
	d.mu.Unlock()

	req, err := d.coordinator.Initiate(ctx, targetID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DeleteRequesting {
		return ErrDialogClosed
	}
	if err != nil {
		d.state, _ = NextDeleteState(d.state, DeleteEventRequestFailed)
		d.lastErr = err
		d.message = deleteMessage(err, MsgDeleteFailed)
		return err
	}
	d.state, _ = NextDeleteState(d.state, DeleteEventIssued)
	d.requestID = req.RequestID
	d.attempts = req.Attempts
	return nil
}

// SubmitOTP confirms the pending request with code
func (d *DeleteConfirmationController) SubmitOTP(ctx context.Context, code string) error {
	d.mu.Lock()
	next, err := NextDeleteState(d.state, DeleteEventSubmit)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if verr := ValidateOTP(code, d.coordinator.Policy().OTPLength); verr != nil {
		cerr := &ClientValidationError{Errors: []FieldError{{Field: "otp", Message: verr.Error()}}}
		d.message = verr.Error()
		d.lastErr = cerr
		d.mu.Unlock()
		return cerr
	}
	d.state = next
	targetID := d.targetID
	d.mu.Unlock()

	req, err := d.coordinator.Confirm(ctx, targetID, code)

	d.mu.Lock()
	if d.state != DeleteConfirming {
		d.mu.Unlock()
		return ErrDialogClosed
	}
	if req != nil {
		d.attempts = req.Attempts
	}
	d.lastErr = err

	var fire func(string)
	switch {
	case err == nil:
		d.state, _ = NextDeleteState(d.state, DeleteEventAccepted)
		d.message = ""
		if !d.confirmedFired {
			d.confirmedFired = true
			fire = d.onConfirmed
		}
	case errors.Is(err, ErrDeleteRequestExpired), errors.Is(err, ErrNoPendingDelete):
		d.state, _ = NextDeleteState(d.state, DeleteEventExpire)
		d.message = MsgDeleteExpired
	case errors.Is(err, ErrAttemptsExhausted):
		d.state, _ = NextDeleteState(d.state, DeleteEventRejected)
		d.state, _ = NextDeleteState(d.state, DeleteEventExhausted)
		d.message = deleteMessage(err, MsgOTPRejected) + " " + MsgDeleteExpired
	case ErrorKindOf(err) == KindServerRejection:
		d.state, _ = NextDeleteState(d.state, DeleteEventRejected)
		d.state, _ = NextDeleteState(d.state, DeleteEventRetry)
		d.message = deleteMessage(err, MsgOTPRejected)
	default:
		d.state, _ = NextDeleteState(d.state, DeleteEventCallFailed)
		d.message = deleteMessage(err, MsgGenericNetwork)
	}
	state := d.state
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Printf("DeleteController: %s -> %s (attempts=%d)", targetID, state, d.Attempts())
	}
	if fire != nil {
		fire(targetID)
	}
	return err
}

// CheckExpiry moves a pending dialog to expired once its request outlives the TTL.
// It reports whether the dialog is expired.
func (d *DeleteConfirmationController) CheckExpiry(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DeleteExpired {
		return true
	}
	if d.state != DeleteOTPPending || !d.coordinator.ExpireTarget(ctx, d.targetID) {
		return false
	}
	d.state, _ = NextDeleteState(d.state, DeleteEventExpire)
	d.message = MsgDeleteExpired
	d.lastErr = ErrDeleteRequestExpired
	return true
}

// Cancel abandons the dialog from any non-terminal state. The server-side
// request is left to expire on its own.
func (d *DeleteConfirmationController) Cancel() error {
	d.mu.Lock()
	next, err := NextDeleteState(d.state, DeleteEventCancel)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.state = next
	targetID := d.targetID
	d.mu.Unlock()

	if targetID != "" {
		d.coordinator.Release(context.Background(), targetID)
	}
	return nil
}

// State returns the current state
func (d *DeleteConfirmationController) State() DeleteState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// TargetID returns the target being deleted
func (d *DeleteConfirmationController) TargetID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targetID
}

// RequestID returns the server correlation token, empty before the request is issued
func (d *DeleteConfirmationController) RequestID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requestID
}

// Attempts returns how many codes the server has rejected
func (d *DeleteConfirmationController) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// RemainingAttempts returns how many codes may still be tried
func (d *DeleteConfirmationController) RemainingAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := d.coordinator.Policy().MaxAttempts - d.attempts; n > 0 {
		return n
	}
	return 0
}

// Message returns the message to show the user, if any
func (d *DeleteConfirmationController) Message() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.message
}

// LastError returns the classified error of the last operation
func (d *DeleteConfirmationController) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// deleteMessage picks the user-facing text for err
func deleteMessage(err error, fallback string) string {
	var sr *ServerRejectionError
	if errors.As(err, &sr) && sr.Message != "" {
		return sr.Message
	}
	var cv *ClientValidationError
	if errors.As(err, &cv) && len(cv.Errors) > 0 {
		return cv.Errors[0].Message
	}
	if errors.Is(err, ErrDeleteAlreadyPending) {
		return "A delete request for this item is already waiting for a code."
	}
	return fallback
}
