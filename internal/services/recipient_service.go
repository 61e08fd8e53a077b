package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ajramos/casecomms/internal/debounce"
)

// DefaultDebounceDelay is the quiet period before a typed query is searched
const DefaultDebounceDelay = 300 * time.Millisecond

// recipientField holds the query, search and selection state of one form field
type recipientField struct {
	query    string
	seq      uint64 // latest issued search generation
	timer    debounce.Timer
	results  []RecipientCandidate
	loading  bool
	err      error
	selected SelectedRecipients
}

// RecipientResolver resolves candidate lists for the From/To/Cc/Bcc fields of one compose dialog.
// Each field debounces its query independently; a search response is applied only when it
// belongs to the field's latest issued search.
type RecipientResolver struct {
	mu sync.Mutex

	directory      ContactDirectoryProvider
	search         RecipientSearchProvider
	channel        Channel
	conversationID string

	delay        time.Duration
	timerFactory debounce.Factory

	defaults    []RecipientCandidate
	defaultsErr error
	fields      map[Field]*recipientField
	from        *RecipientCandidate

	onChange      func(Field)
	staleDiscards int

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	logger *log.Logger
}

// NewRecipientResolver creates a resolver for one conversation and channel
func NewRecipientResolver(directory ContactDirectoryProvider, search RecipientSearchProvider, channel Channel, conversationID string) *RecipientResolver {
	ctx, cancel := context.WithCancel(context.Background())
	r := &RecipientResolver{
		directory:      directory,
		search:         search,
		channel:        channel,
		conversationID: conversationID,
		delay:          DefaultDebounceDelay,
		timerFactory:   debounce.New,
		fields:         make(map[Field]*recipientField),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, f := range AllFields {
		if f.AllowedFor(channel) {
			r.fields[f] = &recipientField{}
		}
	}
	return r
}

// SetLogger sets the logger for debug output
func (r *RecipientResolver) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// SetDebounce overrides the debounce delay and timer source. Call before the first SetQuery.
func (r *RecipientResolver) SetDebounce(delay time.Duration, factory debounce.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if delay > 0 {
		r.delay = delay
	}
	if factory != nil {
		r.timerFactory = factory
	}
}

// OnChange registers a callback invoked after a field's visible state changes.
// It runs on whichever goroutine applied the change, with no resolver or
// ComposeController lock held, so it may read either.
func (r *RecipientResolver) OnChange(fn func(Field)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Channel returns the channel this resolver was created for
func (r *RecipientResolver) Channel() Channel {
	return r.channel
}

// LoadDefaults fetches the directory defaults shown while a field's query is empty
func (r *RecipientResolver) LoadDefaults(ctx context.Context) error {
	if r.directory == nil {
		return nil
	}
	candidates, err := r.directory.DirectoryDefaults(ctx, r.conversationID, r.channel)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrDialogClosed
	}
	if err != nil {
		r.defaultsErr = &TransportError{Op: "load directory", Err: err}
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Printf("RecipientResolver: directory lookup for %s/%s failed: %v", r.conversationID, r.channel, err)
		}
		return r.defaultsErr
	}
	r.defaults = r.stamp(candidates)
	r.defaultsErr = nil
	var changed []Field
	for f, st := range r.fields {
		if st.query == "" {
			changed = append(changed, f)
		}
	}
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Printf("RecipientResolver: loaded %d directory defaults for %s/%s", len(candidates), r.conversationID, r.channel)
	}
	r.notify(changed...)
	return nil
}

// SetQuery records the field's query text and restarts its debounce timer.
// Any pending timer for the field is discarded.
func (r *RecipientResolver) SetQuery(field Field, text string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrDialogClosed
	}
	st, ok := r.fields[field]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrFieldNotSupported, field, r.channel)
	}
	st.query = text
	if st.timer == nil {
		st.timer = r.timerFactory()
	}
	timer, delay := st.timer, r.delay
	r.mu.Unlock()

	timer.Schedule(func() { r.fire(field, text) }, delay)
	return nil
}

// fire runs when a field's debounce timer expires
func (r *RecipientResolver) fire(field Field, text string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	st := r.fields[field]
	// Every fire is a new generation, including an empty query, so that a late
	// response for an abandoned search cannot replace the directory defaults.
	st.seq++
	seq := st.seq
	query := strings.TrimSpace(text)
	if query == "" {
		st.results = nil
		st.loading = false
		st.err = nil
		r.mu.Unlock()
		r.notify(field)
		return
	}
	st.loading = true
	ctx := r.ctx
	r.mu.Unlock()

	r.notify(field)
	go r.runSearch(ctx, field, seq, query)
}

func (r *RecipientResolver) runSearch(ctx context.Context, field Field, seq uint64, query string) {
	var (
		results []RecipientCandidate
		err     error
	)
	if r.search != nil {
		results, err = r.search.SearchRecipients(ctx, query, r.channel)
	}

	r.mu.Lock()
	st := r.fields[field]
	if r.closed || seq != st.seq {
		r.staleDiscards++
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Printf("RecipientResolver: discarded stale %s results for %q (seq %d)", field, query, seq)
		}
		return
	}
	st.loading = false
	if err != nil {
		st.results = nil
		st.err = &TransportError{Op: "search recipients", Err: err}
	} else {
		st.results = r.stamp(results)
		st.err = nil
	}
	r.mu.Unlock()

	if err != nil && r.logger != nil {
		r.logger.Printf("RecipientResolver: %s search for %q failed: %v", field, query, err)
	}
	r.notify(field)
}

// Candidates returns the visible candidate list: directory defaults when the
// field's query is empty, otherwise the latest applied search results.
func (r *RecipientResolver) Candidates(field Field) []RecipientCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.fields[field]
	if !ok {
		return nil
	}
	src := st.results
	if strings.TrimSpace(st.query) == "" {
		src = r.defaults
	}
	return append([]RecipientCandidate(nil), src...)
}

// Query returns the field's current query text
func (r *RecipientResolver) Query(field Field) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.fields[field]; ok {
		return st.query
	}
	return ""
}

// Loading reports whether the field's latest search has not completed yet
func (r *RecipientResolver) Loading(field Field) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.fields[field]; ok {
		return st.loading
	}
	return false
}

// FieldError returns the failure of the field's latest search, if any
func (r *RecipientResolver) FieldError(field Field) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.fields[field]; ok {
		return st.err
	}
	return nil
}

// DefaultsError returns the failure of the last directory lookup, if any
func (r *RecipientResolver) DefaultsError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultsErr
}

// ToggleSelect adds the candidate unless an entry with the same normalized address
// exists, in which case that entry is removed. From holds at most one candidate.
func (r *RecipientResolver) ToggleSelect(field Field, c RecipientCandidate) (bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, ErrDialogClosed
	}
	st, ok := r.fields[field]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s on %s", ErrFieldNotSupported, field, r.channel)
	}
	if c.Channel == "" {
		c.Channel = r.channel
	}

	var added bool
	if field == FieldFrom {
		if r.from != nil && NormalizeAddress(r.channel, r.from.Address) == NormalizeAddress(r.channel, c.Address) {
			r.from = nil
		} else if NormalizeAddress(r.channel, c.Address) != "" {
			from := c
			r.from = &from
			added = true
		}
		st.selected = nil
		if r.from != nil {
			st.selected = SelectedRecipients{*r.from}
		}
	} else {
		st.selected, added = st.selected.Toggle(r.channel, c)
	}
	r.mu.Unlock()

	r.notify(field)
	return added, nil
}

// RemoveSelected removes the entry matching address. Absent addresses are a no-op.
func (r *RecipientResolver) RemoveSelected(field Field, address string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrDialogClosed
	}
	st, ok := r.fields[field]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrFieldNotSupported, field, r.channel)
	}
	before := len(st.selected)
	if field == FieldFrom {
		if r.from != nil && NormalizeAddress(r.channel, r.from.Address) == NormalizeAddress(r.channel, address) {
			r.from = nil
			st.selected = nil
		}
	} else {
		st.selected = st.selected.Remove(r.channel, address)
	}
	changed := len(st.selected) != before
	r.mu.Unlock()

	if changed {
		r.notify(field)
	}
	return nil
}

// Selected returns a copy of the field's selection
func (r *RecipientResolver) Selected(field Field) SelectedRecipients {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.fields[field]; ok {
		return append(SelectedRecipients(nil), st.selected...)
	}
	return nil
}

// From returns the selected sender, or nil
func (r *RecipientResolver) From() *RecipientCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.from == nil {
		return nil
	}
	from := *r.from
	return &from
}

// StaleDiscards counts search responses dropped because a newer search had been issued
func (r *RecipientResolver) StaleDiscards() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.staleDiscards
}

// Close cancels pending timers and in-flight searches. Later results are discarded.
func (r *RecipientResolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	timers := make([]debounce.Timer, 0, len(r.fields))
	for _, st := range r.fields {
		if st.timer != nil {
			timers = append(timers, st.timer)
		}
	}
	r.mu.Unlock()

	for _, t := range timers {
		t.Cancel()
	}
	r.cancel()
}

// stamp fills in the channel for candidates that arrived without one
func (r *RecipientResolver) stamp(in []RecipientCandidate) []RecipientCandidate {
	out := make([]RecipientCandidate, 0, len(in))
	for _, c := range in {
		if c.Channel == "" {
			c.Channel = r.channel
		}
		out = append(out, c)
	}
	return out
}

func (r *RecipientResolver) notify(fields ...Field) {
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn == nil {
		return
	}
	for _, f := range fields {
		fn(f)
	}
}
