package sandbox

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"github.com/ajramos/casecomms/internal/render"
	"github.com/ajramos/casecomms/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	searchLimit    = 20
	maxSMSSegments = 10
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

type deleteInitRequest struct {
	TargetID string `json:"targetId"`
}

type deleteConfirmRequest struct {
	RequestID string `json:"requestId"`
	OTPCode   string `json:"otpCode"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeResult writes an application envelope that carries apiStatus=false
func writeResult(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, services.DeleteConfirmResponse{APIStatus: false, Message: message})
}

func channelParam(r *http.Request) (services.Channel, bool) {
	ch := services.Channel(strings.ToLower(r.URL.Query().Get("channel")))
	if ch == "" {
		ch = services.ChannelEmail
	}
	return ch, ch.Valid()
}

// candidate projects a contact onto a channel, or reports false when it has no address there
func candidate(c Contact, channel services.Channel) (services.RecipientCandidate, bool) {
	addr := c.Email
	if channel == services.ChannelSMS {
		addr = c.Phone
	}
	if addr == "" {
		return services.RecipientCandidate{}, false
	}
	return services.RecipientCandidate{ID: c.ID, DisplayName: c.Name, Address: addr, Channel: channel}, true
}

// handleDirectory returns the default candidates for a conversation
func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel"})
		return
	}
	conversationID := chi.URLParam(r, "id")

	s.mu.Lock()
	ids := s.conversations[conversationID]
	out := make([]services.RecipientCandidate, 0, len(ids))
	for _, id := range ids {
		for _, c := range s.contacts {
			if c.ID != id {
				continue
			}
			if cand, ok := candidate(c, channel); ok {
				out = append(out, cand)
			}
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

// handleSearch matches free text against contact names and addresses
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel"})
		return
	}
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))

	out := make([]services.RecipientCandidate, 0)
	if q == "" {
		writeJSON(w, http.StatusOK, out)
		return
	}

	s.mu.Lock()
	for _, c := range s.contacts {
		cand, ok := candidate(c, channel)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(cand.Address), q) {
			out = append(out, cand)
			if len(out) == searchLimit {
				break
			}
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

// handleSubmit validates and records a message
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var p services.SubmitPayload
	if err := json.NewDecoder(limitBody(r)).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, services.SubmitResponse{Message: "Invalid request body"})
		return
	}

	if errs := validatePayload(p); len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, services.SubmitResponse{
			Message: "Validation failed",
			Errors:  errs,
		})
		return
	}

	s.mu.Lock()
	if p.Channel == services.ChannelSMS {
		for _, addr := range splitAddresses(p.To) {
			if c, ok := s.contactByPhone(addr); ok && c.OptedOut {
				s.mu.Unlock()
				writeJSON(w, http.StatusOK, services.SubmitResponse{
					Message: c.Name + " has opted out of text messages.",
				})
				return
			}
		}
	}
	s.sent = append(s.sent, p)
	s.mu.Unlock()

	s.logf("Sandbox: accepted %s message to %s", p.Channel, p.To)
	writeJSON(w, http.StatusOK, services.SubmitResponse{APIStatus: true, Message: "Message sent"})
}

// contactByPhone must be called with s.mu held
func (s *Server) contactByPhone(addr string) (Contact, bool) {
	key := services.NormalizeAddress(services.ChannelSMS, addr)
	for _, c := range s.contacts {
		if c.Phone != "" && services.NormalizeAddress(services.ChannelSMS, c.Phone) == key {
			return c, true
		}
	}
	return Contact{}, false
}

func splitAddresses(list string) []string {
	var out []string
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// validatePayload mirrors the production API's server-side checks
func validatePayload(p services.SubmitPayload) map[string][]string {
	errs := make(map[string][]string)
	add := func(field, msg string) { errs[field] = append(errs[field], msg) }

	if !p.Channel.Valid() {
		add("channel", "Unsupported channel")
		return errs
	}
	if len(splitAddresses(p.To)) == 0 {
		add("to", "At least one recipient is required")
	}

	switch p.Channel {
	case services.ChannelEmail:
		for field, list := range map[string]string{"from": p.From, "to": p.To, "cc": p.Cc, "bcc": p.Bcc} {
			for _, a := range splitAddresses(list) {
				if _, err := mail.ParseAddress(a); err != nil {
					add(field, "Invalid email address: "+a)
				}
			}
		}
		if strings.TrimSpace(p.Subject) == "" {
			add("subject", "Subject is required")
		}
	case services.ChannelSMS:
		for _, a := range splitAddresses(p.To) {
			if !phonePattern.MatchString(services.NormalizeAddress(services.ChannelSMS, a)) {
				add("to", "Invalid phone number: "+a)
			}
		}
		if strings.TrimSpace(p.Body) == "" {
			add("body", "Message body is required")
		} else if segments, _ := render.SMSSegments(p.Body); segments > maxSMSSegments {
			add("body", "Message is too long")
		}
		if p.Cc != "" || p.Bcc != "" || len(p.Attachments) > 0 {
			add("channel", "Text messages support neither copies nor attachments")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// handleRequestDelete issues a correlation token and dispatches a code
func (s *Server) handleRequestDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteInitRequest
	if err := json.NewDecoder(limitBody(r)).Decode(&req); err != nil || strings.TrimSpace(req.TargetID) == "" {
		writeResult(w, http.StatusBadRequest, "targetId is required")
		return
	}

	code, err := generateOTP(s.opts.OTPLength)
	if err != nil {
		s.logf("Sandbox: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	s.mu.Lock()
	if !s.records[req.TargetID] {
		s.mu.Unlock()
		writeResult(w, http.StatusNotFound, "Record not found")
		return
	}
	requestID := uuid.NewString()
	s.deletes[requestID] = &pendingDelete{
		targetID:  req.TargetID,
		code:      code,
		createdAt: s.opts.Now(),
	}
	s.mu.Unlock()

	s.opts.Notifier.NotifyOTP(req.TargetID, requestID, code)
	writeJSON(w, http.StatusOK, services.DeleteInitResponse{
		APIStatus: true,
		RequestID: requestID,
		Message:   "A verification code has been sent.",
	})
}

// handleConfirmDelete checks a code and deletes the target on a match
func (s *Server) handleConfirmDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteConfirmRequest
	if err := json.NewDecoder(limitBody(r)).Decode(&req); err != nil || req.RequestID == "" {
		writeResult(w, http.StatusBadRequest, "requestId is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pd, ok := s.deletes[req.RequestID]
	switch {
	case !ok || pd.done:
		writeResult(w, http.StatusNotFound, "Delete request not found")
		return
	case s.opts.Now().Sub(pd.createdAt) > s.opts.RequestTTL:
		pd.done = true
		writeResult(w, http.StatusGone, "Delete request expired")
		return
	case subtleEqual(pd.code, strings.TrimSpace(req.OTPCode)):
		pd.done = true
		delete(s.records, pd.targetID)
		s.deleted[pd.targetID] = true
		s.logf("Sandbox: deleted target %s", pd.targetID)
		writeJSON(w, http.StatusOK, services.DeleteConfirmResponse{APIStatus: true, Message: "Record deleted"})
	default:
		writeResult(w, http.StatusOK, "Invalid verification code")
	}
}
