package services

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeAddress returns the comparison key for an address on a channel.
// Email: the bare address from "Name <addr>" forms, trimmed and lowercased.
// SMS: digits only, keeping a single leading '+'.
func NormalizeAddress(channel Channel, address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if channel == ChannelSMS {
		var b strings.Builder
		for i, r := range address {
			switch {
			case r >= '0' && r <= '9':
				b.WriteRune(r)
			case r == '+' && i == 0:
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	if strings.Contains(address, "<") {
		if parsed, err := mail.ParseAddress(address); err == nil {
			address = parsed.Address
		}
	}
	return strings.ToLower(strings.TrimSpace(address))
}

// SelectedRecipients is an ordered selection for one field.
// No two entries share a normalized address.
type SelectedRecipients []RecipientCandidate

// indexOf returns the position of the entry matching address, or -1
func (s SelectedRecipients) indexOf(channel Channel, address string) int {
	key := NormalizeAddress(channel, address)
	if key == "" {
		return -1
	}
	for i, c := range s {
		if NormalizeAddress(channel, c.Address) == key {
			return i
		}
	}
	return -1
}

// Contains reports whether an entry shares the normalized address
func (s SelectedRecipients) Contains(channel Channel, address string) bool {
	return s.indexOf(channel, address) >= 0
}

// Toggle adds c if no entry shares its normalized address, otherwise removes that entry.
// The receiver is never modified; the new selection is returned with whether c was added.
func (s SelectedRecipients) Toggle(channel Channel, c RecipientCandidate) (SelectedRecipients, bool) {
	if i := s.indexOf(channel, c.Address); i >= 0 {
		return s.without(i), false
	}
	if NormalizeAddress(channel, c.Address) == "" {
		return s, false
	}
	out := make(SelectedRecipients, len(s), len(s)+1)
	copy(out, s)
	return append(out, c), true
}

// Remove drops the entry matching address. Absent addresses are a no-op.
func (s SelectedRecipients) Remove(channel Channel, address string) SelectedRecipients {
	if i := s.indexOf(channel, address); i >= 0 {
		return s.without(i)
	}
	return s
}

func (s SelectedRecipients) without(i int) SelectedRecipients {
	out := make(SelectedRecipients, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

// Addresses returns the bare addresses in selection order
func (s SelectedRecipients) Addresses() []string {
	out := make([]string, 0, len(s))
	for _, c := range s {
		out = append(out, strings.TrimSpace(c.Address))
	}
	return out
}

// JoinAddresses formats a selection as a comma-separated address list, display names stripped
func JoinAddresses(channel Channel, s SelectedRecipients) string {
	parts := make([]string, 0, len(s))
	for _, c := range s {
		addr := strings.TrimSpace(c.Address)
		if channel == ChannelEmail && strings.Contains(addr, "<") {
			if parsed, err := mail.ParseAddress(addr); err == nil {
				addr = parsed.Address
			}
		}
		if addr != "" {
			parts = append(parts, addr)
		}
	}
	return strings.Join(parts, ",")
}

// ValidateDraft checks a draft before any network call. It never mutates the draft.
func ValidateDraft(draft *ComposeDraft) []FieldError {
	var errs []FieldError

	if draft == nil {
		return append(errs, FieldError{Field: "draft", Message: "Draft cannot be nil"})
	}
	if !draft.Channel.Valid() {
		return append(errs, FieldError{Field: "channel", Message: fmt.Sprintf("Unsupported channel: %q", draft.Channel)})
	}

	if len(draft.To) == 0 {
		errs = append(errs, FieldError{Field: string(FieldTo), Message: "At least one recipient is required"})
	}

	switch draft.Channel {
	case ChannelEmail:
		if strings.TrimSpace(draft.Subject) == "" {
			errs = append(errs, FieldError{Field: "subject", Message: "Subject is required"})
		}
		if draft.From != nil && !emailPattern.MatchString(NormalizeAddress(ChannelEmail, draft.From.Address)) {
			errs = append(errs, FieldError{Field: "from", Message: fmt.Sprintf("Invalid email format: %s", draft.From.Address)})
		}
		for _, f := range []struct {
			name string
			list SelectedRecipients
		}{{"to", draft.To}, {"cc", draft.Cc}, {"bcc", draft.Bcc}} {
			for i, r := range f.list {
				if !emailPattern.MatchString(NormalizeAddress(ChannelEmail, r.Address)) {
					errs = append(errs, FieldError{
						Field:   fmt.Sprintf("%s[%d]", f.name, i),
						Message: fmt.Sprintf("Invalid email format: %s", r.Address),
					})
				}
			}
		}
	case ChannelSMS:
		if strings.TrimSpace(draft.Body) == "" {
			errs = append(errs, FieldError{Field: "body", Message: "Message body is required"})
		}
		if len(draft.Cc) > 0 || len(draft.Bcc) > 0 {
			errs = append(errs, FieldError{Field: "cc", Message: "SMS messages cannot have Cc or Bcc recipients"})
		}
		if len(draft.Attachments) > 0 {
			errs = append(errs, FieldError{Field: "attachments", Message: "SMS messages cannot carry attachments"})
		}
	}

	return errs
}

// ValidateOTP checks that code is exactly length ASCII digits
func ValidateOTP(code string, length int) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("verification code is required")
	}
	if len(code) != length {
		return fmt.Errorf("verification code must be %d digits", length)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return fmt.Errorf("verification code must contain digits only")
		}
	}
	return nil
}

// BuildPayload formats a draft for MessageSubmissionService. SMS drops the email-only fields.
func BuildPayload(draft *ComposeDraft) SubmitPayload {
	p := SubmitPayload{
		Channel: draft.Channel,
		To:      JoinAddresses(draft.Channel, draft.To),
		Body:    draft.Body,
	}
	if draft.From != nil {
		p.From = JoinAddresses(draft.Channel, SelectedRecipients{*draft.From})
	}
	if draft.Channel == ChannelEmail {
		p.Cc = JoinAddresses(draft.Channel, draft.Cc)
		p.Bcc = JoinAddresses(draft.Channel, draft.Bcc)
		p.Subject = draft.Subject
		if len(draft.Attachments) > 0 {
			p.Attachments = append([]AttachmentRef(nil), draft.Attachments...)
		}
	}
	return p
}
