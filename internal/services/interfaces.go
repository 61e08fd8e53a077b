package services

import (
	"context"
	"time"
)

// ContactDirectoryProvider returns the default candidates for a conversation
type ContactDirectoryProvider interface {
	DirectoryDefaults(ctx context.Context, conversationID string, channel Channel) ([]RecipientCandidate, error)
}

// RecipientSearchProvider returns candidates matching free text. An empty result is not an error.
type RecipientSearchProvider interface {
	SearchRecipients(ctx context.Context, query string, channel Channel) ([]RecipientCandidate, error)
}

// MessageSubmissionService delivers a formatted message payload
type MessageSubmissionService interface {
	SubmitMessage(ctx context.Context, payload SubmitPayload) (*SubmitResponse, error)
}

// DeleteService handles the two-phase, OTP-gated delete exchange
type DeleteService interface {
	RequestDelete(ctx context.Context, targetID string) (*DeleteInitResponse, error)
	ConfirmDelete(ctx context.Context, requestID, otpCode string) (*DeleteConfirmResponse, error)
}

// DeleteLedger persists delete request transitions. Implementations must be safe for concurrent use.
type DeleteLedger interface {
	SaveDeleteRequest(ctx context.Context, req DeleteRequest) error
}

// DirectoryCache stores directory defaults keyed by conversation and channel
type DirectoryCache interface {
	SaveDirectory(ctx context.Context, conversationID, channel string, candidates []byte, updatedAt int64) error
	LoadDirectory(ctx context.Context, conversationID, channel string) ([]byte, int64, bool, error)
}

// Data structures

// Channel identifies the delivery channel of a composer
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Field identifies a recipient field of the compose form
type Field string

const (
	FieldFrom Field = "from"
	FieldTo   Field = "to"
	FieldCc   Field = "cc"
	FieldBcc  Field = "bcc"
)

// AllFields lists recipient fields in form order
var AllFields = []Field{FieldFrom, FieldTo, FieldCc, FieldBcc}

// AllowedFor reports whether the field exists on the given channel's form.
// Cc and Bcc are email-only.
func (f Field) AllowedFor(channel Channel) bool {
	switch f {
	case FieldFrom, FieldTo:
		return true
	case FieldCc, FieldBcc:
		return channel == ChannelEmail
	default:
		return false
	}
}

// RecipientCandidate is a directory or search result. Treat as immutable.
type RecipientCandidate struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"name"`
	Address     string  `json:"address"`
	Channel     Channel `json:"channel,omitempty"`
}

// AttachmentRef is an opaque handle to an already-uploaded blob
type AttachmentRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
}

// ComposeDraft is the in-progress, unsent message
type ComposeDraft struct {
	ID          string
	Channel     Channel
	From        *RecipientCandidate
	To          SelectedRecipients
	Cc          SelectedRecipients
	Bcc         SelectedRecipients
	Subject     string
	Body        string
	Attachments []AttachmentRef
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// SubmitPayload is the wire form of a draft; recipient fields are comma-joined addresses
type SubmitPayload struct {
	Channel     Channel         `json:"channel"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Cc          string          `json:"cc,omitempty"`
	Bcc         string          `json:"bcc,omitempty"`
	Subject     string          `json:"subject,omitempty"`
	Body        string          `json:"body"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// SubmitResponse carries the application-level status, distinct from transport success
type SubmitResponse struct {
	APIStatus bool                `json:"apiStatus"`
	Message   string              `json:"message,omitempty"`
	Errors    map[string][]string `json:"errors,omitempty"`
}

// DeleteInitResponse is returned by the delete-request endpoint
type DeleteInitResponse struct {
	APIStatus bool   `json:"apiStatus"`
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DeleteConfirmResponse is returned by the delete-confirm endpoint
type DeleteConfirmResponse struct {
	APIStatus bool   `json:"apiStatus"`
	Message   string `json:"message,omitempty"`
}

// DeleteStatus is the lifecycle status of a tracked delete request
type DeleteStatus string

const (
	DeleteStatusPending   DeleteStatus = "pending"
	DeleteStatusConfirmed DeleteStatus = "confirmed"
	DeleteStatusRejected  DeleteStatus = "rejected"
	DeleteStatusAbandoned DeleteStatus = "abandoned"
	DeleteStatusExpired   DeleteStatus = "expired"
)

// DeleteRequest binds a deletion target to the server-issued correlation token
type DeleteRequest struct {
	TargetID  string       `json:"target_id"`
	RequestID string       `json:"request_id"`
	Status    DeleteStatus `json:"status"`
	Attempts  int          `json:"attempts"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// DeletePolicy bounds OTP retries and the lifetime of a pending request
type DeletePolicy struct {
	OTPLength   int
	MaxAttempts int
	RequestTTL  time.Duration
}

// DefaultDeletePolicy returns the policy used when none is configured
func DefaultDeletePolicy() DeletePolicy {
	return DeletePolicy{
		OTPLength:   6,
		MaxAttempts: 5,
		RequestTTL:  10 * time.Minute,
	}
}

// MessageTemplate is a reusable subject/body pair for a channel
type MessageTemplate struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Channel   Channel  `yaml:"channel"`
	Subject   string   `yaml:"subject"`
	Body      string   `yaml:"body"`
	HTML      bool     `yaml:"html"`
	Variables []string `yaml:"variables"`
}
