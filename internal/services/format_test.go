package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		in      string
		want    string
	}{
		{"email_lowercased", ChannelEmail, "  Ana@Example.COM ", "ana@example.com"},
		{"email_display_name_stripped", ChannelEmail, "Ana Ruiz <ana@example.com>", "ana@example.com"},
		{"email_unparseable_kept", ChannelEmail, "broken <", "broken <"},
		{"sms_punctuation_dropped", ChannelSMS, "+1 (555) 010-2000", "+15550102000"},
		{"sms_inner_plus_dropped", ChannelSMS, "555+010", "555010"},
		{"empty", ChannelEmail, "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.channel, tt.in))
		})
	}
}

func TestSelectedRecipients_ToggleDoesNotMutateReceiver(t *testing.T) {
	base := SelectedRecipients{ana}
	next, added := base.Toggle(ChannelEmail, bob)
	assert.True(t, added)
	assert.Len(t, base, 1)
	assert.Len(t, next, 2)

	back, added := next.Toggle(ChannelEmail, RecipientCandidate{Address: "BOB@example.com"})
	assert.False(t, added)
	assert.Equal(t, base, back)

	same, added := base.Toggle(ChannelEmail, RecipientCandidate{Address: "  "})
	assert.False(t, added)
	assert.Equal(t, base, same)
}

func TestJoinAddresses(t *testing.T) {
	sel := SelectedRecipients{
		{Address: "Ana Ruiz <ana@example.com>"},
		{Address: " bob@example.com "},
		{Address: ""},
	}
	assert.Equal(t, "ana@example.com,bob@example.com", JoinAddresses(ChannelEmail, sel))
	assert.Equal(t, "", JoinAddresses(ChannelEmail, nil))
	assert.Equal(t, "+15550100,+15550101", JoinAddresses(ChannelSMS, SelectedRecipients{{Address: "+15550100"}, {Address: "+15550101"}}))
}

func TestValidateDraft(t *testing.T) {
	to := SelectedRecipients{{Address: "a@x.com"}}

	tests := []struct {
		name   string
		draft  *ComposeDraft
		fields []string
	}{
		{"nil_draft", nil, []string{"draft"}},
		{"bad_channel", &ComposeDraft{Channel: "fax", To: to}, []string{"channel"}},
		{"email_ok", &ComposeDraft{Channel: ChannelEmail, To: to, Subject: "hi"}, nil},
		{"email_missing_to_and_subject", &ComposeDraft{Channel: ChannelEmail}, []string{"to", "subject"}},
		{"email_bad_cc", &ComposeDraft{Channel: ChannelEmail, To: to, Subject: "s", Cc: SelectedRecipients{{Address: "not-an-email"}}}, []string{"cc[0]"}},
		{"email_bad_from", &ComposeDraft{Channel: ChannelEmail, To: to, Subject: "s", From: &RecipientCandidate{Address: "desk"}}, []string{"from"}},
		{"email_named_from", &ComposeDraft{Channel: ChannelEmail, To: to, Subject: "s", From: &RecipientCandidate{Address: "Desk <desk@example.com>"}}, nil},
		{"sms_ok_without_subject", &ComposeDraft{Channel: ChannelSMS, To: SelectedRecipients{{Address: "+1555"}}, Body: "hi"}, nil},
		{"sms_missing_body", &ComposeDraft{Channel: ChannelSMS, To: SelectedRecipients{{Address: "+1555"}}}, []string{"body"}},
		{"sms_with_attachment", &ComposeDraft{Channel: ChannelSMS, To: SelectedRecipients{{Address: "+1555"}}, Body: "b", Attachments: []AttachmentRef{{ID: "a"}}}, []string{"attachments"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before ComposeDraft
			if tt.draft != nil {
				before = *tt.draft
			}
			errs := ValidateDraft(tt.draft)
			got := make([]string, 0, len(errs))
			for _, e := range errs {
				got = append(got, e.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
			if tt.draft != nil {
				assert.Equal(t, before, *tt.draft, "validation never mutates the draft")
			}
		})
	}
}

func TestValidateOTP(t *testing.T) {
	assert.NoError(t, ValidateOTP("000000", 6))
	assert.NoError(t, ValidateOTP(" 483920 ", 6))
	assert.Error(t, ValidateOTP("", 6))
	assert.Error(t, ValidateOTP("48392", 6))
	assert.Error(t, ValidateOTP("48392a", 6))
	assert.Error(t, ValidateOTP("４８３９２０", 6))
}

func TestBuildPayload_SMSOmitsEmailFields(t *testing.T) {
	d := &ComposeDraft{
		Channel:     ChannelSMS,
		From:        &RecipientCandidate{Address: "+15550000"},
		To:          SelectedRecipients{{Address: "+15550100"}},
		Cc:          SelectedRecipients{{Address: "+15550101"}},
		Subject:     "ignored",
		Body:        "Reminder",
		Attachments: []AttachmentRef{{ID: "x"}},
	}
	p := BuildPayload(d)
	assert.Equal(t, SubmitPayload{Channel: ChannelSMS, From: "+15550000", To: "+15550100", Body: "Reminder"}, p)
}

func TestErrorKindOf(t *testing.T) {
	assert.Equal(t, KindNone, ErrorKindOf(nil))
	assert.Equal(t, KindClientValidation, ErrorKindOf(&ClientValidationError{}))
	assert.Equal(t, KindServerValidation, ErrorKindOf(&ServerValidationError{Fields: map[string][]string{"to": {"bad"}}}))
	assert.Equal(t, KindServerRejection, ErrorKindOf(&ServerRejectionError{Message: "no"}))
	assert.Equal(t, KindTransport, ErrorKindOf(&TransportError{Op: "x", Err: ErrTimeout}))
	assert.Equal(t, KindState, ErrorKindOf(ErrSubmitInFlight))
	assert.Equal(t, KindState, ErrorKindOf(ErrDeleteAlreadyPending))
	assert.Equal(t, KindState, ErrorKindOf(fmt.Errorf("%w: b", ErrNoPendingDelete)))
	assert.Equal(t, KindState, ErrorKindOf(ErrDeleteRequestExpired))

	assert.True(t, IsRetryableError(&TransportError{Op: "x", Err: ErrTimeout}))
	assert.False(t, IsRetryableError(&ServerRejectionError{}))

	sv := &ServerValidationError{Fields: map[string][]string{"to": {"x"}, "body": {"y"}}}
	assert.Equal(t, "server validation failed for body, to", sv.Error())
}
