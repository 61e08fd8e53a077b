package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateService_SaveListGet(t *testing.T) {
	dir := t.TempDir()
	svc := NewTemplateService(dir)

	require.NoError(t, svc.SaveTemplate(&MessageTemplate{ID: "hearing", Name: "Hearing notice", Channel: ChannelEmail, Subject: "Hearing on {{date}}", Body: "See you {{date}}"}))
	require.NoError(t, svc.SaveTemplate(&MessageTemplate{ID: "reminder", Name: "Appointment reminder", Channel: ChannelSMS, Body: "Reminder: {{date}}"}))
	require.NoError(t, svc.SaveTemplate(&MessageTemplate{ID: "thanks", Name: "Thanks", Body: "Thank you"}))

	email, err := svc.ListTemplates(ChannelEmail)
	require.NoError(t, err)
	require.Len(t, email, 2)
	assert.Equal(t, "Hearing notice", email[0].Name)
	assert.Equal(t, "Thanks", email[1].Name)

	sms, err := svc.ListTemplates(ChannelSMS)
	require.NoError(t, err)
	require.Len(t, sms, 2)
	assert.Equal(t, "Appointment reminder", sms[0].Name)

	tpl, err := svc.GetTemplate("hearing")
	require.NoError(t, err)
	assert.Equal(t, "Hearing on {{date}}", tpl.Subject)

	_, err = svc.GetTemplate("missing")
	assert.Error(t, err)
	_, err = svc.GetTemplate(" ")
	assert.Error(t, err)
}

func TestTemplateService_SkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("template: ["), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.yaml"), []byte("other: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fax.yaml"), []byte("template:\n  name: Fax\n  channel: fax\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.yml"), []byte("template:\n  name: OK\n  body: hi\n"), 0o644))

	svc := NewTemplateService(dir)
	list, err := svc.ListTemplates(ChannelEmail)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ok", list[0].ID, "ID defaults to the file name")

	assert.ErrorIs(t, svc.SaveTemplate(&MessageTemplate{ID: "x", Channel: "fax"}), ErrInvalidChannel)
}

func TestTemplateService_MissingDirectory(t *testing.T) {
	svc := NewTemplateService(filepath.Join(t.TempDir(), "absent"))
	list, err := svc.ListTemplates(ChannelEmail)
	assert.NoError(t, err)
	assert.Empty(t, list)
}
