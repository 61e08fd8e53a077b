package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirectoryStore(t *testing.T) {
	assert.Nil(t, NewDirectoryStore(nil))

	store := openTestStore(t, "dir_new.db")
	dir := NewDirectoryStore(store)
	assert.NotNil(t, dir)
	assert.Equal(t, store.db, dir.db)
}

func TestDirectoryStore_SaveDirectory_ValidationErrors(t *testing.T) {
	dir := NewDirectoryStore(openTestStore(t, "dir_validation.db"))
	ctx := context.Background()

	tests := []struct {
		name           string
		conversationID string
		channel        string
		candidates     []byte
	}{
		{"empty_conversation", "", "email", []byte("[]")},
		{"whitespace_conversation", "   ", "email", []byte("[]")},
		{"empty_channel", "conv-1", "", []byte("[]")},
		{"empty_candidates", "conv-1", "email", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dir.SaveDirectory(ctx, tt.conversationID, tt.channel, tt.candidates, time.Now().Unix())
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "invalid directory inputs")
		})
	}
}

func TestDirectoryStore_NilStore(t *testing.T) {
	var dir *DirectoryStore
	ctx := context.Background()

	err := dir.SaveDirectory(ctx, "conv-1", "email", []byte("[]"), 1)
	assert.Contains(t, err.Error(), "directory store not initialized")

	_, _, found, err := (&DirectoryStore{}).LoadDirectory(ctx, "conv-1", "email")
	assert.False(t, found)
	assert.Contains(t, err.Error(), "directory store not initialized")
}

func TestDirectoryStore_SaveLoadUpsert(t *testing.T) {
	dir := NewDirectoryStore(openTestStore(t, "dir_roundtrip.db"))
	ctx := context.Background()

	_, _, found, err := dir.LoadDirectory(ctx, "conv-1", "email")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, dir.SaveDirectory(ctx, "conv-1", "email", []byte(`[{"address":"a@x.com"}]`), 100))
	require.NoError(t, dir.SaveDirectory(ctx, "conv-1", "sms", []byte(`[{"address":"+1555"}]`), 100))
	require.NoError(t, dir.SaveDirectory(ctx, "conv-1", "email", []byte(`[{"address":"b@x.com"}]`), 200))

	data, updatedAt, found, err := dir.LoadDirectory(ctx, "conv-1", "email")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(200), updatedAt)
	assert.JSONEq(t, `[{"address":"b@x.com"}]`, string(data))

	data, _, found, err = dir.LoadDirectory(ctx, "conv-1", "sms")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `[{"address":"+1555"}]`, string(data))
}

func TestDirectoryStore_PurgeDirectory(t *testing.T) {
	dir := NewDirectoryStore(openTestStore(t, "dir_purge.db"))
	ctx := context.Background()

	require.NoError(t, dir.SaveDirectory(ctx, "old", "email", []byte("[]"), 100))
	require.NoError(t, dir.SaveDirectory(ctx, "new", "email", []byte("[]"), 300))

	n, err := dir.PurgeDirectory(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, _, found, err := dir.LoadDirectory(ctx, "old", "email")
	require.NoError(t, err)
	assert.False(t, found)
	_, _, found, err = dir.LoadDirectory(ctx, "new", "email")
	require.NoError(t, err)
	assert.True(t, found)
}
