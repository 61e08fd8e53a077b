package services

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// CachedDirectory serves directory defaults from a local cache while they are
// fresh, and falls back to a stale copy when the live lookup fails.
type CachedDirectory struct {
	source ContactDirectoryProvider
	store  DirectoryCache
	ttl    time.Duration
	now    func() time.Time
	logger *log.Logger
}

// NewCachedDirectory wraps source with store. A non-positive ttl always goes to the source
// and uses the cache only as a fallback.
func NewCachedDirectory(source ContactDirectoryProvider, store DirectoryCache, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{source: source, store: store, ttl: ttl, now: time.Now}
}

// SetLogger sets the logger for debug output
func (d *CachedDirectory) SetLogger(logger *log.Logger) {
	d.logger = logger
}

// DirectoryDefaults implements ContactDirectoryProvider
func (d *CachedDirectory) DirectoryDefaults(ctx context.Context, conversationID string, channel Channel) ([]RecipientCandidate, error) {
	cached, updatedAt, found := d.load(ctx, conversationID, channel)
	if found && d.ttl > 0 && d.now().Sub(time.Unix(updatedAt, 0)) < d.ttl {
		return cached, nil
	}

	live, err := d.source.DirectoryDefaults(ctx, conversationID, channel)
	if err != nil {
		if found {
			if d.logger != nil {
				d.logger.Printf("CachedDirectory: live lookup for %s/%s failed, serving cached copy: %v", conversationID, channel, err)
			}
			return cached, nil
		}
		return nil, err
	}

	if d.store == nil {
		return live, nil
	}
	if data, merr := json.Marshal(live); merr == nil {
		if serr := d.store.SaveDirectory(ctx, conversationID, string(channel), data, d.now().Unix()); serr != nil && d.logger != nil {
			d.logger.Printf("CachedDirectory: failed to cache %s/%s: %v", conversationID, channel, serr)
		}
	}
	return live, nil
}

func (d *CachedDirectory) load(ctx context.Context, conversationID string, channel Channel) ([]RecipientCandidate, int64, bool) {
	if d.store == nil {
		return nil, 0, false
	}
	data, updatedAt, ok, err := d.store.LoadDirectory(ctx, conversationID, string(channel))
	if err != nil || !ok {
		if err != nil && d.logger != nil {
			d.logger.Printf("CachedDirectory: cache read for %s/%s failed: %v", conversationID, channel, err)
		}
		return nil, 0, false
	}
	var out []RecipientCandidate
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, 0, false
	}
	return out, updatedAt, true
}
