// Copyright 2024-2026 Aiku AI

package pushchat

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
	"golang.org/x/sync/singleflight"
)

// requester is the part of the gateway the cache needs.
type requester interface {
	Request(ctx context.Context, method, path string, body, out any, opts ...RequestOptions) error
}

// Cache is the id-keyed store of users and channels seen during a session.
// Lookups resolve from memory and fall back to a fetch through the gateway.
//
// Without de-duplication, concurrent misses for the same id each perform
// their own fetch; all of them still converge on a single object per id.
type Cache struct {
	api    requester
	log    zerolog.Logger
	dedupe bool

	users    *exsync.Map[string, *User]
	channels *exsync.Map[string, *Channel]

	userFetches    singleflight.Group
	channelFetches singleflight.Group
}

// NewCache creates an empty cache. When dedupe is set, concurrent misses
// for the same id share one in-flight fetch.
func NewCache(api requester, dedupe bool, log zerolog.Logger) *Cache {
	return &Cache{
		api:      api,
		log:      log.With().Str("component", "entity_cache").Logger(),
		dedupe:   dedupe,
		users:    exsync.NewMap[string, *User](),
		channels: exsync.NewMap[string, *Channel](),
	}
}

// User returns the cached user without fetching.
func (c *Cache) User(id string) (*User, bool) {
	return c.users.Get(id)
}

// Channel returns the cached channel without fetching.
func (c *Cache) Channel(id string) (*Channel, bool) {
	return c.channels.Get(id)
}

// StoreUser inserts or refreshes a user and returns the canonical object.
func (c *Cache) StoreUser(raw RawUser) *User {
	return c.storeUser(raw.ID, raw)
}

func (c *Cache) storeUser(key string, raw RawUser) *User {
	user, wasGet := c.users.GetOrSet(key, newUser(raw))
	if wasGet {
		user.update(raw)
	}
	return user
}

// StoreChannel inserts or refreshes a channel and returns the canonical object.
func (c *Cache) StoreChannel(raw RawChannel) *Channel {
	return c.storeChannel(raw.ID, raw)
}

func (c *Cache) storeChannel(key string, raw RawChannel) *Channel {
	channel, wasGet := c.channels.GetOrSet(key, newChannel(raw))
	if wasGet {
		channel.update(raw)
	}
	return channel
}

// sharedFetch runs fn once per key for all concurrent callers. The fetch
// itself outlives any single caller's context; each caller stops waiting
// when its own context ends.
func sharedFetch[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// FindUser returns the cached user or fetches it.
func (c *Cache) FindUser(ctx context.Context, id string) (*User, error) {
	if user, ok := c.users.Get(id); ok {
		return user, nil
	}
	return c.FetchUser(ctx, id)
}

// FetchUser always fetches the user and refreshes the cache entry.
func (c *Cache) FetchUser(ctx context.Context, id string) (*User, error) {
	if !c.dedupe {
		return c.fetchUser(ctx, id)
	}
	user, shared, err := sharedFetch(ctx, &c.userFetches, id, func(ctx context.Context) (*User, error) {
		return c.fetchUser(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Trace().Str("user_id", id).Msg("Shared in-flight user fetch")
	}
	return user, nil
}

func (c *Cache) fetchUser(ctx context.Context, id string) (*User, error) {
	var raw RawUser
	if err := c.api.Request(ctx, "GET", "/users/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	if raw.ID == "" {
		raw.ID = id
	} else if raw.ID != id {
		c.log.Debug().Str("user_id", id).Str("returned_id", raw.ID).Msg("Server returned a different user id")
	}
	c.log.Debug().Str("user_id", id).Msg("Fetched user")
	return c.storeUser(id, raw), nil
}

// FindChannel returns the cached channel or fetches it.
func (c *Cache) FindChannel(ctx context.Context, id string) (*Channel, error) {
	if channel, ok := c.channels.Get(id); ok {
		return channel, nil
	}
	if !c.dedupe {
		return c.fetchChannel(ctx, id)
	}
	channel, _, err := sharedFetch(ctx, &c.channelFetches, id, func(ctx context.Context) (*Channel, error) {
		return c.fetchChannel(ctx, id)
	})
	return channel, err
}

func (c *Cache) fetchChannel(ctx context.Context, id string) (*Channel, error) {
	var raw RawChannel
	if err := c.api.Request(ctx, "GET", "/channels/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s: %w", id, err)
	}
	if raw.ID == "" {
		raw.ID = id
	}
	c.log.Debug().Str("channel_id", id).Msg("Fetched channel")
	return c.storeChannel(id, raw), nil
}

// Lookup searches users and returns them in server order, each resolved
// through the per-id cache path.
func (c *Cache) Lookup(ctx context.Context, query string) ([]*User, error) {
	var raws []RawUser
	body := map[string]string{"query": query}
	if err := c.api.Request(ctx, "POST", "/users/lookup", body, &raws); err != nil {
		return nil, fmt.Errorf("failed to look up users: %w", err)
	}
	users := make([]*User, 0, len(raws))
	for _, raw := range raws {
		if raw.ID == "" {
			c.log.Debug().Str("username", raw.Username).Msg("Skipping lookup result without id")
			continue
		}
		users = append(users, c.StoreUser(raw))
	}
	return users, nil
}
