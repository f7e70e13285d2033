// Package cache is the persistent chat cache: the signed-in user's token,
// chat list and per-chat message history, stored as JSON in a key-value
// namespace shared by the whole session.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/securetalk/internal/model"
)

// Store is the key-value namespace backing the cache.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

const (
	KeyToken = "user_token"
	KeyChats = "local_chats"

	threadPrefix         = "local_messages_"
	profilePicturePrefix = "profile_picture_"
)

// ErrCorrupt wraps values that exist but cannot be decoded.
var ErrCorrupt = errors.New("corrupt cache value")

// ThreadKey returns the key holding a chat's message history.
func ThreadKey(chatID string) string { return threadPrefix + chatID }

// ProfilePictureKey returns the key holding a contact's picture URL.
func ProfilePictureKey(contactID string) string { return profilePicturePrefix + contactID }

// Cache reads and writes typed values in the store.
type Cache struct {
	store Store
}

// New creates a cache over the given store.
func New(s Store) *Cache {
	return &Cache{store: s}
}

// Token returns the stored bearer token, or "" when signed out.
func (c *Cache) Token(ctx context.Context) (string, error) {
	v, _, err := c.store.Get(ctx, KeyToken)
	return v, err
}

// SetToken stores the bearer token.
func (c *Cache) SetToken(ctx context.Context, token string) error {
	return c.store.Set(ctx, KeyToken, token)
}

// ClearSession removes the token and the chat list. Per-chat threads are kept.
func (c *Cache) ClearSession(ctx context.Context) error {
	return errors.Join(
		c.store.Delete(ctx, KeyToken),
		c.store.Delete(ctx, KeyChats),
	)
}

// LoadChats returns the cached chat list. A missing key yields an empty list.
func (c *Cache) LoadChats(ctx context.Context) ([]model.ChatSummary, error) {
	var chats []model.ChatSummary
	if err := c.load(ctx, KeyChats, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// SaveChats replaces the cached chat list.
func (c *Cache) SaveChats(ctx context.Context, chats []model.ChatSummary) error {
	if chats == nil {
		chats = []model.ChatSummary{}
	}
	return c.save(ctx, KeyChats, chats)
}

// LoadThread returns the cached history of a chat.
func (c *Cache) LoadThread(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	if err := c.load(ctx, ThreadKey(chatID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SaveThread replaces the cached history of a chat.
func (c *Cache) SaveThread(ctx context.Context, chatID string, msgs []model.Message) error {
	if msgs == nil {
		msgs = []model.Message{}
	}
	return c.save(ctx, ThreadKey(chatID), msgs)
}

// ProfilePicture returns a contact's cached picture URL, or "".
func (c *Cache) ProfilePicture(ctx context.Context, contactID string) (string, error) {
	v, _, err := c.store.Get(ctx, ProfilePictureKey(contactID))
	return v, err
}

// SetProfilePicture caches a contact's picture URL.
func (c *Cache) SetProfilePicture(ctx context.Context, contactID, url string) error {
	return c.store.Set(ctx, ProfilePictureKey(contactID), url)
}

func (c *Cache) load(ctx context.Context, key string, v any) error {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

func (c *Cache) save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.store.Set(ctx, key, string(b))
}
