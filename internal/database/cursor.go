package database

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is an opaque pagination token over (created_at DESC, id DESC).
// The encoded form carries the payload plus a truncated HMAC-SHA256 tag so
// clients cannot mint or alter positions.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

const cursorTagLen = 16

// CursorCodec signs and verifies pagination cursors with a process secret.
type CursorCodec struct {
	secret []byte
}

// NewCursorCodec builds a codec from the configured secret.
func NewCursorCodec(secret string) (*CursorCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("cursor secret is empty")
	}
	return &CursorCodec{secret: []byte(secret)}, nil
}

// Encode serializes a cursor position.
func (c *CursorCodec) Encode(cur Cursor) string {
	payload := fmt.Sprintf("%d|%s", cur.CreatedAt.UnixMicro(), cur.ID)
	tag := c.sign(payload)
	return base64.RawURLEncoding.EncodeToString(append([]byte(payload), tag...))
}

// Decode parses and verifies a cursor string. Tampered, truncated or
// malformed input yields an error; callers map it to a 400.
func (c *CursorCodec) Decode(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor: %w", err)
	}
	if len(raw) <= cursorTagLen {
		return Cursor{}, fmt.Errorf("malformed cursor: too short")
	}

	payload := raw[:len(raw)-cursorTagLen]
	tag := raw[len(raw)-cursorTagLen:]
	if !hmac.Equal(tag, c.sign(string(payload))) {
		return Cursor{}, fmt.Errorf("cursor signature mismatch")
	}

	parts := strings.SplitN(string(payload), "|", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("malformed cursor payload")
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor timestamp: %w", err)
	}

	return Cursor{
		CreatedAt: time.UnixMicro(micros).UTC(),
		ID:        parts[1],
	}, nil
}

func (c *CursorCodec) sign(payload string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)[:cursorTagLen]
}

// Page wraps a result window with its continuation token.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// pageFrom trims an overfetched slice (limit+1 rows) into a page and builds
// the next cursor from the last visible item.
func pageFrom[T any](items []T, limit int, codec *CursorCodec, position func(T) Cursor) Page[T] {
	page := Page[T]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		next := codec.Encode(position(page.Items[len(page.Items)-1]))
		page.NextCursor = &next
	}
	return page
}
