// Package message holds the in-flight record a pipeline operates on.
package message

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one line of a message's execution log.
type Entry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

func (e Entry) String() string {
	return e.At.Format(time.RFC3339Nano) + " " + e.Text
}

// Context describes one message travelling through a pipeline. Steps of the same
// pipeline run sequentially; the mutex only guards readers on other goroutines.
type Context struct {
	mu sync.Mutex

	id        string
	typ       string
	payload   any
	headers   map[string]string
	createdAt time.Time
	now       func() time.Time

	retryCount   int
	log          []Entry
	processed    bool
	errorMessage *string
}

type Option func(*Context)

// WithHeaders copies h into the message headers.
func WithHeaders(h map[string]string) Option {
	return func(c *Context) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithClock replaces time.Now for timestamps and log entries.
func WithClock(now func() time.Time) Option {
	return func(c *Context) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a message of the given type with a fresh id.
func New(messageType string, payload any, opts ...Option) *Context {
	c := &Context{
		id:      uuid.NewString(),
		typ:     messageType,
		payload: payload,
		headers: make(map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.createdAt = c.now().UTC()
	return c
}

// Restore rebuilds a message that was accepted earlier, keeping its id and creation time.
func Restore(id, messageType string, payload any, createdAt time.Time, opts ...Option) *Context {
	c := New(messageType, payload, opts...)
	c.id = id
	if !createdAt.IsZero() {
		c.createdAt = createdAt.UTC()
	}
	return c
}

func (c *Context) ID() string           { return c.id }
func (c *Context) Type() string         { return c.typ }
func (c *Context) Payload() any         { return c.payload }
func (c *Context) CreatedAt() time.Time { return c.createdAt }

// Now reads the message clock.
func (c *Context) Now() time.Time { return c.now().UTC() }

// Headers returns the live header map. Callers may mutate it.
func (c *Context) Headers() map[string]string { return c.headers }

func (c *Context) Header(key string) (string, bool) {
	v, ok := c.headers[key]
	return v, ok
}

// HeaderFloat parses a numeric header.
func (c *Context) HeaderFloat(key string) (float64, bool, error) {
	raw, ok := c.headers[key]
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, fmt.Errorf("header %s: %w", key, err)
	}
	return v, true, nil
}

func (c *Context) SetHeader(key, value string) { c.headers[key] = value }

// HeadersCopy returns a snapshot of the headers.
func (c *Context) HeadersCopy() map[string]string {
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

func (c *Context) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// IncrementRetry bumps the retry counter and returns the new value.
func (c *Context) IncrementRetry() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCount++
	return c.retryCount
}

// Logf appends a timestamped entry to the execution log.
func (c *Context) Logf(format string, args ...any) {
	entry := Entry{At: c.Now(), Text: fmt.Sprintf(format, args...)}
	c.mu.Lock()
	c.log = append(c.log, entry)
	c.mu.Unlock()
}

// ExecutionLog returns a copy of the execution log in append order.
func (c *Context) ExecutionLog() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.log))
	copy(out, c.log)
	return out
}

// ExecutionLogLines renders the log as strings.
func (c *Context) ExecutionLogLines() []string {
	entries := c.ExecutionLog()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

func (c *Context) IsProcessed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed
}

// MarkProcessed flags the message as fully handled. It cannot be undone.
func (c *Context) MarkProcessed() {
	c.mu.Lock()
	c.processed = true
	c.mu.Unlock()
}

// ErrorMessage reports the terminal failure, if one was recorded.
func (c *Context) ErrorMessage() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errorMessage == nil {
		return "", false
	}
	return *c.errorMessage, true
}

// SetError records msg as the terminal failure unless one is already set.
// It reports whether msg was stored.
func (c *Context) SetError(msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errorMessage != nil {
		return false
	}
	c.errorMessage = &msg
	return true
}
