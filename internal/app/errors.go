package app

import (
	"sync"
	"time"

	"github.com/stemsi/exstem-composer/internal/observe"
)

const (
	defaultErrorTitle   = "Error"
	defaultErrorContent = "Unknown error"
)

// ErrorEntry is a user-facing failure waiting to be dismissed.
type ErrorEntry struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorCollector keeps failures until the user dismisses them. It satisfies
// api.ErrorSink.
type ErrorCollector struct {
	notifier *observe.Notifier
	now      func() time.Time

	mu      sync.Mutex
	counter int
	entries []ErrorEntry
}

// NewErrorCollector creates an empty collector. notifier may be nil.
func NewErrorCollector(notifier *observe.Notifier) *ErrorCollector {
	return &ErrorCollector{notifier: notifier, now: time.Now}
}

// Add records a failure and returns its id. Ids are never reused.
func (c *ErrorCollector) Add(title, content string) int {
	if title == "" {
		title = defaultErrorTitle
	}
	if content == "" {
		content = defaultErrorContent
	}

	c.mu.Lock()
	c.counter++
	id := c.counter
	c.entries = append(c.entries, ErrorEntry{ID: id, Title: title, Content: content, CreatedAt: c.now()})
	c.mu.Unlock()

	c.notifier.Publish(observe.Change{Topic: observe.TopicErrors, Field: "added"})
	return id
}

// Remove dismisses the entry with the given id. Unknown ids are ignored.
func (c *ErrorCollector) Remove(id int) bool {
	c.mu.Lock()
	removed := false
	for i, e := range c.entries {
		if e.ID == id {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			removed = true
			break
		}
	}
	c.mu.Unlock()

	if removed {
		c.notifier.Publish(observe.Change{Topic: observe.TopicErrors, Field: "removed"})
	}
	return removed
}

// List returns the pending entries, oldest first.
func (c *ErrorCollector) List() []ErrorEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ErrorEntry{}, c.entries...)
}
