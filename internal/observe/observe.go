// Package observe is the change notification used by the composition
// components. Readers call pure getters; mutators publish a Change after a
// real mutation so the rendering layer only redraws when something moved.
package observe

import (
	"sync"
	"sync/atomic"
)

// Topic names the component that changed.
type Topic string

const (
	TopicSession  Topic = "session"
	TopicQuestion Topic = "question"
	TopicTimer    Topic = "timer"
	TopicFocus    Topic = "focus"
	TopicChannel  Topic = "channel"
	TopicManager  Topic = "manager"
	TopicErrors   Topic = "errors"
	TopicIdentity Topic = "identity"
)

// Change is published after a mutation.
type Change struct {
	Topic Topic  `json:"topic"`
	Field string `json:"field,omitempty"`
	// QuestionID is set for question-scoped changes.
	QuestionID *int `json:"question_id,omitempty"`
	// Seq is stamped by Publish, unique and increasing per Notifier.
	Seq uint64 `json:"-"`
}

// Notifier fans out changes to subscribers. The zero value is not usable,
// use NewNotifier. A nil *Notifier drops every publication.
type Notifier struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(Change)
	seq    atomic.Uint64
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]func(Change))}
}

// Subscribe registers fn and returns its unsubscribe function. fn is called
// synchronously from the publishing goroutine and must not block.
func (n *Notifier) Subscribe(fn func(Change)) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Publish stamps c with the next sequence number and delivers it to every
// subscriber.
func (n *Notifier) Publish(c Change) {
	if n == nil {
		return
	}
	c.Seq = n.seq.Add(1)

	n.mu.RLock()
	fns := make([]func(Change), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Seq counts publications since creation.
func (n *Notifier) Seq() uint64 {
	if n == nil {
		return 0
	}
	return n.seq.Load()
}

// Set assigns v to *field and reports whether the value actually changed.
// Callers publish only when it did.
func Set[T comparable](field *T, v T) bool {
	if *field == v {
		return false
	}
	*field = v
	return true
}

// IntPtr copies an optional id so published changes never alias state.
func IntPtr(v int) *int {
	return &v
}
