package app

import (
	"testing"

	"github.com/stemsi/exstem-composer/internal/api"
	"github.com/stemsi/exstem-composer/internal/observe"
)

var _ api.ErrorSink = (*ErrorCollector)(nil)

func TestErrorCollector(t *testing.T) {
	n := observe.NewNotifier()
	var changes []string
	n.Subscribe(func(c observe.Change) {
		if c.Topic == observe.TopicErrors {
			changes = append(changes, c.Field)
		}
	})
	c := NewErrorCollector(n)

	first := c.Add("Request error", "GET /x: status 500")
	second := c.Add("", "")
	if first != 1 || second != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", first, second)
	}

	list := c.List()
	if len(list) != 2 || list[1].Title != defaultErrorTitle || list[1].Content != defaultErrorContent {
		t.Fatalf("unexpected entries %+v", list)
	}

	if !c.Remove(first) {
		t.Error("Remove(first) = false")
	}
	if c.Remove(first) {
		t.Error("second Remove(first) = true")
	}
	if third := c.Add("Network error", "dial"); third != 3 {
		t.Errorf("ids must not be reused, got %d", third)
	}

	list = c.List()
	if len(list) != 2 || list[0].ID != second || list[1].ID != 3 {
		t.Errorf("unexpected entries after removal %+v", list)
	}

	want := []string{"added", "added", "removed", "added"}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %q, want %q", i, changes[i], want[i])
		}
	}
}

func TestListReturnsCopy(t *testing.T) {
	c := NewErrorCollector(nil)
	c.Add("t", "c")

	list := c.List()
	list[0].Title = "mutated"
	if c.List()[0].Title != "t" {
		t.Error("List exposes internal storage")
	}
}
