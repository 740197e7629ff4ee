package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: PostPublished})
	b.Publish(Event{Type: PostSkipped}) // a is full; dropped for a only

	if e := <-a; e.Type != PostPublished || e.Time.IsZero() {
		t.Fatalf("a got %+v", e)
	}
	if len(c) != 2 {
		t.Fatalf("c buffered %d events, want 2", len(c))
	}

	unsubA()
	unsubA() // idempotent
	if _, ok := <-a; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: PostFailed}) // must not panic
}
