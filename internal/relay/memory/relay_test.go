package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"skillswap/native/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu   sync.Mutex
	msgs []domain.SignalMessage
	got  chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 64)}
}

func (c *collector) fn(m domain.SignalMessage) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []domain.SignalMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.msgs) >= n {
			out := append([]domain.SignalMessage(nil), c.msgs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

func signal(t *testing.T, callID, from, to string, kind domain.SignalKind) domain.SignalMessage {
	t.Helper()
	msg, err := domain.NewSignalMessage(callID, from, to, kind, json.RawMessage(`{"type":"offer","sdp":"v=0"}`))
	if err != nil {
		t.Fatalf("NewSignalMessage: %v", err)
	}
	return msg
}

func TestRelay_ReplaysBacklogThenLive(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	first := signal(t, "room-42", "a1", "b2", domain.SignalOffer)
	if err := r.Send(ctx, first); err != nil {
		t.Fatalf("Send: %v", err)
	}

	c := newCollector()
	sub, err := r.Subscribe(ctx, domain.SubscribeRequest{CallID: "room-42", ParticipantID: "b2"}, c.fn)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	second := signal(t, "room-42", "a1", "b2", domain.SignalICECandidate)
	if err := r.Send(ctx, second); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := c.wait(t, 2)
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Fatalf("order = %s,%s, want %s,%s", got[0].ID, got[1].ID, first.ID, second.ID)
	}
	if got[0].Seq >= got[1].Seq {
		t.Errorf("seq not increasing: %d, %d", got[0].Seq, got[1].Seq)
	}
}

func TestRelay_FiltersByCallAndRecipient(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	c := newCollector()
	sub, err := r.Subscribe(ctx, domain.SubscribeRequest{CallID: "room-42", ParticipantID: "b2"}, c.fn)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	for _, m := range []domain.SignalMessage{
		signal(t, "room-7", "a1", "b2", domain.SignalOffer),
		signal(t, "room-42", "b2", "a1", domain.SignalAnswer),
		signal(t, "room-42", "a1", "b2", domain.SignalOffer),
	} {
		if err := r.Send(ctx, m); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	got := c.wait(t, 1)
	if len(got) != 1 || got[0].CallID != "room-42" || got[0].To != "b2" {
		t.Fatalf("got %+v, want only the room-42 message for b2", got)
	}
}

func TestRelay_SinceSkipsOlderMessages(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	old := signal(t, "room-42", "a1", "b2", domain.SignalOffer)
	old.SentAt = time.Now().Add(-time.Hour)
	fresh := signal(t, "room-42", "a1", "b2", domain.SignalOffer)
	for _, m := range []domain.SignalMessage{old, fresh} {
		if err := r.Send(ctx, m); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	c := newCollector()
	sub, err := r.Subscribe(ctx, domain.SubscribeRequest{
		CallID:        "room-42",
		ParticipantID: "b2",
		Since:         time.Now().Add(-time.Minute),
	}, c.fn)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	got := c.wait(t, 1)
	if got[0].ID != fresh.ID {
		t.Errorf("replayed %s, want %s", got[0].ID, fresh.ID)
	}
}

func TestRelay_DuplicateIDStoredOnce(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	msg := signal(t, "room-42", "a1", "b2", domain.SignalOffer)
	a, err := r.Append(ctx, msg)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	b, err := r.Append(ctx, msg)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if a.Seq != b.Seq {
		t.Errorf("seq = %d then %d, want the stored copy", a.Seq, b.Seq)
	}

	list, err := r.List(ctx, domain.SignalQuery{CallID: "room-42"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("stored %d messages, want 1", len(list))
	}
}

func TestRelay_RejectsInvalid(t *testing.T) {
	r := New(nil)
	err := r.Send(context.Background(), domain.SignalMessage{CallID: "room-42", From: "a1", To: "b2", Kind: "bogus", Payload: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestRelay_NoCallbackAfterUnsubscribe(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	c := newCollector()
	sub, err := r.Subscribe(ctx, domain.SubscribeRequest{CallID: "room-42", ParticipantID: "b2"}, c.fn)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	if err := r.Send(ctx, signal(t, "room-42", "a1", "b2", domain.SignalOffer)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) != 0 {
		t.Errorf("got %d callbacks after Unsubscribe", len(c.msgs))
	}
	if n := r.Subscribers(); n != 0 {
		t.Errorf("Subscribers = %d, want 0", n)
	}
}

func TestRelay_ListLimitAndAfterSeq(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := r.Send(ctx, signal(t, "room-42", "a1", "b2", domain.SignalICECandidate)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	list, err := r.List(ctx, domain.SignalQuery{CallID: "room-42", AfterSeq: 2, Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d messages, want 2", len(list))
	}
	if list[0].Seq != 3 || list[1].Seq != 4 {
		t.Errorf("seqs = %d,%d, want 3,4", list[0].Seq, list[1].Seq)
	}
}
