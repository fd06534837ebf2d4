package events

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mbd888/solmarket/internal/quanta"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	c := &client{sub: Subscription{AllEvents: true}}

	ev := &Event{Type: BidPlaced}
	if !h.shouldSend(c, ev) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_TypeFilter(t *testing.T) {
	h := testHub()
	c := &client{sub: Subscription{Types: []Type{BidPlaced, ListingCreated}}}

	if !h.shouldSend(c, &Event{Type: BidPlaced}) {
		t.Error("should receive bid_placed")
	}
	if !h.shouldSend(c, &Event{Type: ListingCreated}) {
		t.Error("should receive listing_created")
	}
	if h.shouldSend(c, &Event{Type: DisputeOpened}) {
		t.Error("should not receive dispute_opened")
	}
}

func TestShouldSend_ListingFilter(t *testing.T) {
	h := testHub()
	listing := quanta.Pubkey{7}
	other := quanta.Pubkey{8}
	ev := NewEvent(BidPlaced, 100, listing, nil)

	matching := &client{sub: Subscription{Listings: []string{ev.Listing}}}
	nonMatching := &client{sub: Subscription{Listings: []string{NewEvent(BidPlaced, 100, other, nil).Listing}}}

	if !h.shouldSend(matching, ev) {
		t.Error("should match subscribed listing")
	}
	if h.shouldSend(nonMatching, ev) {
		t.Error("should not match unrelated listing")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	c := &client{sub: Subscription{}}
	if !h.shouldSend(c, &Event{Type: BidPlaced}) {
		t.Error("empty subscription (no filters) should receive events")
	}
}

func TestHub_PublishDelivers(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	c := &client{hub: h, send: make(chan []byte, 256), sub: Subscription{AllEvents: true}}
	h.register <- c
	time.Sleep(50 * time.Millisecond)

	h.Publish(NewEvent(SaleCompleted, 100, quanta.Pubkey{1}, map[string]any{"sale_price": 100}))

	select {
	case msg := <-c.send:
		if len(msg) == 0 {
			t.Error("expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for publish")
	}
}

func TestHub_FilteredPublish(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	c := &client{hub: h, send: make(chan []byte, 256), sub: Subscription{Types: []Type{DisputeOpened}}}
	h.register <- c
	time.Sleep(50 * time.Millisecond)

	h.Publish(NewEvent(BidPlaced, 100, quanta.Pubkey{1}, nil))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-c.send:
		t.Error("client should not receive bid_placed")
	default:
	}

	h.Publish(NewEvent(DisputeOpened, 100, quanta.Pubkey{1}, nil))
	select {
	case <-c.send:
	case <-time.After(time.Second):
		t.Error("client should receive dispute_opened")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("hub did not stop after context cancellation")
	}
}
