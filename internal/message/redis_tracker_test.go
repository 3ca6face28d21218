package message_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/melo-live/internal/domain"
	"github.com/weiawesome/melo-live/internal/message"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T) (message.Tracker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tracker := message.NewRedisTracker(client, message.Options{
		Prefix:       "melo",
		RetentionTTL: 24 * time.Hour,
		PageSize:     50,
		CacheTTL:     30 * time.Second,
	})
	return tracker, mr, client
}

func enqueue(t *testing.T, tracker message.Tracker, id string, at time.Time, expected ...string) {
	t.Helper()
	err := tracker.Enqueue(context.Background(), domain.Message{
		MessageID: id,
		RoomID:    "general",
		SenderID:  "u1",
		Content:   "hello " + id,
		CreatedAt: at,
	}, expected)
	if err != nil {
		t.Fatalf("Enqueue %s err: %v", id, err)
	}
}

func TestEnqueueValidation(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	cases := []domain.Message{
		{RoomID: "general", SenderID: "u1", Content: "x"},
		{MessageID: "m1", SenderID: "u1", Content: "x"},
		{MessageID: "m1", RoomID: "general", Content: "x"},
		{MessageID: "m1", RoomID: "general", SenderID: "u1", Content: "   "},
		{MessageID: "m1", RoomID: "general", SenderID: "u1", Content: strings.Repeat("a", domain.MaxContentLength+1)},
	}
	for i, msg := range cases {
		if err := tracker.Enqueue(ctx, msg, nil); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestRoomMessagesNewestFirst(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		enqueue(t, tracker, id, base.Add(time.Duration(i)*time.Second))
	}

	msgs, err := tracker.RoomMessages(ctx, "general", 3, "")
	if err != nil {
		t.Fatalf("RoomMessages err: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"m5", "m4", "m3"} {
		if msgs[i].MessageID != want {
			t.Errorf("msgs[%d] = %s, want %s", i, msgs[i].MessageID, want)
		}
	}
}

func TestRoomMessagesCursor(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		enqueue(t, tracker, id, base.Add(time.Duration(i)*time.Second))
	}

	head, err := tracker.RoomMessages(ctx, "general", 2, "")
	if err != nil {
		t.Fatalf("head err: %v", err)
	}
	if len(head) != 2 || head[0].MessageID != "m5" || head[1].MessageID != "m4" {
		t.Fatalf("head = %+v", head)
	}

	next, err := tracker.RoomMessages(ctx, "general", 2, head[1].MessageID)
	if err != nil {
		t.Fatalf("cursor page err: %v", err)
	}
	if len(next) != 2 || next[0].MessageID != "m3" || next[1].MessageID != "m2" {
		t.Fatalf("cursor page = %+v", next)
	}

	last, err := tracker.RoomMessages(ctx, "general", 2, next[1].MessageID)
	if err != nil {
		t.Fatalf("last page err: %v", err)
	}
	if len(last) != 1 || last[0].MessageID != "m1" {
		t.Fatalf("last page = %+v", last)
	}

	if _, err := tracker.RoomMessages(ctx, "general", 2, "ghost"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown cursor, got %v", err)
	}
}

func TestRoomMessagesEmptyRoom(t *testing.T) {
	tracker, _, _ := newTestTracker(t)

	msgs, err := tracker.RoomMessages(context.Background(), "empty", 10, "")
	if err != nil {
		t.Fatalf("RoomMessages err: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}

func TestConfirmDelivery(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	enqueue(t, tracker, "m1", base, "u2", "u3")

	// Unknown messages are a no-op, not an error.
	known, err := tracker.ConfirmDelivery(ctx, "ghost", "u2")
	if err != nil {
		t.Fatalf("ConfirmDelivery ghost err: %v", err)
	}
	if known {
		t.Fatal("expected known=false for unknown message")
	}

	// First ack: still pending.
	known, err = tracker.ConfirmDelivery(ctx, "m1", "u2")
	if err != nil {
		t.Fatalf("ConfirmDelivery u2 err: %v", err)
	}
	if !known {
		t.Fatal("expected known=true")
	}
	pending, err := tracker.Pending(ctx, "general")
	if err != nil {
		t.Fatalf("Pending err: %v", err)
	}
	if len(pending) != 1 || !pending[0].Pending {
		t.Fatalf("pending = %+v, want m1 still pending", pending)
	}

	// Second ack completes the expected set.
	if _, err := tracker.ConfirmDelivery(ctx, "m1", "u3"); err != nil {
		t.Fatalf("ConfirmDelivery u3 err: %v", err)
	}
	pending, err = tracker.Pending(ctx, "general")
	if err != nil {
		t.Fatalf("Pending err: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %+v, want empty", pending)
	}

	msgs, err := tracker.RoomMessages(ctx, "general", 1, "")
	if err != nil {
		t.Fatalf("RoomMessages err: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Pending {
		t.Fatalf("msgs = %+v, want settled m1", msgs)
	}
}

func TestConfirmDeliveryIdempotent(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	enqueue(t, tracker, "m1", base, "u2")

	for i := 0; i < 3; i++ {
		known, err := tracker.ConfirmDelivery(ctx, "m1", "u2")
		if err != nil {
			t.Fatalf("ConfirmDelivery #%d err: %v", i, err)
		}
		if !known {
			t.Fatalf("ConfirmDelivery #%d: expected known=true", i)
		}
	}
}

func TestSettlingPreservesRetention(t *testing.T) {
	tracker, mr, _ := newTestTracker(t)
	ctx := context.Background()

	enqueue(t, tracker, "m1", base, "u2")

	// Ack an hour in: the settle rewrite must not restart the 24h clock.
	mr.FastForward(time.Hour)
	if _, err := tracker.ConfirmDelivery(ctx, "m1", "u2"); err != nil {
		t.Fatalf("ConfirmDelivery err: %v", err)
	}

	mr.FastForward(23*time.Hour + time.Minute)
	known, err := tracker.ConfirmDelivery(ctx, "m1", "u2")
	if err != nil {
		t.Fatalf("ConfirmDelivery after expiry err: %v", err)
	}
	if known {
		t.Fatal("expected message to have expired 24h after enqueue")
	}
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	ctx := context.Background()

	enqueue(t, tracker, "m1", base, "u2", "u3")
	enqueue(t, tracker, "m2", base.Add(time.Second), "u2")

	count, err := tracker.UnreadCount(ctx, "u2")
	if err != nil {
		t.Fatalf("UnreadCount err: %v", err)
	}
	if count != 2 {
		t.Errorf("unread = %d, want 2", count)
	}

	was, err := tracker.MarkRead(ctx, "m1", "u2")
	if err != nil {
		t.Fatalf("MarkRead err: %v", err)
	}
	if !was {
		t.Fatal("expected m1 to be unread for u2")
	}

	was, err = tracker.MarkRead(ctx, "m1", "u2")
	if err != nil {
		t.Fatalf("second MarkRead err: %v", err)
	}
	if was {
		t.Fatal("expected second MarkRead to be a no-op")
	}

	count, err = tracker.UnreadCount(ctx, "u2")
	if err != nil {
		t.Fatalf("UnreadCount err: %v", err)
	}
	if count != 1 {
		t.Errorf("unread = %d, want 1", count)
	}
}

func TestExpiredBodiesArePruned(t *testing.T) {
	tracker, mr, client := newTestTracker(t)
	ctx := context.Background()

	enqueue(t, tracker, "m1", base, "u2")
	enqueue(t, tracker, "m2", base.Add(time.Second), "u2")

	// Drop one body out from under the index.
	mr.Del("melo:msg:m1")

	msgs, err := tracker.RoomMessages(ctx, "general", 10, "")
	if err != nil {
		t.Fatalf("RoomMessages err: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "m2" {
		t.Fatalf("msgs = %+v, want only m2", msgs)
	}

	indexed, err := client.ZCard(ctx, "melo:room:general:messages").Result()
	if err != nil {
		t.Fatalf("ZCard err: %v", err)
	}
	if indexed != 1 {
		t.Errorf("index size = %d, want 1 after pruning", indexed)
	}

	pending, err := tracker.Pending(ctx, "general")
	if err != nil {
		t.Fatalf("Pending err: %v", err)
	}
	if len(pending) != 1 || pending[0].MessageID != "m2" {
		t.Fatalf("pending = %+v, want only m2", pending)
	}
}
