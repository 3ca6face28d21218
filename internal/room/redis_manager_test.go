package room_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/melo-live/internal/domain"
	"github.com/weiawesome/melo-live/internal/registry"
	"github.com/weiawesome/melo-live/internal/room"
)

func newTestManager(t *testing.T) (room.Manager, registry.SessionRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := registry.NewRedisRegistry(client, "melo", time.Hour, 5*time.Minute)
	mgr := room.NewRedisManager(client, reg, room.Options{
		Prefix:      "melo",
		MetadataTTL: time.Hour,
		TypingTTL:   10 * time.Second,
		SessionTTL:  time.Hour,
	})
	return mgr, reg, mr
}

func register(t *testing.T, reg registry.SessionRegistry, connID, userID string) {
	t.Helper()
	err := reg.Register(context.Background(), domain.Connection{ID: connID, UserID: userID, Authenticated: true})
	if err != nil {
		t.Fatalf("Register %s err: %v", connID, err)
	}
}

func TestJoinCreatesMetadata(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	register(t, reg, "c1", "u1")

	joined, created, err := mgr.Join(ctx, "c1", "u1", "general")
	if err != nil {
		t.Fatalf("Join err: %v", err)
	}
	if !joined || !created {
		t.Fatalf("first join: joined=%v created=%v, want both true", joined, created)
	}

	meta, err := mgr.Metadata(ctx, "general")
	if err != nil {
		t.Fatalf("Metadata err: %v", err)
	}
	if meta.RoomID != "general" || meta.CreatedBy != room.CreatedBySystem || !meta.IsActive {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	// Second join of the same connection is a no-op and does not recreate.
	joined, created, err = mgr.Join(ctx, "c1", "u1", "general")
	if err != nil {
		t.Fatalf("second Join err: %v", err)
	}
	if joined || created {
		t.Errorf("second join: joined=%v created=%v, want both false", joined, created)
	}
}

func TestMetadataUnknownRoom(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	if _, err := mgr.Metadata(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLeave(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	register(t, reg, "c1", "u1")

	// Leaving a room never joined reports no membership.
	left, err := mgr.Leave(ctx, "c1", "u1", "general")
	if err != nil {
		t.Fatalf("Leave err: %v", err)
	}
	if left {
		t.Fatal("expected left=false for non-member")
	}

	if _, _, err := mgr.Join(ctx, "c1", "u1", "general"); err != nil {
		t.Fatalf("Join err: %v", err)
	}
	left, err = mgr.Leave(ctx, "c1", "u1", "general")
	if err != nil {
		t.Fatalf("Leave err: %v", err)
	}
	if !left {
		t.Fatal("expected left=true for member")
	}

	rooms, err := mgr.UserRooms(ctx, "u1")
	if err != nil {
		t.Fatalf("UserRooms err: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("user rooms after leave = %v, want empty", rooms)
	}
}

func TestLeaveKeepsUserRoomWhileOtherConnectionRemains(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	register(t, reg, "c1", "u1")
	register(t, reg, "c2", "u1")

	if _, _, err := mgr.Join(ctx, "c1", "u1", "general"); err != nil {
		t.Fatalf("Join c1 err: %v", err)
	}
	if _, _, err := mgr.Join(ctx, "c2", "u1", "general"); err != nil {
		t.Fatalf("Join c2 err: %v", err)
	}

	if _, err := mgr.Leave(ctx, "c1", "u1", "general"); err != nil {
		t.Fatalf("Leave c1 err: %v", err)
	}
	rooms, err := mgr.UserRooms(ctx, "u1")
	if err != nil {
		t.Fatalf("UserRooms err: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != "general" {
		t.Errorf("user rooms = %v, want [general] while c2 remains", rooms)
	}

	if _, err := mgr.Leave(ctx, "c2", "u1", "general"); err != nil {
		t.Fatalf("Leave c2 err: %v", err)
	}
	rooms, err = mgr.UserRooms(ctx, "u1")
	if err != nil {
		t.Fatalf("UserRooms err: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("user rooms = %v, want empty after last connection left", rooms)
	}
}

func TestParticipantsPrunesExpiredSessions(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	ctx := context.Background()
	register(t, reg, "c1", "u1")
	register(t, reg, "c2", "u2")

	if _, _, err := mgr.Join(ctx, "c1", "u1", "general"); err != nil {
		t.Fatalf("Join c1 err: %v", err)
	}
	if _, _, err := mgr.Join(ctx, "c2", "u2", "general"); err != nil {
		t.Fatalf("Join c2 err: %v", err)
	}

	// Simulate a session lost without a clean disconnect.
	if err := reg.Unregister(ctx, "c2"); err != nil {
		t.Fatalf("Unregister err: %v", err)
	}

	participants, err := mgr.Participants(ctx, "general")
	if err != nil {
		t.Fatalf("Participants err: %v", err)
	}
	if len(participants) != 1 || participants[0].UserID != "u1" {
		t.Errorf("participants = %+v, want only u1", participants)
	}

	rooms, err := mgr.ConnectionRooms(ctx, "c1")
	if err != nil {
		t.Fatalf("ConnectionRooms err: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != "general" {
		t.Errorf("connection rooms = %v, want [general]", rooms)
	}
}

func TestTyping(t *testing.T) {
	mgr, reg, mr := newTestManager(t)
	ctx := context.Background()
	register(t, reg, "c1", "u1")

	if err := mgr.SetTyping(ctx, "general", "c1"); err != nil {
		t.Fatalf("SetTyping err: %v", err)
	}

	was, err := mgr.ClearTyping(ctx, "general", "c1")
	if err != nil {
		t.Fatalf("ClearTyping err: %v", err)
	}
	if !was {
		t.Fatal("expected typing marker to be set")
	}

	// Cleared markers stay cleared.
	was, err = mgr.ClearTyping(ctx, "general", "c1")
	if err != nil {
		t.Fatalf("second ClearTyping err: %v", err)
	}
	if was {
		t.Fatal("expected typing marker to be gone")
	}

	// Markers expire on their own.
	if err := mgr.SetTyping(ctx, "general", "c1"); err != nil {
		t.Fatalf("SetTyping err: %v", err)
	}
	mr.FastForward(11 * time.Second)
	was, err = mgr.ClearTyping(ctx, "general", "c1")
	if err != nil {
		t.Fatalf("ClearTyping after expiry err: %v", err)
	}
	if was {
		t.Fatal("expected typing marker to have expired")
	}
}
