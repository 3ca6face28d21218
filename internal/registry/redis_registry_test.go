package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/melo-live/internal/domain"
	"github.com/weiawesome/melo-live/internal/registry"
)

func newTestRegistry(t *testing.T) (registry.SessionRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := registry.NewRedisRegistry(client, "melo", time.Hour, 5*time.Minute)
	return reg, mr
}

func TestRegisterAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	conn := domain.Connection{ID: "c1", UserID: "u1", Authenticated: true, ConnectedAt: time.Now().UTC()}
	if err := reg.Register(ctx, conn); err != nil {
		t.Fatalf("Register err: %v", err)
	}

	got, err := reg.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got.ID != "c1" || got.UserID != "u1" || !got.Authenticated {
		t.Errorf("unexpected connection: %+v", got)
	}

	presence, err := reg.GetPresence(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPresence err: %v", err)
	}
	if presence.Status != domain.PresenceOnline {
		t.Errorf("status = %q, want online", presence.Status)
	}

	if _, err := reg.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterRequiresIDs(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, domain.Connection{ID: "c1"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	conn := domain.Connection{ID: "c1", UserID: "u1", Authenticated: true}
	if err := reg.Register(ctx, conn); err != nil {
		t.Fatalf("first Register err: %v", err)
	}
	if err := reg.Register(ctx, conn); err != nil {
		t.Fatalf("second Register err: %v", err)
	}

	ids, err := reg.UserConnections(ctx, "u1")
	if err != nil {
		t.Fatalf("UserConnections err: %v", err)
	}
	if len(ids) != 1 || ids[0] != "c1" {
		t.Errorf("connections = %v, want [c1]", ids)
	}
}

func TestUnregisterLastConnectionFlipsOffline(t *testing.T) {
	reg, mr := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, domain.Connection{ID: "c1", UserID: "u1", Authenticated: true}); err != nil {
		t.Fatalf("Register c1 err: %v", err)
	}
	if err := reg.Register(ctx, domain.Connection{ID: "c2", UserID: "u1", Authenticated: true}); err != nil {
		t.Fatalf("Register c2 err: %v", err)
	}

	// First unregister: another connection remains, user stays online.
	if err := reg.Unregister(ctx, "c1"); err != nil {
		t.Fatalf("Unregister c1 err: %v", err)
	}
	presence, err := reg.GetPresence(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPresence err: %v", err)
	}
	if presence.Status != domain.PresenceOnline {
		t.Errorf("status after first unregister = %q, want online", presence.Status)
	}

	// Last unregister: presence flips offline.
	if err := reg.Unregister(ctx, "c2"); err != nil {
		t.Fatalf("Unregister c2 err: %v", err)
	}
	presence, err = reg.GetPresence(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPresence err: %v", err)
	}
	if presence.Status != domain.PresenceOffline {
		t.Errorf("status after last unregister = %q, want offline", presence.Status)
	}

	if _, err := reg.Get(ctx, "c2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unregistered connection, got %v", err)
	}

	// The offline record expires after the offline TTL.
	mr.FastForward(6 * time.Minute)
	presence, err = reg.GetPresence(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPresence after expiry err: %v", err)
	}
	if presence.Status != domain.PresenceOffline {
		t.Errorf("expired presence status = %q, want offline default", presence.Status)
	}
	if !presence.LastActive.IsZero() {
		t.Errorf("expired presence should have no last-active, got %v", presence.LastActive)
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if err := reg.Unregister(context.Background(), "ghost"); err != nil {
		t.Fatalf("Unregister unknown err: %v", err)
	}
}

func TestTouchRefreshesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	reg := registry.NewRedisRegistry(client, "melo", time.Minute, 10*time.Second)
	ctx := context.Background()

	if err := reg.Register(ctx, domain.Connection{ID: "c1", UserID: "u1", Authenticated: true}); err != nil {
		t.Fatalf("Register err: %v", err)
	}

	mr.FastForward(40 * time.Second)
	if err := reg.Touch(ctx, "c1", "u1"); err != nil {
		t.Fatalf("Touch err: %v", err)
	}

	// Past the original expiry but within the refreshed one.
	mr.FastForward(40 * time.Second)
	if _, err := reg.Get(ctx, "c1"); err != nil {
		t.Fatalf("connection expired despite Touch: %v", err)
	}

	// Without further activity the session expires.
	mr.FastForward(time.Minute)
	if _, err := reg.Get(ctx, "c1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
}

func TestResolveUsers(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Register(ctx, domain.Connection{ID: "c1", UserID: "u1", Authenticated: true}); err != nil {
		t.Fatalf("Register c1 err: %v", err)
	}
	if err := reg.Register(ctx, domain.Connection{ID: "c2", UserID: "u2", Authenticated: true}); err != nil {
		t.Fatalf("Register c2 err: %v", err)
	}

	users, err := reg.ResolveUsers(ctx, []string{"c1", "ghost", "c2"})
	if err != nil {
		t.Fatalf("ResolveUsers err: %v", err)
	}
	if len(users) != 2 || users["c1"] != "u1" || users["c2"] != "u2" {
		t.Errorf("users = %v", users)
	}

	empty, err := reg.ResolveUsers(ctx, nil)
	if err != nil {
		t.Fatalf("ResolveUsers empty err: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty map, got %v", empty)
	}
}
