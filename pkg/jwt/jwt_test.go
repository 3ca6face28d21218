package jwt_test

import (
	"errors"
	"testing"
	"time"

	"github.com/weiawesome/melo-live/pkg/jwt"
)

func TestValidateToken(t *testing.T) {
	m, err := jwt.NewManager("test-secret", 15*time.Minute, "melo-live")
	if err != nil {
		t.Fatalf("NewManager err: %v", err)
	}

	token, err := m.GenerateAccessToken("user-1", "alice", []string{"user", "premium"})
	if err != nil {
		t.Fatalf("GenerateAccessToken err: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken err: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("unexpected user id: got %s want user-1", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("unexpected username: got %s", claims.Username)
	}
	if len(claims.Roles) != 2 || claims.Roles[1] != "premium" {
		t.Errorf("unexpected roles: %v", claims.Roles)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	m1, _ := jwt.NewManager("secret-a", time.Minute, "melo-live")
	m2, _ := jwt.NewManager("secret-b", time.Minute, "melo-live")

	token, err := m1.GenerateAccessToken("user-1", "", nil)
	if err != nil {
		t.Fatalf("GenerateAccessToken err: %v", err)
	}

	if _, err := m2.ValidateToken(token); !errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	m, _ := jwt.NewManager("test-secret", -time.Minute, "melo-live")

	token, err := m.GenerateAccessToken("user-1", "", nil)
	if err != nil {
		t.Fatalf("GenerateAccessToken err: %v", err)
	}

	if _, err := m.ValidateToken(token); !errors.Is(err, jwt.ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	m, _ := jwt.NewManager("test-secret", time.Minute, "melo-live")

	if _, err := m.ValidateToken("not-a-token"); !errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateTokenEmptySecret(t *testing.T) {
	if _, err := jwt.NewManager("", time.Minute, "melo-live"); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
