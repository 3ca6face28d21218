package ident

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator produces identifiers for a single entity kind.
type Generator interface {
	Generate() (string, error)
	Validate(id string) bool
}

// ULIDGenerator generates message ids. ULIDs sort lexicographically by
// creation time, which lets a message id double as a history cursor.
type ULIDGenerator struct{}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{}
}

func (g *ULIDGenerator) Generate() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

func (g *ULIDGenerator) Validate(id string) bool {
	if len(id) != 26 {
		return false
	}
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the embedded creation time of a ULID.
func (g *ULIDGenerator) Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ULID format: %w", err)
	}
	return time.UnixMilli(int64(parsed.Time())), nil
}

// UUIDGenerator generates connection ids.
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) Generate() (string, error) {
	return uuid.New().String(), nil
}

func (g *UUIDGenerator) Validate(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
