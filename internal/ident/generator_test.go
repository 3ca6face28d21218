package ident_test

import (
	"testing"
	"time"

	"github.com/weiawesome/melo-live/internal/ident"
)

func TestULIDGenerator(t *testing.T) {
	g := ident.NewULIDGenerator()

	id, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if !g.Validate(id) {
		t.Fatalf("generated id %q did not validate", id)
	}
	if g.Validate("not-a-ulid") {
		t.Fatal("garbage should not validate")
	}

	ts, err := g.Timestamp(id)
	if err != nil {
		t.Fatalf("Timestamp err: %v", err)
	}
	if d := time.Since(ts); d < 0 || d > time.Minute {
		t.Errorf("embedded timestamp %v too far from now", ts)
	}
}

func TestULIDGeneratorSortsByTime(t *testing.T) {
	g := ident.NewULIDGenerator()

	first, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}

	if !(first < second) {
		t.Errorf("expected %s < %s", first, second)
	}
}

func TestUUIDGenerator(t *testing.T) {
	g := ident.NewUUIDGenerator()

	id, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if !g.Validate(id) {
		t.Fatalf("generated id %q did not validate", id)
	}

	other, _ := g.Generate()
	if id == other {
		t.Fatal("two generated ids must differ")
	}
}
