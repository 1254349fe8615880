package enrollment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/facetrack/facetrack/pkg/embedding"
	"github.com/facetrack/facetrack/pkg/enrollment"
	"github.com/facetrack/facetrack/pkg/store"
)

func testEmbedding(first float32) embedding.Embedding {
	vec := make([]float32, 4)
	vec[0] = first
	return embedding.Normalize(embedding.Embedding{Vector: vec, Quality: 90})
}

func newRegistrar() (*enrollment.Registrar, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	return enrollment.NewRegistrar(ms, embedding.NewValidator(4, 0.1)), ms
}

func TestRegisterNewIdentity(t *testing.T) {
	r, ms := newRegistrar()
	ctx := context.Background()

	id, err := r.Register(ctx, "Alice@Example.com ", "Alice", testEmbedding(1), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Key != "alice@example.com" {
		t.Errorf("key not normalized, got %q", id.Key)
	}

	stored, err := ms.Get(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("stored identity not found: %v", err)
	}
	if !stored.HasEmbedding() {
		t.Error("stored identity has no embedding")
	}
	if stored.EnrolledAt.IsZero() {
		t.Error("enrollment timestamp not set")
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r, _ := newRegistrar()
	ctx := context.Background()

	if _, err := r.Register(ctx, "alice@example.com", "Alice", testEmbedding(1), false); err != nil {
		t.Fatalf("first enrollment failed: %v", err)
	}

	_, err := r.Register(ctx, "alice@example.com", "Alice", testEmbedding(1), false)
	if !errors.Is(err, enrollment.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
}

func TestReenrollReplacesEmbedding(t *testing.T) {
	r, ms := newRegistrar()
	ctx := context.Background()

	if _, err := r.Register(ctx, "alice@example.com", "Alice", testEmbedding(1), false); err != nil {
		t.Fatalf("first enrollment failed: %v", err)
	}

	second := embedding.Normalize(embedding.Embedding{Vector: []float32{0, 1, 0, 0}, Quality: 95})
	if _, err := r.Register(ctx, "alice@example.com", "", second, true); err != nil {
		t.Fatalf("re-enrollment failed: %v", err)
	}

	stored, err := ms.Get(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("stored identity not found: %v", err)
	}
	if stored.Embedding.Vector[1] != second.Vector[1] {
		t.Error("re-enrollment did not replace the stored embedding")
	}
	// A blank display name on re-enroll keeps the existing one.
	if stored.DisplayName != "Alice" {
		t.Errorf("display name lost on re-enroll, got %q", stored.DisplayName)
	}
}

func TestRegisterInvalidEmbeddingRejected(t *testing.T) {
	r, ms := newRegistrar()
	ctx := context.Background()

	_, err := r.Register(ctx, "alice@example.com", "Alice", embedding.Embedding{}, false)
	if !embedding.IsInvalid(err) {
		t.Fatalf("expected validation failure, got %v", err)
	}

	if _, err := ms.Get(ctx, "alice@example.com"); !errors.Is(err, enrollment.ErrIdentityNotFound) {
		t.Error("rejected enrollment still wrote to the store")
	}
}

func TestRegisterEmptyKeyRejected(t *testing.T) {
	r, _ := newRegistrar()
	if _, err := r.Register(context.Background(), "   ", "Alice", testEmbedding(1), false); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestCreatePendingThenRegister(t *testing.T) {
	r, ms := newRegistrar()
	ctx := context.Background()

	if _, err := r.CreatePending(ctx, "bob@example.com", "Bob"); err != nil {
		t.Fatalf("creating pending identity failed: %v", err)
	}

	// Pending identities do not participate in matching.
	active, err := ms.ListEnrolled(ctx)
	if err != nil {
		t.Fatalf("listing enrolled failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("pending identity leaked into enrolled set: %v", active)
	}

	// Supplying the embedding later needs no reenroll flag.
	if _, err := r.Register(ctx, "bob@example.com", "", testEmbedding(1), false); err != nil {
		t.Fatalf("activating pending identity failed: %v", err)
	}

	active, _ = ms.ListEnrolled(ctx)
	if len(active) != 1 {
		t.Fatalf("expected 1 enrolled identity, got %d", len(active))
	}
	if active[0].DisplayName != "Bob" {
		t.Errorf("display name lost, got %q", active[0].DisplayName)
	}
}

func TestCreatePendingDuplicateRejected(t *testing.T) {
	r, _ := newRegistrar()
	ctx := context.Background()

	if _, err := r.CreatePending(ctx, "bob@example.com", "Bob"); err != nil {
		t.Fatalf("creating pending identity failed: %v", err)
	}
	if _, err := r.CreatePending(ctx, "BOB@example.com", "Bob"); !errors.Is(err, enrollment.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
}
