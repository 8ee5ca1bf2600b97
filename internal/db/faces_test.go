package db

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestEnrollFaceAndLoad(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	enrollments := []struct {
		identity string
		vec      []float32
		at       time.Time
	}{
		{"alice", []float32{1, 0, 0}, storeBase},
		{"bob", []float32{0, 1, 0}, storeBase.Add(time.Minute)},
		{"alice", []float32{0.9, 0.1, 0}, storeBase.Add(2 * time.Minute)},
	}
	for _, e := range enrollments {
		if err := db.EnrollFace(ctx, e.identity, e.vec, e.at); err != nil {
			t.Fatalf("EnrollFace %s failed: %v", e.identity, err)
		}
	}

	samples, err := db.FaceSamples(ctx)
	if err != nil {
		t.Fatalf("FaceSamples failed: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	// Enrollment order is preserved so matcher averaging is stable.
	for i, s := range samples {
		if s.Identity != enrollments[i].identity {
			t.Errorf("sample %d: expected %s, got %s", i, enrollments[i].identity, s.Identity)
		}
		if !s.EnrolledAt.Equal(enrollments[i].at) {
			t.Errorf("sample %d: enrolled at %v, want %v", i, s.EnrolledAt, enrollments[i].at)
		}
		for j := range s.Embedding {
			if s.Embedding[j] != enrollments[i].vec[j] {
				t.Errorf("sample %d embedding[%d] = %v, want %v", i, j, s.Embedding[j], enrollments[i].vec[j])
			}
		}
	}

	ids, err := db.FaceIdentities(ctx)
	if err != nil {
		t.Fatalf("FaceIdentities failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(ids))
	}
	if ids[0].Identity != "alice" || ids[0].Samples != 2 {
		t.Errorf("alice summary wrong: %+v", ids[0])
	}
	if !ids[0].LastEnrolled.Equal(storeBase.Add(2 * time.Minute)) {
		t.Errorf("alice last enrolled %v", ids[0].LastEnrolled)
	}
	if ids[1].Identity != "bob" || ids[1].Samples != 1 {
		t.Errorf("bob summary wrong: %+v", ids[1])
	}
}

func TestEnrollFaceValidation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.EnrollFace(ctx, "", []float32{1}, storeBase); err == nil {
		t.Error("expected error for empty identity")
	}
	if err := db.EnrollFace(ctx, "unknown", []float32{1}, storeBase); err == nil {
		t.Error("expected error for reserved identity")
	}
	if err := db.EnrollFace(ctx, "carol", nil, storeBase); err == nil {
		t.Error("expected error for empty embedding")
	}
}

func TestDeleteFace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.EnrollFace(ctx, "alice", []float32{1, 0}, storeBase); err != nil {
		t.Fatalf("EnrollFace failed: %v", err)
	}
	if err := db.EnrollFace(ctx, "alice", []float32{0.9, 0.1}, storeBase.Add(time.Minute)); err != nil {
		t.Fatalf("EnrollFace failed: %v", err)
	}
	if err := db.EnrollFace(ctx, "bob", []float32{0, 1}, storeBase); err != nil {
		t.Fatalf("EnrollFace failed: %v", err)
	}

	n, err := db.DeleteFace(ctx, "alice")
	if err != nil {
		t.Fatalf("DeleteFace failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows deleted, got %d", n)
	}

	ids, err := db.FaceIdentities(ctx)
	if err != nil {
		t.Fatalf("FaceIdentities failed: %v", err)
	}
	if len(ids) != 1 || ids[0].Identity != "bob" {
		t.Errorf("expected only bob to remain, got %+v", ids)
	}

	// Deleting an absent identity drops nothing and is not an error.
	n, err = db.DeleteFace(ctx, "alice")
	if err != nil {
		t.Fatalf("DeleteFace failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 rows deleted, got %d", n)
	}
}

func TestEmbeddingCodec(t *testing.T) {
	vec := []float32{0, -1.5, 3.25, math.MaxFloat32, math.SmallestNonzeroFloat32}

	decoded, err := decodeEmbedding(encodeEmbedding(vec))
	if err != nil {
		t.Fatalf("decodeEmbedding failed: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("element %d: %v != %v", i, decoded[i], vec[i])
		}
	}

	if _, err := decodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
