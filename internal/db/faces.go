package db

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

// FaceSample is one stored enrollment row. An identity accumulates
// rows; the in-memory matcher averages them at load time.
type FaceSample struct {
	Identity   string
	Embedding  []float32
	EnrolledAt time.Time
}

// FaceIdentity summarizes the stored rows for one identity.
type FaceIdentity struct {
	Identity     string    `json:"identity"`
	Samples      int       `json:"samples"`
	LastEnrolled time.Time `json:"last_enrolled"`
}

// EnrollFace appends one embedding sample for an identity.
func (db *DB) EnrollFace(ctx context.Context, identity string, embedding []float32, at time.Time) error {
	if identity == "" || identity == vision.UnknownIdentity {
		return fmt.Errorf("invalid identity %q", identity)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for %q", identity)
	}
	if at.IsZero() {
		at = time.Now()
	}
	_, err := db.ExecContext(ctx,
		"INSERT INTO known_faces (identity, embedding, enrolled_ns) VALUES (?, ?, ?)",
		identity, encodeEmbedding(embedding), nsOf(at))
	if err != nil {
		return fmt.Errorf("enrolling face %q: %w", identity, err)
	}
	return nil
}

// DeleteFace removes every stored sample for an identity and returns
// how many rows were dropped.
func (db *DB) DeleteFace(ctx context.Context, identity string) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM known_faces WHERE identity = ?", identity)
	if err != nil {
		return 0, fmt.Errorf("deleting face %q: %w", identity, err)
	}
	return res.RowsAffected()
}

// FaceSamples loads every enrollment row in enrollment order, for
// seeding the in-memory matcher at startup.
func (db *DB) FaceSamples(ctx context.Context) ([]FaceSample, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT identity, embedding, enrolled_ns FROM known_faces ORDER BY enrolled_ns ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("querying face samples: %w", err)
	}
	defer rows.Close()

	var samples []FaceSample
	for rows.Next() {
		var (
			s    FaceSample
			blob []byte
			ns   int64
		)
		if err := rows.Scan(&s.Identity, &blob, &ns); err != nil {
			return nil, fmt.Errorf("scanning face row: %w", err)
		}
		s.Embedding, err = decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %q: %w", s.Identity, err)
		}
		s.EnrolledAt = timeOf(ns)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// FaceIdentities lists the enrolled identities with sample counts,
// sorted by name.
func (db *DB) FaceIdentities(ctx context.Context) ([]FaceIdentity, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT identity, COUNT(*), MAX(enrolled_ns)
		FROM known_faces
		GROUP BY identity
		ORDER BY identity ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying face identities: %w", err)
	}
	defer rows.Close()

	var out []FaceIdentity
	for rows.Next() {
		var (
			id FaceIdentity
			ns int64
		)
		if err := rows.Scan(&id.Identity, &id.Samples, &ns); err != nil {
			return nil, fmt.Errorf("scanning identity row: %w", err)
		}
		id.LastEnrolled = timeOf(ns)
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// encodeEmbedding packs a vector as little-endian float32s. The fixed
// layout keeps blobs comparable across platforms.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
