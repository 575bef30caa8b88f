package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/memvra/companion/internal/db"
)

// VectorStore provides per-user similarity search over memory embeddings via sqlite-vec.
type VectorStore struct {
	conn    *sql.DB
	enabled bool
}

// NewVectorStore creates a VectorStore backed by the given DB. When the vector
// extension is unavailable every call is a no-op.
func NewVectorStore(database *db.DB) *VectorStore {
	return &VectorStore{conn: database.Conn(), enabled: database.VectorsEnabled()}
}

// Enabled reports whether similarity search is available.
func (v *VectorStore) Enabled() bool {
	return v != nil && v.enabled
}

// Upsert stores the embedding for memory id in userID's partition.
func (v *VectorStore) Upsert(ctx context.Context, userID, id string, embedding []float32) error {
	if !v.Enabled() || len(embedding) == 0 {
		return nil
	}
	tx, err := v.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vector: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// vec0 tables have no upsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("vector: replace memory embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vec_memories (id, user_id, embedding) VALUES (?, ?, ?)`,
		id, userID, float32SliceToBlob(embedding),
	); err != nil {
		return fmt.Errorf("vector: upsert memory embedding: %w", err)
	}
	return tx.Commit()
}

// Search returns similarity (0..1] by memory ID for userID's k nearest memories.
func (v *VectorStore) Search(ctx context.Context, userID string, query []float32, k int) (map[string]float64, error) {
	if !v.Enabled() || len(query) == 0 || k <= 0 {
		return nil, nil
	}
	rows, err := v.conn.QueryContext(ctx,
		`SELECT id, distance FROM vec_memories
		 WHERE embedding MATCH ? AND k = ? AND user_id = ?
		 ORDER BY distance`,
		float32SliceToBlob(query), k, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("vector: search: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		// sqlite-vec returns L2 distance.
		out[id] = 1.0 / (1.0 + distance)
	}
	return out, rows.Err()
}

// Delete removes the embeddings for ids.
func (v *VectorStore) Delete(ctx context.Context, ids ...string) error {
	if !v.Enabled() {
		return nil
	}
	for _, id := range ids {
		if _, err := v.conn.ExecContext(ctx, `DELETE FROM vec_memories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("vector: delete %s: %w", id, err)
		}
	}
	return nil
}

// float32SliceToBlob serialises a float32 slice to a little-endian byte blob.
// This is the format expected by sqlite-vec's BLOB column input.
func float32SliceToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BlobToFloat32Slice deserialises a little-endian byte blob to a float32 slice.
func BlobToFloat32Slice(b []byte) []float32 {
	result := make([]float32, len(b)/4)
	for i := range result {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		result[i] = math.Float32frombits(bits)
	}
	return result
}
