package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dvloznov/finance-agent/internal/domain"
	"github.com/dvloznov/finance-agent/internal/store"
)

// PutReference replaces a reference document and its chunks.
func (s *Store) PutReference(ctx context.Context, doc *domain.ReferenceDocument, chunks []domain.Chunk) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteReference(ctx, tx, doc.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reference_documents (id, filename, chunk_count, skipped_count, processed, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, doc.ID, doc.Filename, doc.ChunkCount, doc.SkippedCount, boolToInt(doc.Processed), formatTime(doc.CreatedAt)); err != nil {
			return fmt.Errorf("inserting reference document: %w", err)
		}
		for _, c := range chunks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO reference_chunks (id, document_id, chunk_index, text, embedding) VALUES (?, ?, ?, ?, ?)
			`, c.ID, doc.ID, c.Index, c.Text, encodeEmbedding(c.Embedding)); err != nil {
				return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("PutReference: %w", err)
	}
	return nil
}

// DeleteReference removes a reference document and all of its chunks.
func (s *Store) DeleteReference(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM reference_documents WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("reference document %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("looking up reference document: %w", err)
		}
		return deleteReference(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("DeleteReference: %w", err)
	}
	return nil
}

func deleteReference(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM reference_chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reference_documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting reference document: %w", err)
	}
	return nil
}

// ListChunks returns every stored chunk in insertion order.
func (s *Store) ListChunks(ctx context.Context) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, text, embedding FROM reference_chunks ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("ListChunks: querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var (
			c    domain.Chunk
			blob []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("ListChunks: scanning chunk: %w", err)
		}
		c.Embedding = decodeEmbedding(blob)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListChunks: iterating rows: %w", err)
	}
	return chunks, nil
}

// ListReferences returns all reference documents in insertion order.
func (s *Store) ListReferences(ctx context.Context) ([]*domain.ReferenceDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, chunk_count, skipped_count, processed, created_at
		FROM reference_documents ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("ListReferences: querying documents: %w", err)
	}
	var docs []*domain.ReferenceDocument
	for rows.Next() {
		doc, err := scanReference(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("ListReferences: %w", err)
		}
		docs = append(docs, doc)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("ListReferences: iterating rows: %w", err)
	}

	for _, doc := range docs {
		if doc.ChunkIDs, err = s.chunkIDs(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("ListReferences: %w", err)
		}
	}
	return docs, nil
}

// GetReference returns one reference document with its chunk ids.
func (s *Store) GetReference(ctx context.Context, id string) (*domain.ReferenceDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, chunk_count, skipped_count, processed, created_at
		FROM reference_documents WHERE id = ?
	`, id)
	doc, err := scanReference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetReference: %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetReference: %w", err)
	}
	if doc.ChunkIDs, err = s.chunkIDs(ctx, id); err != nil {
		return nil, fmt.Errorf("GetReference: %w", err)
	}
	return doc, nil
}

func (s *Store) chunkIDs(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM reference_chunks WHERE document_id = ? ORDER BY chunk_index ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("querying chunk ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanReference(row rowScanner) (*domain.ReferenceDocument, error) {
	var (
		doc       domain.ReferenceDocument
		processed int
		createdAt string
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.ChunkCount, &doc.SkippedCount, &processed, &createdAt); err != nil {
		return nil, err
	}
	doc.Processed = processed != 0
	doc.CreatedAt = parseTime(createdAt)
	return &doc, nil
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
