package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// SQLite is a persistent storage implementation using SQLite. With it, a
// store can rebuild its indexes cold even when no index snapshot survives.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite creates a new SQLite storage at the given path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma failed: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS vectors (
			id INTEGER PRIMARY KEY,
			embedding BLOB NOT NULL,
			attributes TEXT
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// Save inserts or replaces vectors.
func (s *SQLite) Save(ctx context.Context, vectors []Vector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO vectors (id, embedding, attributes) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range vectors {
		embBytes := encodeFloat32Slice(v.Embedding)
		var attrJSON []byte
		if v.Attributes != nil {
			attrJSON, err = json.Marshal(v.Attributes)
			if err != nil {
				return fmt.Errorf("marshal attributes for %d: %w", v.ID, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, v.ID, embBytes, attrJSON); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Get returns the vector with the given id, or (nil, nil) if absent.
func (s *SQLite) Get(ctx context.Context, id int64) (*Vector, error) {
	var embBytes []byte
	var attrJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding, attributes FROM vectors WHERE id = ?", id).
		Scan(&embBytes, &attrJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v := &Vector{ID: id, Embedding: decodeFloat32Slice(embBytes)}
	if attrJSON.Valid && attrJSON.String != "" {
		if err := json.Unmarshal([]byte(attrJSON.String), &v.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes for %d: %w", id, err)
		}
	}
	return v, nil
}

// Load returns all stored vectors.
func (s *SQLite) Load(ctx context.Context) ([]Vector, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding, attributes FROM vectors ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vectors []Vector
	for rows.Next() {
		var v Vector
		var embBytes []byte
		var attrJSON sql.NullString

		if err := rows.Scan(&v.ID, &embBytes, &attrJSON); err != nil {
			return nil, err
		}
		v.Embedding = decodeFloat32Slice(embBytes)
		if attrJSON.Valid && attrJSON.String != "" {
			if err := json.Unmarshal([]byte(attrJSON.String), &v.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes for %d: %w", v.ID, err)
			}
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

// Delete removes vectors by id.
func (s *SQLite) Delete(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM vectors WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Clear removes all vectors.
func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM vectors")
	return err
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// encodeFloat32Slice converts []float32 to []byte.
func encodeFloat32Slice(f []float32) []byte {
	buf := make([]byte, len(f)*4)
	for i, v := range f {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeFloat32Slice converts []byte to []float32.
func decodeFloat32Slice(b []byte) []float32 {
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return f
}
