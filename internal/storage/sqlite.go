package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/pkg/utils"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != MemoryPath {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == MemoryPath {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		bot_id TEXT NOT NULL,
		kb_name TEXT NOT NULL,
		source_uri TEXT NOT NULL,
		format TEXT,
		content_hash TEXT NOT NULL,
		ingested_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		seq INTEGER NOT NULL,
		text TEXT NOT NULL,
		span_start INTEGER NOT NULL,
		span_end INTEGER NOT NULL,
		token_estimate INTEGER NOT NULL,
		backend_id TEXT,
		embedding BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id, seq);
	CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// SaveDocument upserts the document row and replaces its chunks in one transaction.
func (s *SQLiteStorage) SaveDocument(ctx context.Context, doc *models.Document, chunks []*models.TextChunk) error {
	collection := models.CollectionName(doc.BotID, doc.KBName)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, collection, bot_id, kb_name, source_uri, format, content_hash, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   format = excluded.format,
		   content_hash = excluded.content_hash,
		   ingested_at = excluded.ingested_at`,
		doc.ID, collection, doc.BotID, doc.KBName, doc.SourceURI, doc.Format, doc.ContentHash, doc.IngestedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, collection, seq, text, span_start, span_end, token_estimate, backend_id, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.ID, doc.ID, collection, ch.SequenceIndex, ch.Text,
			ch.Span.Start, ch.Span.End, ch.TokenEstimate, ch.BackendID, utils.EncodeVector(ch.Embedding)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

const documentColumns = `id, bot_id, kb_name, source_uri, format, content_hash, ingested_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*models.Document, error) {
	var doc models.Document
	var format sql.NullString
	if err := row.Scan(&doc.ID, &doc.BotID, &doc.KBName, &doc.SourceURI, &format, &doc.ContentHash, &doc.IngestedAt); err != nil {
		return nil, err
	}
	doc.Format = format.String
	return &doc, nil
}

// GetDocument returns a document by ID, or an error wrapping models.ErrNotFound.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes a document and its chunks.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDocuments returns a collection's documents ordered by source URI.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, collection string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE collection = ? ORDER BY source_uri`,
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

const chunkColumns = `id, document_id, seq, text, span_start, span_end, token_estimate, backend_id, embedding`

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...any) ([]*models.TextChunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.TextChunk
	for rows.Next() {
		var ch models.TextChunk
		var backendID sql.NullString
		var blob []byte
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.SequenceIndex, &ch.Text,
			&ch.Span.Start, &ch.Span.End, &ch.TokenEstimate, &backendID, &blob); err != nil {
			return nil, err
		}
		ch.BackendID = backendID.String
		if len(blob) > 0 {
			vec, err := utils.DecodeVector(blob)
			if err != nil {
				return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
			}
			ch.Embedding = vec
		}
		chunks = append(chunks, &ch)
	}
	return chunks, rows.Err()
}

// GetChunksByDocumentID returns all chunks for a document ordered by sequence index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.TextChunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY seq`, docID)
}

// ListChunks returns every chunk of a collection grouped by document.
func (s *SQLiteStorage) ListChunks(ctx context.Context, collection string) ([]*models.TextChunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE collection = ? ORDER BY document_id, seq`, collection)
}

// UpdateEmbeddings rewrites the vector and backend of existing chunks in a transaction.
func (s *SQLiteStorage) UpdateEmbeddings(ctx context.Context, chunks []*models.TextChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE chunks SET backend_id = ?, embedding = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.BackendID, utils.EncodeVector(ch.Embedding), ch.ID); err != nil {
			return fmt.Errorf("failed to update chunk %s: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

// ListCollections returns every collection that has at least one document.
func (s *SQLiteStorage) ListCollections(ctx context.Context) ([]CollectionRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT collection, bot_id, kb_name FROM documents ORDER BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []CollectionRef
	for rows.Next() {
		var ref CollectionRef
		if err := rows.Scan(&ref.Name, &ref.BotID, &ref.KBName); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteCollection removes every document and chunk of a collection.
func (s *SQLiteStorage) DeleteCollection(ctx context.Context, collection string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, collection); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection); err != nil {
		return err
	}
	return tx.Commit()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// SizeBytes returns the on-disk size of the database and its WAL files.
func (s *SQLiteStorage) SizeBytes() (int64, error) {
	if s.path == MemoryPath {
		return 0, nil
	}
	return fileSizes(databaseFiles(s.path)...)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
