package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig configures the SQLite-backed metadata store.
type SQLiteStoreConfig struct {
	// Path is the database file path, e.g. "<folder>/.folder-mcp/metadata.db".
	Path string
	// BusyTimeoutMS is how long a writer waits on SQLITE_BUSY before failing.
	BusyTimeoutMS int
	// CacheSizeKB is the page cache size in KB (negative per sqlite convention).
	CacheSizeKB int
}

// DefaultSQLiteStoreConfig returns sensible defaults for a per-folder metadata store.
func DefaultSQLiteStoreConfig(path string) SQLiteStoreConfig {
	return SQLiteStoreConfig{
		Path:          path,
		BusyTimeoutMS: 5000,
		CacheSizeKB:   65536,
	}
}

// dbtx is the statement surface shared by *sql.DB and *sql.Tx, so every
// read/write method runs against whichever one the store currently wraps.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// SQLiteStore implements MetadataStore on top of modernc.org/sqlite, the
// pure-Go driver, so the daemon binary never needs cgo. A store either
// wraps the database directly, or — inside WithTx — a single transaction
// shared by every call made through it.
type SQLiteStore struct {
	db     *sql.DB
	tx     *sql.Tx // non-nil only for the transactional view WithTx hands to fn
	cfg    SQLiteStoreConfig
	closed bool
}

// q returns the statement target: the enclosing transaction when this store
// is a WithTx view, the database otherwise.
func (s *SQLiteStore) q() dbtx {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// NewSQLiteStore opens (creating if necessary) a per-folder metadata database,
// applying WAL-mode pragmas and validating integrity before returning.
func NewSQLiteStore(ctx context.Context, cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	if cfg.BusyTimeoutMS == 0 {
		cfg.BusyTimeoutMS = 5000
	}
	if cfg.CacheSizeKB == 0 {
		cfg.CacheSizeKB = 65536
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory: %w", err)
		}
	}

	if err := validateSQLiteIntegrityOnDisk(cfg.Path); err != nil {
		slog.Warn("metadata store failed integrity check, recovering by recreating",
			slog.String("path", cfg.Path), slog.String("error", err.Error()))
		if recErr := recreateCorruptDB(cfg.Path); recErr != nil {
			return nil, fmt.Errorf("sqlite store: recover corrupted database: %w", recErr)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}

	// A single connection avoids SQLITE_BUSY races between goroutines
	// sharing this *sql.DB; WAL mode still allows readers to run alongside
	// the one writer at the OS level.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMS),
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA cache_size=-%d", cfg.CacheSizeKB),
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: apply pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, cfg: cfg}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return s, nil
}

func validateSQLiteIntegrityOnDisk(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // fresh database, nothing to check
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity_check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity_check reported: %s", result)
	}
	return nil
}

// recreateCorruptDB removes the database file along with its WAL/SHM
// sidecars so a fresh, empty database can be opened in its place. The
// caller is responsible for triggering a folder reindex afterward.
func recreateCorruptDB(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS folders (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	doc_count INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	indexed_at INTEGER NOT NULL DEFAULT 0,
	version TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	folder_id TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	mod_time INTEGER NOT NULL,
	content_hash TEXT NOT NULL,
	content_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	indexed_at INTEGER NOT NULL,
	needs_reindex INTEGER NOT NULL DEFAULT 0,
	UNIQUE(folder_id, path)
);
CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder_id);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	folder_id TEXT NOT NULL,
	content TEXT NOT NULL,
	content_type TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset INTEGER NOT NULL,
	token_count INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

CREATE TABLE IF NOT EXISTS embedding_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	model_name TEXT NOT NULL,
	model_dimension INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_states (
	file_path TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	mtime INTEGER NOT NULL,
	indexed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	return err
}

// SaveFolder inserts or replaces the folder row.
func (s *SQLiteStore) SaveFolder(ctx context.Context, f *Folder) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO folders (id, path, doc_count, chunk_count, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path=excluded.path, doc_count=excluded.doc_count,
			chunk_count=excluded.chunk_count, indexed_at=excluded.indexed_at,
			version=excluded.version`,
		f.ID, f.Path, f.DocCount, f.ChunkCount, f.IndexedAt.Unix(), f.Version)
	return err
}

// GetFolder returns one folder row by ID.
func (s *SQLiteStore) GetFolder(ctx context.Context, id string) (*Folder, error) {
	row := s.q().QueryRowContext(ctx, `SELECT id, path, doc_count, chunk_count, indexed_at, version FROM folders WHERE id = ?`, id)
	f := &Folder{}
	var indexedAt int64
	if err := row.Scan(&f.ID, &f.Path, &f.DocCount, &f.ChunkCount, &indexedAt, &f.Version); err != nil {
		return nil, err
	}
	f.IndexedAt = time.Unix(indexedAt, 0)
	return f, nil
}

// UpdateFolderStats patches document/chunk counts without touching indexed_at.
func (s *SQLiteStore) UpdateFolderStats(ctx context.Context, id string, docCount, chunkCount int) error {
	_, err := s.q().ExecContext(ctx, `UPDATE folders SET doc_count=?, chunk_count=? WHERE id=?`, docCount, chunkCount, id)
	return err
}

// RefreshFolderStats recalculates doc/chunk counts from the DB and bumps indexed_at.
func (s *SQLiteStore) RefreshFolderStats(ctx context.Context, id string) error {
	var docCount, chunkCount int
	if err := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE folder_id=?`, id).Scan(&docCount); err != nil {
		return err
	}
	if err := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE folder_id=?`, id).Scan(&chunkCount); err != nil {
		return err
	}
	_, err := s.q().ExecContext(ctx, `UPDATE folders SET doc_count=?, chunk_count=?, indexed_at=? WHERE id=?`,
		docCount, chunkCount, time.Now().Unix(), id)
	return err
}

// SaveDocuments upserts a batch of document rows. Outside WithTx the batch
// gets its own transaction; inside, it joins the enclosing one.
func (s *SQLiteStore) SaveDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	if s.tx != nil {
		return saveDocumentsIn(ctx, s.tx, docs)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := saveDocumentsIn(ctx, tx, docs); err != nil {
		return err
	}
	return tx.Commit()
}

func saveDocumentsIn(ctx context.Context, q dbtx, docs []*Document) error {
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO documents (id, folder_id, path, size, mod_time, content_hash, content_type, title, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size=excluded.size, mod_time=excluded.mod_time, content_hash=excluded.content_hash,
			content_type=excluded.content_type, title=excluded.title, indexed_at=excluded.indexed_at,
			needs_reindex=0`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range docs {
		if _, err := stmt.ExecContext(ctx, d.ID, d.FolderID, d.Path, d.Size, d.ModTime.Unix(),
			d.ContentHash, string(d.ContentType), d.Title, d.IndexedAt.Unix()); err != nil {
			return err
		}
	}
	return nil
}

func scanDocument(row interface {
	Scan(dest ...any) error
}) (*Document, error) {
	d := &Document{}
	var modTime, indexedAt int64
	var contentType string
	var needsReindex int
	if err := row.Scan(&d.ID, &d.FolderID, &d.Path, &d.Size, &modTime, &d.ContentHash, &contentType, &d.Title, &indexedAt, &needsReindex); err != nil {
		return nil, err
	}
	d.NeedsReindex = needsReindex != 0
	d.ModTime = time.Unix(modTime, 0)
	d.IndexedAt = time.Unix(indexedAt, 0)
	d.ContentType = ContentType(contentType)
	return d, nil
}

// GetDocumentByPath looks up a document by its folder-relative path.
func (s *SQLiteStore) GetDocumentByPath(ctx context.Context, folderID, path string) (*Document, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, folder_id, path, size, mod_time, content_hash, content_type, title, indexed_at, needs_reindex
		FROM documents WHERE folder_id=? AND path=?`, folderID, path)
	return scanDocument(row)
}

// GetDocument looks up a document by its ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.q().QueryRowContext(ctx, `
		SELECT id, folder_id, path, size, mod_time, content_hash, content_type, title, indexed_at, needs_reindex
		FROM documents WHERE id=?`, id)
	return scanDocument(row)
}

// ListDocuments returns a page of documents ordered by path, keyed by an opaque cursor.
func (s *SQLiteStore) ListDocuments(ctx context.Context, folderID string, cursor string, limit int) ([]*Document, string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, folder_id, path, size, mod_time, content_hash, content_type, title, indexed_at, needs_reindex
		FROM documents WHERE folder_id=? AND path > ? ORDER BY path LIMIT ?`, folderID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, "", err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(docs) > limit {
		nextCursor = docs[limit-1].Path
		docs = docs[:limit]
	}
	return docs, nextCursor, nil
}

// GetDocumentsForReconciliation returns every document in the folder keyed
// by relative path, used to diff the on-disk state against a fresh scan.
func (s *SQLiteStore) GetDocumentsForReconciliation(ctx context.Context, folderID string) (map[string]*Document, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, folder_id, path, size, mod_time, content_hash, content_type, title, indexed_at, needs_reindex
		FROM documents WHERE folder_id=?`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*Document)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[d.Path] = d
	}
	return out, rows.Err()
}

// DeleteDocument removes a document and cascades to its chunks.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, docID string) error {
	_, err := s.q().ExecContext(ctx, `DELETE FROM documents WHERE id=?`, docID)
	return err
}

// DeleteDocumentsByFolder removes every document (and cascading chunks) for a folder.
func (s *SQLiteStore) DeleteDocumentsByFolder(ctx context.Context, folderID string) error {
	_, err := s.q().ExecContext(ctx, `DELETE FROM documents WHERE folder_id=?`, folderID)
	return err
}

// SaveChunks upserts a batch of chunk rows. Outside WithTx the batch gets
// its own transaction; inside, it joins the enclosing one.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if s.tx != nil {
		return saveChunksIn(ctx, s.tx, chunks)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := saveChunksIn(ctx, tx, chunks); err != nil {
		return err
	}
	return tx.Commit()
}

func saveChunksIn(ctx context.Context, q dbtx, chunks []*Chunk) error {
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, folder_id, content, content_type, ordinal, start_offset, end_offset, token_count, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, content_type=excluded.content_type, ordinal=excluded.ordinal,
			start_offset=excluded.start_offset, end_offset=excluded.end_offset, token_count=excluded.token_count,
			metadata=excluded.metadata, updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, c := range chunks {
		meta := encodeMetadata(c.Metadata)
		created := c.CreatedAt.Unix()
		if created == 0 {
			created = now
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.FolderID, c.Content, string(c.ContentType),
			c.Ordinal, c.StartOffset, c.EndOffset, c.TokenCount, meta, created, now); err != nil {
			return err
		}
	}
	return nil
}

func scanChunk(row interface {
	Scan(dest ...any) error
}) (*Chunk, error) {
	c := &Chunk{}
	var contentType, meta string
	var created, updated int64
	if err := row.Scan(&c.ID, &c.DocumentID, &c.FolderID, &c.Content, &contentType, &c.Ordinal,
		&c.StartOffset, &c.EndOffset, &c.TokenCount, &meta, &created, &updated); err != nil {
		return nil, err
	}
	c.ContentType = ContentType(contentType)
	c.CreatedAt = time.Unix(created, 0)
	c.UpdatedAt = time.Unix(updated, 0)
	c.Metadata = decodeMetadata(meta)
	return c, nil
}

const chunkColumns = `id, document_id, folder_id, content, content_type, ordinal, start_offset, end_offset, token_count, metadata, created_at, updated_at`

// GetChunk fetches a single chunk by ID.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.q().QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id=?`, id)
	return scanChunk(row)
}

// GetChunks batch-fetches chunks by ID, preserving no particular order.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM chunks WHERE id IN (%s)`, chunkColumns, joinPlaceholders(placeholders))
	rows, err := s.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunksByDocument returns every chunk belonging to one document, ordered by position.
func (s *SQLiteStore) GetChunksByDocument(ctx context.Context, docID string) ([]*Chunk, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE document_id=? ORDER BY ordinal`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunks removes chunks by ID.
func (s *SQLiteStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.q().ExecContext(ctx, fmt.Sprintf(`DELETE FROM chunks WHERE id IN (%s)`, joinPlaceholders(placeholders)), args...)
	return err
}

// DeleteChunksByDocument removes every chunk belonging to one document.
func (s *SQLiteStore) DeleteChunksByDocument(ctx context.Context, docID string) error {
	_, err := s.q().ExecContext(ctx, `DELETE FROM chunks WHERE document_id=?`, docID)
	return err
}

// SetEmbeddingConfig records the model identity the folder's vectors were
// built with. The table is constrained to a single row (id=1): a folder has
// exactly one embedding configuration for its whole lifetime, and changing
// it means a full reindex.
func (s *SQLiteStore) SetEmbeddingConfig(ctx context.Context, modelName string, dimension int) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO embedding_config (id, model_name, model_dimension) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET model_name=excluded.model_name, model_dimension=excluded.model_dimension`,
		modelName, dimension)
	return err
}

// GetEmbeddingConfig returns the recorded model identity, or ("", 0) for a
// folder that has never been indexed.
func (s *SQLiteStore) GetEmbeddingConfig(ctx context.Context) (string, int, error) {
	var model string
	var dim int
	err := s.q().QueryRowContext(ctx, `SELECT model_name, model_dimension FROM embedding_config WHERE id=1`).Scan(&model, &dim)
	if err == sql.ErrNoRows {
		return "", 0, nil
	}
	return model, dim, err
}

// SaveFileState records the fingerprint and mtime observed when a file was
// indexed, the row scan diffing compares against.
func (s *SQLiteStore) SaveFileState(ctx context.Context, fs *FileState) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO file_states (file_path, fingerprint, mtime, indexed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			fingerprint=excluded.fingerprint, mtime=excluded.mtime, indexed_at=excluded.indexed_at`,
		fs.Path, fs.Fingerprint, fs.ModTime.Unix(), fs.IndexedAt.Unix())
	return err
}

// GetFileStates returns every recorded file state keyed by path.
func (s *SQLiteStore) GetFileStates(ctx context.Context) (map[string]*FileState, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT file_path, fingerprint, mtime, indexed_at FROM file_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*FileState)
	for rows.Next() {
		fs := &FileState{}
		var mtime, indexedAt int64
		if err := rows.Scan(&fs.Path, &fs.Fingerprint, &mtime, &indexedAt); err != nil {
			return nil, err
		}
		fs.ModTime = time.Unix(mtime, 0)
		fs.IndexedAt = time.Unix(indexedAt, 0)
		out[fs.Path] = fs
	}
	return out, rows.Err()
}

// DeleteFileState forgets one file's recorded state, e.g. after its
// document was removed.
func (s *SQLiteStore) DeleteFileState(ctx context.Context, path string) error {
	_, err := s.q().ExecContext(ctx, `DELETE FROM file_states WHERE file_path=?`, path)
	return err
}

// MarkForReindex flags one document so the next reconciliation re-chunks
// and re-embeds it even though its content hash is unchanged.
func (s *SQLiteStore) MarkForReindex(ctx context.Context, folderID, path string) error {
	_, err := s.q().ExecContext(ctx, `UPDATE documents SET needs_reindex=1 WHERE folder_id=? AND path=?`, folderID, path)
	return err
}

// GetDocumentsNeedingReindex lists documents flagged by MarkForReindex.
func (s *SQLiteStore) GetDocumentsNeedingReindex(ctx context.Context, folderID string) ([]*Document, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, folder_id, path, size, mod_time, content_hash, content_type, title, indexed_at, needs_reindex
		FROM documents WHERE folder_id=? AND needs_reindex=1 ORDER BY path`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetState reads one key from the runtime key-value state table.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q().QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState writes one key to the runtime key-value state table.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.q().ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// SaveIndexCheckpoint records resumable indexing progress.
func (s *SQLiteStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	if err := s.SetState(ctx, StateKeyCheckpointStage, stage); err != nil {
		return err
	}
	if err := s.SetState(ctx, StateKeyCheckpointTotal, fmt.Sprint(total)); err != nil {
		return err
	}
	if err := s.SetState(ctx, StateKeyCheckpointEmbedded, fmt.Sprint(embeddedCount)); err != nil {
		return err
	}
	if err := s.SetState(ctx, StateKeyCheckpointTimestamp, fmt.Sprint(time.Now().Unix())); err != nil {
		return err
	}
	return s.SetState(ctx, StateKeyCheckpointEmbedderModel, embedderModel)
}

// LoadIndexCheckpoint reads back the last saved checkpoint, if any.
func (s *SQLiteStore) LoadIndexCheckpoint(ctx context.Context) (*IndexCheckpoint, error) {
	stage, err := s.GetState(ctx, StateKeyCheckpointStage)
	if err != nil || stage == "" {
		return nil, err
	}
	total, _ := s.GetState(ctx, StateKeyCheckpointTotal)
	embedded, _ := s.GetState(ctx, StateKeyCheckpointEmbedded)
	ts, _ := s.GetState(ctx, StateKeyCheckpointTimestamp)
	model, _ := s.GetState(ctx, StateKeyCheckpointEmbedderModel)

	ck := &IndexCheckpoint{Stage: stage, EmbedderModel: model}
	fmt.Sscanf(total, "%d", &ck.Total)
	fmt.Sscanf(embedded, "%d", &ck.EmbeddedCount)
	var unixTs int64
	fmt.Sscanf(ts, "%d", &unixTs)
	ck.Timestamp = time.Unix(unixTs, 0)
	return ck, nil
}

// ClearIndexCheckpoint removes all checkpoint state keys.
func (s *SQLiteStore) ClearIndexCheckpoint(ctx context.Context) error {
	for _, key := range []string{StateKeyCheckpointStage, StateKeyCheckpointTotal, StateKeyCheckpointEmbedded,
		StateKeyCheckpointTimestamp, StateKeyCheckpointEmbedderModel} {
		if _, err := s.q().ExecContext(ctx, `DELETE FROM kv_state WHERE key=?`, key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIntegrity runs PRAGMA integrity_check against the open database
// and confirms the schema is intact: every required table present, and
// embedding_config holding at most its single id=1 row.
func (s *SQLiteStore) ValidateIntegrity(ctx context.Context) error {
	var result string
	if err := s.q().QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity_check reported: %s", result)
	}

	for _, table := range []string{"folders", "documents", "chunks", "embedding_config", "file_states", "kv_state"} {
		var name string
		err := s.q().QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("schema drift: required table %q is missing", table)
		}
		if err != nil {
			return err
		}
	}

	var rows int
	if err := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_config`).Scan(&rows); err != nil {
		return err
	}
	if rows > 1 {
		return fmt.Errorf("schema drift: embedding_config holds %d rows, expected at most 1", rows)
	}
	return nil
}

// Optimize runs SQLite's incremental optimizer, reclaiming space and
// refreshing query planner statistics after a large batch of writes.
func (s *SQLiteStore) Optimize(ctx context.Context) error {
	_, err := s.q().ExecContext(ctx, "PRAGMA optimize")
	return err
}

// WithTx runs fn against a transactional view of the store: every metadata
// call fn makes through the view joins one *sql.Tx, committed only if fn
// returns nil and rolled back otherwise. The indexing pipeline relies on
// this for its per-file guarantee that a partial file persists nothing.
// Nested calls join the enclosing transaction rather than opening another.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx MetadataStore) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin transaction: %w", err)
	}

	view := &SQLiteStore{db: s.db, tx: tx, cfg: s.cfg}
	if err := fn(view); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit transaction: %w", err)
	}
	return nil
}

// Close releases the underlying database handle. Closing a WithTx view is a
// no-op: the view's lifetime is the transaction's, and the owning store
// still holds the database.
func (s *SQLiteStore) Close() error {
	if s.tx != nil || s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ MetadataStore = (*SQLiteStore)(nil)

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}
