package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/mail-sentinel/internal/embedding"
	"github.com/rcliao/mail-sentinel/internal/model"
)

// SQLiteStore implements Store using SQLite. Embeddings are computed by the
// configured Embedder on every Put and stored alongside the entry, so the
// store survives process restarts with its vectors intact.
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	embedder embedding.Embedder
	entropy  *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// The embedding dimensionality is fixed per store instance: opening an
// existing store with an embedder of different dims fails.
func NewSQLiteStore(dbPath string, embedder embedding.Embedder) (*SQLiteStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		dbPath:   dbPath,
		embedder: embedder,
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.checkDims(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id          TEXT PRIMARY KEY,
		content     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		importance  REAL NOT NULL DEFAULT 0.5,
		metadata    TEXT,
		created_at  TEXT NOT NULL,
		embedding   BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at DESC);

	CREATE TABLE IF NOT EXISTS store_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// checkDims pins the embedding dimensionality on first use and rejects
// mismatched embedders afterwards.
func (s *SQLiteStore) checkDims() error {
	var stored string
	err := s.db.QueryRow(`SELECT value FROM store_meta WHERE key = 'embedding_dims'`).Scan(&stored)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(`INSERT INTO store_meta (key, value) VALUES ('embedding_dims', ?)`,
			fmt.Sprintf("%d", s.embedder.Dims()))
		return err
	}
	if err != nil {
		return fmt.Errorf("read store meta: %w", err)
	}
	if stored != fmt.Sprintf("%d", s.embedder.Dims()) {
		return fmt.Errorf("embedding dims mismatch: store has %s, embedder has %d", stored, s.embedder.Dims())
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, p PutParams) (*model.Entry, error) {
	kind := p.Kind
	if kind == "" {
		kind = model.KindObservation
	}
	if !model.ValidKinds[kind] {
		return nil, fmt.Errorf("invalid kind %q", kind)
	}

	vec, err := s.embedder.Embed(ctx, p.Content)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}

	now := time.Now().UTC()
	id := s.newID()
	importance := model.ClampImportance(p.Importance)

	var metaJSON *string
	if len(p.Metadata) > 0 {
		b, _ := json.Marshal(p.Metadata)
		str := string(b)
		metaJSON = &str
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (id, content, kind, importance, metadata, created_at, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, p.Content, string(kind), importance, metaJSON,
		now.Format(time.RFC3339Nano), encodeVector(vec))
	if err != nil {
		return nil, &PersistenceError{Op: "insert entry", Err: err}
	}

	return &model.Entry{
		ID:         id,
		Content:    p.Content,
		Kind:       kind,
		Importance: importance,
		Metadata:   p.Metadata,
		CreatedAt:  now,
		Embedding:  vec,
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, kind, importance, metadata, created_at, embedding
		 FROM entries WHERE id = ?`, id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get entry", Err: err}
	}
	return &e, nil
}

// Search embeds the query text, applies the kind/metadata filters in SQL, and
// ranks the surviving rows by cosine similarity in memory. Ties are broken by
// created_at descending.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	k := p.K
	if k <= 0 {
		k = 10
	}

	qvec, err := s.embedder.Embed(ctx, p.Query)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}

	entries, err := s.filtered(ctx, p.Kind, p.Metadata, 0)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, SearchResult{
			Entry: e,
			Score: embedding.CosineSimilarity(qvec, e.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Entry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	return s.filtered(ctx, p.Kind, p.Metadata, limit)
}

// filtered loads entries matching kind and exact metadata fields, most recent
// first. limit <= 0 means no limit.
func (s *SQLiteStore) filtered(ctx context.Context, kind model.Kind, meta map[string]string, limit int) ([]model.Entry, error) {
	query := `SELECT id, content, kind, importance, metadata, created_at, embedding FROM entries`
	where := []string{}
	args := []interface{}{}

	if kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(kind))
	}
	// Deterministic order so metadata filters compose predictably in tests.
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		where = append(where, "json_extract(metadata, '$.'||?) = ?")
		args = append(args, k, meta[k])
	}

	if len(where) > 0 {
		query += " WHERE " + joinAnd(where)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "query entries", Err: err}
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "scan entry", Err: err}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.dbPath, ByKind: map[string]int{}}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&st.Count); err != nil {
		return nil, &PersistenceError{Op: "count entries", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM entries GROUP BY kind`)
	if err != nil {
		return nil, &PersistenceError{Op: "count by kind", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, &PersistenceError{Op: "scan kind count", Err: err}
		}
		st.ByKind[kind] = n
	}
	return st, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return &PersistenceError{Op: "clear entries", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (model.Entry, error) {
	var e model.Entry
	var kind, createdAt string
	var metaJSON sql.NullString
	var blob []byte

	err := row.Scan(&e.ID, &e.Content, &kind, &e.Importance, &metaJSON, &createdAt, &blob)
	if err != nil {
		return e, err
	}

	e.Kind = model.Kind(kind)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if metaJSON.Valid {
		json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
	}
	e.Embedding = decodeVector(blob)
	return e, nil
}

func joinAnd(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}

// encodeVector serializes a vector as little-endian float32 bits.
func encodeVector(v embedding.Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) embedding.Vector {
	v := make(embedding.Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
