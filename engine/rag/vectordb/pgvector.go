package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PGVectorStore implements Store on postgres with the pgvector extension.
// Each collection is one table plus a row in the registry table recording
// its vector size and metric.
type PGVectorStore struct {
	pool *pgxpool.Pool
}

const pgRegistryTable = "vector_collections"

// NewPGVectorStore connects to postgres and prepares the extension and
// the collection registry.
func NewPGVectorStore(ctx context.Context, dsn string) (*PGVectorStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("pgvector: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	store := &PGVectorStore{pool: pool}
	if err := store.ensureBase(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PGVectorStore) ensureBase(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: enable extension: %w", err)
	}
	registry := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		name TEXT PRIMARY KEY,
		vector_size INT NOT NULL,
		metric TEXT NOT NULL
	)`, pgRegistryTable)
	if _, err := s.pool.Exec(ctx, registry); err != nil {
		return fmt.Errorf("pgvector: create registry: %w", err)
	}
	return nil
}

func (s *PGVectorStore) EnsureCollection(ctx context.Context, name string, vectorSize int, metric Metric) error {
	return s.CreateCollection(ctx, name, vectorSize, metric)
}

func (s *PGVectorStore) CreateCollection(ctx context.Context, name string, vectorSize int, metric Metric) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	ident := pgx.Identifier{name}.Sanitize()
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d),
		payload JSONB,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`, ident, vectorSize)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create collection %s: %w", name, err)
	}
	tenantIdx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s ((payload->>'%s'))",
		pgx.Identifier{name + "_tenant_idx"}.Sanitize(), ident, PayloadFieldTenant)
	if _, err := s.pool.Exec(ctx, tenantIdx); err != nil {
		return fmt.Errorf("pgvector: create tenant index for %s: %w", name, err)
	}
	register := fmt.Sprintf(`INSERT INTO %s (name, vector_size, metric) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`, pgRegistryTable)
	if _, err := s.pool.Exec(ctx, register, name, vectorSize, string(metric)); err != nil {
		return fmt.Errorf("pgvector: register collection %s: %w", name, err)
	}
	return nil
}

func (s *PGVectorStore) DeleteCollection(ctx context.Context, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s", pgx.Identifier{name}.Sanitize())
	if _, err := s.pool.Exec(ctx, drop); err != nil {
		return fmt.Errorf("pgvector: drop collection %s: %w", name, err)
	}
	unregister := fmt.Sprintf("DELETE FROM %s WHERE name = $1", pgRegistryTable)
	if _, err := s.pool.Exec(ctx, unregister, name); err != nil {
		return fmt.Errorf("pgvector: unregister collection %s: %w", name, err)
	}
	return nil
}

func (s *PGVectorStore) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	info := &CollectionInfo{Name: name}
	var metric string
	lookup := fmt.Sprintf("SELECT vector_size, metric FROM %s WHERE name = $1", pgRegistryTable)
	if err := s.pool.QueryRow(ctx, lookup, name).Scan(&info.VectorSize, &metric); err != nil {
		return nil, fmt.Errorf("pgvector: collection %s: %w", name, err)
	}
	info.Metric = Metric(metric)
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgx.Identifier{name}.Sanitize())
	if err := s.pool.QueryRow(ctx, countQuery).Scan(&info.PointCount); err != nil {
		return nil, fmt.Errorf("pgvector: count %s: %w", name, err)
	}
	return info, nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, collection string, points []Point) (result *UpsertResult, err error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	result = &UpsertResult{}
	if len(points) == 0 {
		return result, nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("pgvector: begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
		}
	}()
	ident := pgx.Identifier{collection}.Sanitize()
	stmt := fmt.Sprintf(`INSERT INTO %s (id, embedding, payload, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload,
			updated_at = NOW()`, ident)
	for i := range points {
		payload, marshalErr := json.Marshal(points[i].Payload)
		if marshalErr != nil {
			err = fmt.Errorf("pgvector: marshal payload for %s: %w", points[i].ID, marshalErr)
			return nil, err
		}
		if _, err = tx.Exec(ctx, stmt, points[i].ID, pgvector.NewVector(points[i].Vector), payload); err != nil {
			err = fmt.Errorf("pgvector: upsert point %s: %w", points[i].ID, err)
			return nil, err
		}
		result.PointIDs = append(result.PointIDs, points[i].ID)
	}
	if err = tx.Commit(ctx); err != nil {
		err = fmt.Errorf("pgvector: commit upsert: %w", err)
		return nil, err
	}
	result.OperationIDs = []int64{int64(len(result.PointIDs))}
	return result, nil
}

func (s *PGVectorStore) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]Match, error) {
	if len(vector) == 0 {
		return nil, nil
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	where, args := payloadConditions(opts.Filter, 2)
	query := fmt.Sprintf(`SELECT id, payload, 1 - (embedding <=> $1) AS score
		FROM %s%s
		ORDER BY embedding <=> $1
		LIMIT %d`,
		pgx.Identifier{collection}.Sanitize(), where, topKOrDefault(opts.TopK))
	args = append([]any{pgvector.NewVector(vector)}, args...)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("pgvector: collection %q: %w", collection, ErrCollectionNotFound)
		}
		return nil, fmt.Errorf("pgvector: search %s: %w", collection, err)
	}
	defer rows.Close()
	return scanMatches(rows)
}

func (s *PGVectorStore) SearchBatch(ctx context.Context, collection string, vectors [][]float32, opts SearchOptions) ([][]Match, error) {
	results := make([][]Match, len(vectors))
	for i, vector := range vectors {
		if len(vector) == 0 {
			results[i] = []Match{}
			continue
		}
		matches, err := s.Search(ctx, collection, vector, opts)
		if err != nil {
			return nil, err
		}
		results[i] = matches
	}
	return results, nil
}

// Query supports the plain vector shape only; the other shapes have no
// efficient pgvector equivalent and callers should use Qdrant for them.
func (s *PGVectorStore) Query(ctx context.Context, collection string, query Query, opts SearchOptions) ([]Match, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	if len(query.Vector) == 0 {
		return nil, fmt.Errorf("pgvector: only plain vector queries are supported")
	}
	return s.Search(ctx, collection, query.Vector, opts)
}

func (s *PGVectorStore) Delete(ctx context.Context, collection string, selector Selector) error {
	if selector.IsEmpty() {
		return nil
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	ident := pgx.Identifier{collection}.Sanitize()
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if len(selector.IDs) > 0 {
		args = append(args, selector.IDs)
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	for key, value := range selector.Match {
		args = append(args, fmt.Sprint(value))
		conditions = append(conditions, fmt.Sprintf("payload->>'%s' = $%d", sanitizeNamePart(key), len(args)))
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", ident, strings.Join(conditions, " AND "))
	if _, err := s.pool.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("pgvector: delete from %s: %w", collection, err)
	}
	return nil
}

func (s *PGVectorStore) Scroll(ctx context.Context, collection string, selector Selector, limit int, cursor string) (*ScrollPage, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 64
	}
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if cursor != "" {
		args = append(args, cursor)
		conditions = append(conditions, fmt.Sprintf("id >= $%d", len(args)))
	}
	if len(selector.IDs) > 0 {
		args = append(args, selector.IDs)
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	for key, value := range selector.Match {
		args = append(args, fmt.Sprint(value))
		conditions = append(conditions, fmt.Sprintf("payload->>'%s' = $%d", sanitizeNamePart(key), len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	// Fetch one extra row to learn whether another page exists.
	query := fmt.Sprintf("SELECT id, embedding, payload FROM %s%s ORDER BY id LIMIT %d",
		pgx.Identifier{collection}.Sanitize(), where, limit+1)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: scroll %s: %w", collection, err)
	}
	defer rows.Close()
	page := &ScrollPage{}
	for rows.Next() {
		var (
			id      string
			vec     pgvector.Vector
			payload []byte
		)
		if err := rows.Scan(&id, &vec, &payload); err != nil {
			return nil, fmt.Errorf("pgvector: scan scroll row: %w", err)
		}
		if len(page.Points) == limit {
			page.NextCursor = id
			break
		}
		point := Point{ID: id, Vector: vec.Slice()}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &point.Payload); err != nil {
				return nil, fmt.Errorf("pgvector: decode payload for %s: %w", id, err)
			}
		}
		page.Points = append(page.Points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: scroll rows: %w", err)
	}
	return page, nil
}

func (s *PGVectorStore) Count(ctx context.Context, collection string, selector Selector) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if len(selector.IDs) > 0 {
		args = append(args, selector.IDs)
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	for key, value := range selector.Match {
		args = append(args, fmt.Sprint(value))
		conditions = append(conditions, fmt.Sprintf("payload->>'%s' = $%d", sanitizeNamePart(key), len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", pgx.Identifier{collection}.Sanitize(), where)
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("pgvector: count %s: %w", collection, err)
	}
	return count, nil
}

func (s *PGVectorStore) SetPayload(ctx context.Context, collection string, ids []string, payload map[string]any) error {
	if len(ids) == 0 || len(payload) == 0 {
		return nil
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	patch, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("pgvector: marshal payload patch: %w", err)
	}
	stmt := fmt.Sprintf("UPDATE %s SET payload = COALESCE(payload, '{}'::jsonb) || $1, updated_at = NOW() WHERE id = ANY($2)",
		pgx.Identifier{collection}.Sanitize())
	if _, err := s.pool.Exec(ctx, stmt, patch, ids); err != nil {
		return fmt.Errorf("pgvector: set payload on %s: %w", collection, err)
	}
	return nil
}

func (s *PGVectorStore) UpdateVectors(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	stmt := fmt.Sprintf("UPDATE %s SET embedding = $1, updated_at = NOW() WHERE id = $2",
		pgx.Identifier{collection}.Sanitize())
	for i := range points {
		if _, err := s.pool.Exec(ctx, stmt, pgvector.NewVector(points[i].Vector), points[i].ID); err != nil {
			return fmt.Errorf("pgvector: update vector for %s: %w", points[i].ID, err)
		}
	}
	return nil
}

func (s *PGVectorStore) Healthy(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgvector: ping: %w", err)
	}
	return nil
}

func (s *PGVectorStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// isUndefinedTable reports SQLSTATE 42P01, which is how postgres signals
// a collection whose table was never created.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

func payloadConditions(filter map[string]any, firstArg int) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	conditions := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	arg := firstArg
	for key, value := range filter {
		conditions = append(conditions, fmt.Sprintf("payload->>'%s' = $%d", sanitizeNamePart(key), arg))
		args = append(args, fmt.Sprint(value))
		arg++
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanMatches(rows pgx.Rows) ([]Match, error) {
	matches := make([]Match, 0)
	for rows.Next() {
		var (
			id      string
			payload []byte
			score   float64
		)
		if err := rows.Scan(&id, &payload, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan match: %w", err)
		}
		match := Match{ID: id, Score: score, Provenance: ProvenanceFiltered}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &match.Payload); err != nil {
				return nil, fmt.Errorf("pgvector: decode payload for %s: %w", id, err)
			}
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return matches, nil
}
