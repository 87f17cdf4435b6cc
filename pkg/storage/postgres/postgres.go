// Package postgres provides a PostgreSQL implementation of storage.Store.
// It uses pgx/v5 connection pooling, JSONB for plans, errors and logs, and
// BYTEA for artifact bytes that are not kept in an object store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/storage"
)

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Config configures the connection pool. Zero fields take the defaults
// noted beside them.
type Config struct {
	DSN              string
	MaxConns         int32         // 25
	MinConns         int32         // 2
	MaxConnLifetime  time.Duration // 5m
	StatementTimeout time.Duration // server default when zero
	MigrateOnStart   bool
}

// New connects to PostgreSQL and, when MigrateOnStart is set, applies the
// schema migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = orDefault(cfg.MaxConns, 25)
	poolCfg.MinConns = orDefault(cfg.MinConns, 2)
	poolCfg.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, 5*time.Minute)
	if cfg.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}
	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return s, nil
}

func orDefault[T int32 | time.Duration](v, def T) T {
	if v == 0 {
		return def
	}
	return v
}

// SaveRun implements storage.Store. The run and its artifacts are written
// in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *api.Run) error {
	planJSON, err := marshalNullable(run.Plan)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	errorJSON, err := marshalNullable(run.Error)
	if err != nil {
		return fmt.Errorf("marshaling error: %w", err)
	}
	var logsJSON []byte
	if len(run.Logs) > 0 {
		if logsJSON, err = json.Marshal(run.Logs); err != nil {
			return fmt.Errorf("marshaling logs: %w", err)
		}
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO runs (
				id, tenant_id, dataset_id, prompt, plan, forced, retry_of,
				route, success, no_artifacts, error,
				script, stdout, stderr, logs, insight,
				exit_code, duration_ms, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`,
			run.ID, storage.GetTenant(ctx), run.DatasetID, run.Prompt, nullBytes(planJSON), run.Forced, nullString(run.RetryOf),
			string(run.Route), run.Success, run.NoArtifacts, nullBytes(errorJSON),
			run.Script, run.Stdout, run.Stderr, nullBytes(logsJSON), run.Insight,
			run.ExitCode, run.DurationMS, run.CreatedAt,
		)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, a := range run.Artifacts {
			batch.Queue(`
				INSERT INTO artifacts (run_id, position, name, format, size, object_key, data)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, run.ID, i, a.Name, a.Format, a.Size, nullString(a.Key), nullBytes(a.Data))
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

const runColumns = `
	id, dataset_id, prompt, plan, forced, retry_of,
	route, success, no_artifacts, error,
	script, stdout, stderr, logs, insight,
	exit_code, duration_ms, created_at`

// GetRun implements storage.Store.
func (s *Store) GetRun(ctx context.Context, id string) (*api.Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE id = $1"
	args := []any{id}
	if tenant := storage.GetTenant(ctx); tenant != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenant)
	}

	run, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT name, format, size, object_key, data
		FROM artifacts WHERE run_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a api.Artifact
		var key *string
		if err := rows.Scan(&a.Name, &a.Format, &a.Size, &key, &a.Data); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		if key != nil {
			a.Key = *key
		}
		run.Artifacts = append(run.Artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading artifacts: %w", err)
	}
	return run, nil
}

// ListRuns implements storage.Store. Pagination is keyset based on
// (created_at, id).
func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) (*storage.RunList, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if tenant := storage.GetTenant(ctx); tenant != "" {
		where = append(where, "tenant_id = "+arg(tenant))
	}
	if opts.DatasetID != "" {
		where = append(where, "dataset_id = "+arg(opts.DatasetID))
	}

	cmp, order := "<", "DESC"
	if opts.Order == "asc" {
		cmp, order = ">", "ASC"
	}
	if opts.After != "" {
		p := arg(opts.After)
		where = append(where, fmt.Sprintf(
			"(created_at, id) %s (SELECT created_at, id FROM runs WHERE id = %s)", cmp, p))
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.EffectiveLimit()
	query += fmt.Sprintf(" ORDER BY created_at %s, id %s LIMIT %s", order, order, arg(limit+1))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*api.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	if err := s.attachArtifactMetadata(ctx, runs); err != nil {
		return nil, err
	}
	return storage.NewRunList(runs, limit), nil
}

func (s *Store) attachArtifactMetadata(ctx context.Context, runs []*api.Run) error {
	if len(runs) == 0 {
		return nil
	}
	byID := make(map[string]*api.Run, len(runs))
	ids := make([]string, len(runs))
	for i, r := range runs {
		byID[r.ID] = r
		ids[i] = r.ID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT run_id, name, format, size, object_key
		FROM artifacts WHERE run_id = ANY($1) ORDER BY run_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var runID string
		var a api.Artifact
		var key *string
		if err := rows.Scan(&runID, &a.Name, &a.Format, &a.Size, &key); err != nil {
			return fmt.Errorf("scanning artifact: %w", err)
		}
		if key != nil {
			a.Key = *key
		}
		if r := byID[runID]; r != nil {
			r.Artifacts = append(r.Artifacts, a)
		}
	}
	return rows.Err()
}

// SaveRating implements storage.Store. The upsert on the run_id primary
// key serializes concurrent ratings of the same run.
func (s *Store) SaveRating(ctx context.Context, rating *api.RatingRecord) error {
	tenant := storage.GetTenant(ctx)
	query := `
		INSERT INTO ratings (id, run_id, tenant_id, score, feedback, created_at)
		SELECT $1::text, r.id, $3::text, $4::smallint, $5::text, $6::bigint FROM runs r WHERE r.id = $2`
	if tenant != "" {
		query += " AND r.tenant_id = $3::text"
	}
	query += `
		ON CONFLICT (run_id) DO UPDATE SET
			id = EXCLUDED.id, score = EXCLUDED.score,
			feedback = EXCLUDED.feedback, created_at = EXCLUDED.created_at`

	tag, err := s.pool.Exec(ctx, query,
		rating.ID, rating.RunID, tenant, rating.Score, rating.Feedback, rating.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RatingStats implements storage.Store.
func (s *Store) RatingStats(ctx context.Context) (api.RatingStats, error) {
	var good, bad int
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE score = 1),
			COUNT(*) FILTER (WHERE score = 0)
		FROM ratings
		WHERE $1::text = '' OR tenant_id = $1::text
	`, storage.GetTenant(ctx)).Scan(&good, &bad)
	if err != nil {
		return api.RatingStats{}, fmt.Errorf("querying rating stats: %w", err)
	}
	return api.ComputeRatingStats(good, bad), nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanRun(row pgx.Row) (*api.Run, error) {
	var (
		run                         api.Run
		route                       string
		retryOf                     *string
		planJSON, errorJSON, logsJS []byte
	)
	err := row.Scan(
		&run.ID, &run.DatasetID, &run.Prompt, &planJSON, &run.Forced, &retryOf,
		&route, &run.Success, &run.NoArtifacts, &errorJSON,
		&run.Script, &run.Stdout, &run.Stderr, &logsJS, &run.Insight,
		&run.ExitCode, &run.DurationMS, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Object = "visualization.run"
	run.Route = api.Route(route)
	if retryOf != nil {
		run.RetryOf = *retryOf
	}
	if len(planJSON) > 0 {
		run.Plan = &api.VisualizationPlan{}
		if err := json.Unmarshal(planJSON, run.Plan); err != nil {
			return nil, fmt.Errorf("unmarshaling plan: %w", err)
		}
	}
	if len(errorJSON) > 0 {
		run.Error = &api.ExecutionError{}
		if err := json.Unmarshal(errorJSON, run.Error); err != nil {
			return nil, fmt.Errorf("unmarshaling error: %w", err)
		}
	}
	if len(logsJS) > 0 {
		if err := json.Unmarshal(logsJS, &run.Logs); err != nil {
			return nil, fmt.Errorf("unmarshaling logs: %w", err)
		}
	}
	return &run, nil
}

// marshalNullable returns nil for nil pointers so the column stays NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

// isDuplicateKey reports a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
