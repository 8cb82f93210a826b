package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// psql builds queries with $N placeholders
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens the database, verifies connectivity and
// applies pending migrations.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection without running
// migrations. Used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "postgres")}
}

// Ping verifies database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Tenant operations

func (s *PostgresStore) CreateTenant(ctx context.Context, t *types.Tenant) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO tenants (email, password_hash, full_name, is_active, is_verified, usage_count, last_reset, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
		 RETURNING id`,
		t.Email, t.PasswordHash, t.FullName, t.Active, t.Verified, time.Now().UTC(),
	).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id int64) (*types.Tenant, error) {
	var t types.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tenants WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTenantByEmail(ctx context.Context, email string) (*types.Tenant, error) {
	var t types.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tenants WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant by email: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) SetTenantVerified(ctx context.Context, id int64, verified bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET is_verified = $1 WHERE id = $2`, verified, id)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	return requireAffected(res)
}

// ResetUsage zeroes the monthly counter and advances last_reset. Called
// lazily at the first admission check after the month boundary.
func (s *PostgresStore) ResetUsage(ctx context.Context, tenantID int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET usage_count = 0, last_reset = $1 WHERE id = $2`,
		now.UTC(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return requireAffected(res)
}

// API key operations

func (s *PostgresStore) CreateAPIKey(ctx context.Context, k *types.APIKey) error {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO api_keys (tenant_id, key_hash, name, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		k.TenantID, k.KeyHash, k.Name, k.Active, time.Now().UTC(),
	).Scan(&k.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, hash string) (*types.APIKey, error) {
	var k types.APIKey
	err := s.db.GetContext(ctx, &k,
		`SELECT * FROM api_keys WHERE key_hash = $1 AND is_active = TRUE`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}

func (s *PostgresStore) TouchAPIKey(ctx context.Context, id int64, when time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used = $1 WHERE id = $2`, when.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// Plan and subscription operations

func (s *PostgresStore) GetPlanByName(ctx context.Context, name string) (*types.Plan, error) {
	var p types.Plan
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM subscription_plans WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetPlanForTenant(ctx context.Context, tenantID int64) (*types.Plan, error) {
	var p types.Plan
	err := s.db.GetContext(ctx, &p,
		`SELECT p.id, p.name, p.max_files_per_month, p.max_file_size_mb, p.is_active, p.price_cents_monthly
		 FROM subscription_plans p
		 JOIN subscriptions sub ON sub.plan_id = p.id
		 WHERE sub.tenant_id = $1 AND sub.is_active = TRUE AND p.is_active = TRUE
		 ORDER BY sub.started_at DESC
		 LIMIT 1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan for tenant: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) Subscribe(ctx context.Context, tenantID, planID int64, now time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = FALSE WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("failed to deactivate subscriptions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions (tenant_id, plan_id, is_active, started_at)
		 VALUES ($1, $2, TRUE, $3)`, tenantID, planID, now.UTC()); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return tx.Commit()
}

// Job operations

// jobRow mirrors the jobs table; parameters and result_data are JSON
// columns decoded into the typed structs on the way out.
type jobRow struct {
	types.Job
	ParametersJSON []byte `db:"parameters"`
	ResultJSON     []byte `db:"result_data"`
}

func (r *jobRow) toJob() (*types.Job, error) {
	j := r.Job
	if len(r.ParametersJSON) > 0 {
		if err := json.Unmarshal(r.ParametersJSON, &j.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode job parameters: %w", err)
		}
	}
	if len(r.ResultJSON) > 0 {
		if err := json.Unmarshal(r.ResultJSON, &j.ResultData); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
	}
	return &j, nil
}

const jobColumns = `id, tenant_id, kind, status, input_path, input_name, input_size,
	output_path, output_name, output_size, parameters, result_data,
	error_kind, error_message, processing_time_ms, started_at, completed_at, created_at`

func (s *PostgresStore) CreateJob(ctx context.Context, j *types.Job) error {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode job parameters: %w", err)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	j.Status = types.JobStatusPending

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, kind, status, input_path, input_name, input_size, parameters, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		j.ID, j.TenantID, j.Kind, j.Status, j.InputPath, j.InputName, j.InputSize, params, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*types.Job, error) {
	var r jobRow
	err := s.db.GetContext(ctx, &r,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return r.toJob()
}

func (s *PostgresStore) ListJobs(ctx context.Context, f types.JobFilter) ([]*types.Job, error) {
	q := psql.Select(
		"id", "tenant_id", "kind", "status", "input_path", "input_name", "input_size",
		"output_path", "output_name", "output_size", "parameters", "result_data",
		"error_kind", "error_message", "processing_time_ms", "started_at", "completed_at", "created_at",
	).From("jobs").
		Where(sq.Eq{"tenant_id": f.TenantID}).
		OrderBy("created_at DESC")

	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.Kind != "" {
		q = q.Where(sq.Eq{"kind": f.Kind})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job query: %w", err)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*types.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *PostgresStore) CountJobs(ctx context.Context, f types.JobFilter) (int, error) {
	q := psql.Select("COUNT(*)").From("jobs").Where(sq.Eq{"tenant_id": f.TenantID})
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.Kind != "" {
		q = q.Where(sq.Eq{"kind": f.Kind})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// StartJob performs the pending -> processing transition. The WHERE
// clause on the current status guards against double-pickup.
func (s *PostgresStore) StartJob(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
		types.JobStatusProcessing, at.UTC(), id, types.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return requireTransition(res)
}

// CompleteJob writes the output metadata and the completed transition,
// and increments the owning tenant's usage counter, in one transaction.
func (s *PostgresStore) CompleteJob(ctx context.Context, j *types.Job, at time.Time) error {
	result, err := json.Marshal(j.ResultData)
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, completed_at = $2, output_path = $3, output_name = $4,
		     output_size = $5, result_data = $6, processing_time_ms = $7
		 WHERE id = $8 AND status = $9`,
		types.JobStatusCompleted, at.UTC(), j.OutputPath, j.OutputName,
		j.OutputSize, result, j.ProcessingTimeMS, j.ID, types.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if err := requireTransition(res); err != nil {
		return err
	}

	// Usage is counted exactly once per job, only here.
	if _, err := tx.ExecContext(ctx,
		`UPDATE tenants SET usage_count = usage_count + 1 WHERE id = $1`,
		j.TenantID); err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) FailJob(ctx context.Context, id, errorKind, errorMessage string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, completed_at = $2, error_kind = $3, error_message = $4,
		     processing_time_ms = COALESCE(EXTRACT(EPOCH FROM ($2::timestamptz - started_at)) * 1000, 0)::bigint
		 WHERE id = $5 AND status = $6`,
		types.JobStatusFailed, at.UTC(), errorKind, errorMessage, id, types.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return requireTransition(res)
}

func (s *PostgresStore) CancelJob(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, completed_at = $2 WHERE id = $3 AND status IN ($4, $5)`,
		types.JobStatusCancelled, at.UTC(), id,
		types.JobStatusPending, types.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return requireTransition(res)
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) DeleteTenantJobs(ctx context.Context, tenantID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tenant jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *PostgresStore) ListExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]*types.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status IN ($1, $2) AND completed_at < $3
		 ORDER BY completed_at ASC
		 LIMIT $4`,
		types.JobStatusCompleted, types.JobStatusFailed, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	jobs := make([]*types.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func requireTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
