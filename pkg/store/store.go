package store

import (
	"context"
	"errors"
	"time"

	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

var (
	// ErrNotFound is returned when a row does not exist or is not
	// visible to the caller
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional status transition
	// finds the row in an unexpected state (lost race)
	ErrConflict = errors.New("conflicting job state")

	// ErrDuplicate is returned when a unique constraint is violated
	ErrDuplicate = errors.New("already exists")
)

// Store is the durable source of truth for tenants, plans, API keys
// and jobs. All status decisions are made against it; transitions use
// optimistic conditional updates keyed on the expected current status.
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, t *types.Tenant) error
	GetTenant(ctx context.Context, id int64) (*types.Tenant, error)
	GetTenantByEmail(ctx context.Context, email string) (*types.Tenant, error)
	SetTenantVerified(ctx context.Context, id int64, verified bool) error
	ResetUsage(ctx context.Context, tenantID int64, now time.Time) error

	// API keys
	CreateAPIKey(ctx context.Context, k *types.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*types.APIKey, error)
	TouchAPIKey(ctx context.Context, id int64, when time.Time) error

	// Plans and subscriptions
	GetPlanByName(ctx context.Context, name string) (*types.Plan, error)
	GetPlanForTenant(ctx context.Context, tenantID int64) (*types.Plan, error)
	Subscribe(ctx context.Context, tenantID, planID int64, now time.Time) error

	// Jobs
	CreateJob(ctx context.Context, j *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	ListJobs(ctx context.Context, f types.JobFilter) ([]*types.Job, error)
	CountJobs(ctx context.Context, f types.JobFilter) (int, error)

	// StartJob transitions pending -> processing; ErrConflict if the
	// row is not pending.
	StartJob(ctx context.Context, id string, at time.Time) error

	// CompleteJob transitions processing -> completed, writes the
	// output metadata and result data, and increments the tenant's
	// usage counter in the same transaction; ErrConflict if the row
	// is not processing.
	CompleteJob(ctx context.Context, j *types.Job, at time.Time) error

	// FailJob transitions processing -> failed with the taxonomy
	// kind and message; ErrConflict if the row is not processing.
	FailJob(ctx context.Context, id, errorKind, errorMessage string, at time.Time) error

	// CancelJob transitions pending|processing -> cancelled;
	// ErrConflict if the row is already terminal.
	CancelJob(ctx context.Context, id string, at time.Time) error

	DeleteJob(ctx context.Context, id string) error
	DeleteTenantJobs(ctx context.Context, tenantID int64) (int64, error)

	// ListExpiredJobs returns terminal (completed or failed) jobs
	// whose completed_at is older than cutoff.
	ListExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]*types.Job, error)

	// Utility
	Ping(ctx context.Context) error
	Close() error
}
