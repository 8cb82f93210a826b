package quota

import (
	"context"
	"errors"
	"time"

	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/store"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

// Gate is the admission check evaluated before any bytes are persisted
// for a request. It is the only place that resets the monthly counter.
type Gate struct {
	store store.Store
	now   func() time.Time
}

// NewGate creates a quota gate
func NewGate(st store.Store) *Gate {
	return &Gate{store: st, now: time.Now}
}

// Check admits or rejects a request. producesArtifact is true for
// operations that yield downloadable output (those require a verified
// tenant); inputSize is the upload size in bytes, or a negative value
// when not yet known.
//
// The tenant's counter is lazily zeroed here when the clock has
// crossed the month boundary relative to last_reset.
func (g *Gate) Check(ctx context.Context, tenant *types.Tenant, producesArtifact bool, inputSize int64) error {
	if !tenant.Active {
		return errdefs.New(errdefs.KindForbidden, "account is inactive")
	}
	if producesArtifact && !tenant.Verified {
		return errdefs.New(errdefs.KindForbidden, "email verification required")
	}

	plan, err := g.store.GetPlanForTenant(ctx, tenant.ID)
	if errors.Is(err, store.ErrNotFound) {
		return errdefs.New(errdefs.KindForbidden, "active subscription required")
	}
	if err != nil {
		return err
	}

	now := g.now().UTC()
	if crossedPeriod(tenant.LastReset, now) {
		if err := g.store.ResetUsage(ctx, tenant.ID, now); err != nil {
			return err
		}
		tenant.UsageCount = 0
		tenant.LastReset = now
	}

	if plan.MaxFilesPerMonth >= 0 && tenant.UsageCount >= plan.MaxFilesPerMonth {
		return errdefs.New(errdefs.KindQuotaExhausted, "monthly file limit reached")
	}

	if inputSize >= 0 {
		if limit := plan.MaxFileSizeBytes(); limit >= 0 && inputSize > limit {
			return errdefs.Newf(errdefs.KindFileTooLarge,
				"file exceeds the %d MB plan limit", plan.MaxFileSizeMB)
		}
	}
	return nil
}

// crossedPeriod reports whether now is at least one calendar month
// past the last reset.
func crossedPeriod(lastReset, now time.Time) bool {
	return !now.Before(lastReset.AddDate(0, 1, 0))
}
