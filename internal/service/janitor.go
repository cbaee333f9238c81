package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"formgate/internal/audit"
	"formgate/internal/repository"
	"formgate/internal/storage"
	"formgate/internal/upload"
)

// SweepReport summarizes one janitor pass.
type SweepReport struct {
	StagedRemoved   int
	OrphansRemoved  int
	HookItemRemoved int
}

// Janitor removes expired quarantine files and stored objects that no submission
// references. Hooks run on every pass; in-memory stores register their Sweep there.
type Janitor struct {
	stager      *upload.Stager
	store       storage.Storage
	submissions repository.SubmissionRepository
	audit       *audit.Logger
	grace       time.Duration
	hooks       []func() int
	now         func() time.Time
}

// NewJanitor constructs a Janitor. Objects younger than grace are never reconciled.
func NewJanitor(stager *upload.Stager, store storage.Storage, submissions repository.SubmissionRepository, grace time.Duration, log *audit.Logger, hooks ...func() int) *Janitor {
	if log == nil {
		log = audit.Nop()
	}
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	return &Janitor{
		stager:      stager,
		store:       store,
		submissions: submissions,
		audit:       log,
		grace:       grace,
		hooks:       hooks,
		now:         time.Now,
	}
}

// RunOnce performs a single sweep and reconcile pass. Errors of one step do not stop the other.
func (j *Janitor) RunOnce(ctx context.Context) (SweepReport, error) {
	var (
		rep      SweepReport
		firstErr error
	)
	if j.stager != nil {
		n, err := j.stager.Sweep(ctx, j.stager.TTL())
		rep.StagedRemoved = n
		if err != nil {
			j.audit.Error(ctx, "staging_sweep_failed", err)
			firstErr = err
		}
	}
	if j.store != nil && j.submissions != nil {
		n, err := j.Reconcile(ctx)
		rep.OrphansRemoved = n
		if err != nil {
			j.audit.Error(ctx, "reconcile_failed", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, h := range j.hooks {
		rep.HookItemRemoved += h()
	}
	j.audit.Event(ctx, "janitor_pass",
		zap.Int("staged_removed", rep.StagedRemoved),
		zap.Int("orphans_removed", rep.OrphansRemoved),
		zap.Int("hook_items_removed", rep.HookItemRemoved),
	)
	return rep, firstErr
}

// Reconcile deletes stored objects under the submissions prefix that have no
// file record and are older than the grace period.
func (j *Janitor) Reconcile(ctx context.Context) (int, error) {
	objects, err := j.store.List(ctx, submissionsPrefix)
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		return 0, nil
	}
	known, err := j.submissions.KnownFilePaths(ctx, submissionsPrefix)
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-j.grace)
	removed := 0
	for _, obj := range objects {
		if _, ok := known[obj.Key]; ok {
			continue
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := j.store.Delete(ctx, obj.Key); err != nil {
			j.audit.Error(ctx, "orphan_delete_failed", err, zap.String("key", obj.Key))
			continue
		}
		j.audit.Warn(ctx, "orphan_file_removed", zap.String("key", obj.Key), zap.Int64("size", obj.Size))
		removed++
	}
	return removed, nil
}

// Run calls RunOnce every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}
