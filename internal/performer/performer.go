// Package performer claims the next eligible job under an advisory lock.
package performer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/internal/lock"
	"github.com/RezaEskandarii/gofire/internal/state"
	"github.com/RezaEskandarii/gofire/internal/store"
	"github.com/RezaEskandarii/gofire/types"
)

// JobSource is the part of store.JobStore the performer reads.
type JobSource interface {
	Candidates(ctx context.Context, q store.CandidateQuery) ([]types.Job, error)
	FindByID(ctx context.Context, id int64) (*types.Job, error)
	IsUnfinished(ctx context.Context, id int64) (bool, error)
	IsEligible(ctx context.Context, id int64, now time.Time) (bool, error)
	CountRunning(ctx context.Context, concurrencyKey string) (int, error)
}

// LimitFunc returns the concurrency limit of a key.
type LimitFunc func(key string) int

type Performer struct {
	jobs     JobSource
	sessions lock.SessionFactory
	maxScan  int
	limit    LimitFunc
	logger   *slog.Logger
	now      func() time.Time
}

func New(jobs JobSource, sessions lock.SessionFactory, maxScan int, limit LimitFunc, logger *slog.Logger) *Performer {
	if limit == nil {
		limit = func(string) int { return 1 }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Performer{
		jobs:     jobs,
		sessions: sessions,
		maxScan:  max(maxScan, 1),
		limit:    limit,
		logger:   logger,
		now:      time.Now,
	}
}

// Claim is a job whose advisory lock is held. The lock session belongs to
// the claim until Release.
type Claim struct {
	Job types.Job

	session lock.Session
	key     lock.Key
	once    sync.Once
	err     error
}

// NewClaim wraps a job whose lock is already held by session.
func NewClaim(job types.Job, session lock.Session) *Claim {
	return &Claim{Job: job, session: session, key: lock.JobKey(job.ID)}
}

// Release unlocks the job and returns the session's connection. It is safe
// to call more than once and still releases when ctx is already cancelled.
func (c *Claim) Release(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	c.once.Do(func() {
		unlockErr := c.session.Unlock(ctx, c.key)
		closeErr := c.session.Close(ctx)
		c.err = errors.Join(unlockErr, closeErr)
	})
	return c.err
}

// Next claims the highest priority eligible job matching spec. It returns
// (nil, nil) when there is nothing to do.
func (p *Performer) Next(ctx context.Context, spec QuerySpec) (*Claim, error) {
	now := p.now()
	candidates, err := p.jobs.Candidates(ctx, store.CandidateQuery{
		Queues:  spec.Queues,
		Exclude: spec.Exclude,
		Now:     now,
		Limit:   p.maxScan,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	session, err := p.sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock session: %w", err)
	}

	for _, job := range candidates {
		recheck := func(ctx context.Context, id int64) (bool, error) {
			return p.jobs.IsEligible(ctx, id, now)
		}
		claimed, err := p.tryClaim(ctx, session, job.ID, job.ConcurrencyKey, recheck)
		if err != nil {
			p.closeSession(ctx, session)
			return nil, err
		}
		if claimed {
			return NewClaim(job, session), nil
		}
	}

	p.closeSession(ctx, session)
	return nil, nil
}

// ClaimByID claims one specific job. It returns a *StateMismatchError when
// the job is finished or running elsewhere.
func (p *Performer) ClaimByID(ctx context.Context, id int64) (*Claim, error) {
	job, err := p.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.FinishedAt != nil || job.Locked {
		return nil, &custom_errors.StateMismatchError{JobID: id, Action: "perform", State: state.Of(job, p.now(), state.DefaultPolicy).String()}
	}

	session, err := p.sessions.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock session: %w", err)
	}

	claimed, err := p.tryClaim(ctx, session, job.ID, "", p.jobs.IsUnfinished)
	if err != nil {
		p.closeSession(ctx, session)
		return nil, err
	}
	if !claimed {
		p.closeSession(ctx, session)
		return nil, &custom_errors.StateMismatchError{JobID: id, Action: "perform", State: types.StateRunning.String()}
	}
	return NewClaim(*job, session), nil
}

// tryClaim locks the job, then re-checks the row with recheck and that its
// concurrency key is within limit. The candidate list is a snapshot, so a
// row may have been finished, retried into the future, rescheduled or
// paused before the lock was taken. Counting after locking keeps racing
// claimers from both slipping under the limit. On false the lock is not
// held.
func (p *Performer) tryClaim(ctx context.Context, session lock.Session, id int64, concurrencyKey string, recheck func(context.Context, int64) (bool, error)) (bool, error) {
	key := lock.JobKey(id)
	ok, err := session.TryLock(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	keep := false
	defer func() {
		if !keep {
			if err := session.Unlock(context.WithoutCancel(ctx), key); err != nil {
				p.logger.Warn("failed to unlock skipped job", "job_id", id, "error", err)
			}
		}
	}()

	eligible, err := recheck(ctx, id)
	if err != nil {
		return false, err
	}
	if !eligible {
		return false, nil
	}

	if concurrencyKey != "" {
		running, err := p.jobs.CountRunning(ctx, concurrencyKey)
		if err != nil {
			return false, err
		}
		if limit := p.limit(concurrencyKey); running > limit {
			p.logger.Debug("concurrency limit reached", "job_id", id, "concurrency_key", concurrencyKey, "running", running, "limit", limit)
			return false, nil
		}
	}

	keep = true
	return true, nil
}

func (p *Performer) closeSession(ctx context.Context, session lock.Session) {
	if err := session.Close(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("failed to close lock session", "error", err)
	}
}
