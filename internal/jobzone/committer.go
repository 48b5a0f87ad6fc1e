package jobzone

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/detailhub/zoneconfigurator/internal/observability"
	"github.com/detailhub/zoneconfigurator/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Committer writes a session's selected zones to a job. Commits carrying
// an idempotency key are written at most once per key.
type Committer struct {
	writer  Writer
	idem    IdempotencyStore
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewCommitter creates a committer. idem may be nil to disable
// deduplication.
func NewCommitter(writer Writer, idem IdempotencyStore, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Committer {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{
		writer:  writer,
		idem:    idem,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Commit replaces the zones of jobID with the session's selected zones.
// An open dialog is not part of the commit.
func (c *Committer) Commit(ctx context.Context, rctx *model.RequestContext, s *model.Session, jobID, idempotencyKey string) (_ *CommitResult, err error) {
	ctx, span := observability.StartSpan(ctx, "jobzone.commit",
		observability.AttrSessionID.String(s.ID),
		observability.AttrTenantID.String(rctx.TenantID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	logger := observability.RequestLogger(ctx, c.logger)

	if jobID == "" {
		return nil, model.NewValidationError([]model.FieldError{{
			Field:   "job_id",
			Code:    "required",
			Message: "job_id is required",
		}})
	}
	if s.ReadOnly {
		return nil, model.NewReadOnlyError()
	}

	records := ToRecords(s.Zones)
	hash := InputHash(jobID, records)

	var key string
	if idempotencyKey != "" && c.idem != nil {
		key = FormatIdempotencyKey(rctx.TenantID, jobID, idempotencyKey)
		cached, found, err := c.idem.Check(ctx, key, hash)
		if err != nil {
			if model.HasCode(err, model.ErrConflict) {
				c.metrics.RecordJobZoneCommit("conflict")
			}
			return nil, err
		}
		if found {
			c.metrics.RecordJobZoneCommit("replayed")
			logger.Info("job zone commit replayed",
				zap.String("job_id", jobID),
				zap.String("session_id", s.ID),
			)
			cached.Replayed = true
			return cached, nil
		}
	}

	if err := c.writer.ReplaceZones(ctx, rctx.TenantID, jobID, records); err != nil {
		c.metrics.RecordJobZoneCommit("error")
		logger.Error("failed to write job zones",
			zap.String("job_id", jobID),
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("write job zones: %w", err)
	}

	result := CommitResult{
		JobID:       jobID,
		Zones:       records,
		TotalPrice:  Total(records),
		CommittedAt: c.now().UTC(),
	}
	if key != "" {
		if err := c.idem.Store(ctx, key, hash, result, c.ttl); err != nil {
			logger.Warn("failed to store idempotency result",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
		}
	}

	c.metrics.RecordJobZoneCommit("success")
	logger.Info("job zones committed",
		zap.String("job_id", jobID),
		zap.String("session_id", s.ID),
		zap.Int("zones", len(records)),
		zap.Int("total", result.TotalPrice),
	)
	return &result, nil
}
