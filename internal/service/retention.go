package service

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/domain/events"
)

// RetentionService ages raw events out of the ledger. A partition is only
// dropped once every rollup bucket overlapping it has folded all of its rows:
// aggregate before retain, never the reverse.
type RetentionService interface {
	// Start runs the retention loop until ctx is cancelled
	Start(ctx context.Context)

	// RunOnce performs one retention pass and returns the number of
	// partitions dropped
	RunOnce(ctx context.Context) (int, error)
}

type retentionService struct {
	ServiceParams
}

func NewRetentionService(params ServiceParams) RetentionService {
	return &retentionService{ServiceParams: params}
}

func (s *retentionService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.Config.Retention.RunInterval())
		defer ticker.Stop()

		s.Logger.Infow("retention manager started",
			"raw_event_days", s.Config.Retention.RawEventDays,
			"run_interval", s.Config.Retention.RunInterval(),
			"archive_dir", s.Config.Retention.ArchiveDir,
		)

		for {
			select {
			case <-ticker.C:
				dropped, err := s.RunOnce(ctx)
				if err != nil {
					s.Logger.Errorw("retention pass failed", "error", err)
				} else if dropped > 0 {
					s.Logger.Infow("retention pass complete", "partitions_dropped", dropped)
				}
			case <-ctx.Done():
				s.Logger.Infow("retention manager stopped")
				return
			}
		}
	}()
}

func (s *retentionService) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.Config.Retention.RawEventWindow())

	partitions, err := s.EventRepo.ListPartitions(ctx)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, partition := range partitions {
		if ctx.Err() != nil {
			return dropped, ctx.Err()
		}
		if !partition.MaxTime.Before(cutoff) {
			// Partitions are ordered oldest first; nothing further is expired
			break
		}

		ok, err := s.safeToDrop(ctx, partition)
		if err != nil {
			return dropped, err
		}
		if !ok {
			s.Logger.Warnw("skipping expired partition pending aggregation",
				"partition", partition.Name,
				"max_time", partition.MaxTime,
			)
			continue
		}

		if dir := s.Config.Retention.ArchiveDir; dir != "" {
			rows, err := s.EventRepo.ExportPartition(ctx, partition.Name, dir)
			if err != nil {
				return dropped, err
			}
			s.Logger.Infow("archived partition",
				"partition", partition.Name,
				"rows", rows,
				"archive_dir", dir,
			)
		}

		if err := s.EventRepo.DropPartition(ctx, partition.Name); err != nil {
			return dropped, err
		}
		dropped++
		s.Logger.Infow("dropped expired partition",
			"partition", partition.Name,
			"rows", partition.Rows,
			"min_time", partition.MinTime,
			"max_time", partition.MaxTime,
		)
	}
	return dropped, nil
}

// safeToDrop verifies the aggregate-before-retain gate for one partition: the
// minimum source watermark across all overlapping buckets, for all tenants,
// must have passed the newest row of the partition. A zero watermark means
// some overlapping bucket has never folded and the partition must wait.
func (s *retentionService) safeToDrop(ctx context.Context, partition events.Partition) (bool, error) {
	watermark, err := s.RollupRepo.MinSourceWatermark(ctx, partition.MinTime, partition.MaxTime.Add(time.Nanosecond))
	if err != nil {
		return false, err
	}
	if watermark.IsZero() {
		return false, nil
	}
	return !watermark.Before(partition.MaxTime), nil
}
