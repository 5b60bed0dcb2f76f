package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/telemetry"
)

// MaxBatchDelete is the backend ceiling of keys per BatchDelete call
const MaxBatchDelete = 1000

// PurgeReport summarizes a purge run
type PurgeReport struct {
	Listed       int
	Deleted      int
	Failed       int
	Batches      int
	FailedBatch  int
	DeleteErrors []DeleteError
}

// Purge deletes every object in the store. Keys are collected page by page
// and deleted in batches of exactly batchSize (the last batch may be
// smaller). A failed batch is logged and counted and the loop moves on; a
// failed listing call halts the purge and is returned.
func Purge(ctx context.Context, s Store, batchSize int) (PurgeReport, error) {
	if batchSize <= 0 || batchSize > MaxBatchDelete {
		batchSize = MaxBatchDelete
	}

	var (
		report  PurgeReport
		pending []string
		token   string
	)

	flush := func(keys []string) {
		report.Batches++
		failed, err := s.BatchDelete(ctx, keys)
		if err != nil {
			report.FailedBatch++
			report.Failed += len(keys)
			log.Error().
				Err(err).
				Str("bucket", s.Bucket()).
				Int("batch", report.Batches).
				Int("keys", len(keys)).
				Msg("Batch delete failed")
			return
		}

		report.Failed += len(failed)
		report.Deleted += len(keys) - len(failed)
		report.DeleteErrors = append(report.DeleteErrors, failed...)
		telemetry.PurgedObjectsTotal.Add(float64(len(keys) - len(failed)))

		for _, de := range failed {
			log.Warn().Err(de.Err).Str("key", de.Key).Msg("Object not deleted")
		}
		log.Info().
			Int("batch", report.Batches).
			Int("deleted", report.Deleted).
			Msg("Batch deleted")
	}

	for {
		page, err := s.List(ctx, token)
		if err != nil {
			return report, fmt.Errorf("list %s after %d objects: %w", s.Bucket(), report.Listed, err)
		}
		report.Listed += len(page.Objects)
		for _, obj := range page.Objects {
			pending = append(pending, obj.Key)
		}

		for len(pending) >= batchSize {
			flush(pending[:batchSize])
			pending = pending[batchSize:]
		}

		if !page.Truncated {
			break
		}
		if page.NextToken == "" {
			return report, fmt.Errorf("list %s: truncated listing without continuation token", s.Bucket())
		}
		token = page.NextToken
	}

	if len(pending) > 0 {
		flush(pending)
	}

	if report.Listed == 0 {
		log.Info().Str("bucket", s.Bucket()).Msg("Bucket already empty")
	}
	return report, nil
}
