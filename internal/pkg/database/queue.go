package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mwork/booking-ledger/internal/config"
	"github.com/mwork/booking-ledger/internal/pkg/queue"
	"github.com/mwork/booking-ledger/internal/pkg/storage"
)

// NewQueue opens the refund job queue selected by QUEUE_DRIVER.
func NewQueue(ctx context.Context, cfg *config.Config) (queue.Queue, func(), error) {
	switch cfg.QueueDriver {
	case config.QueueSQS:
		if cfg.SQSQueueURL == "" {
			return nil, nil, fmt.Errorf("SQS_QUEUE_URL is required for the sqs queue driver")
		}
		awsCfg, err := LoadAWS(ctx, AWSFromConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		client := NewSQS(awsCfg, cfg.AWSEndpoint)
		log.Info().Str("queue_url", cfg.SQSQueueURL).Msg("Using SQS queue")
		return queue.NewSQSQueue(client, cfg.SQSQueueURL, cfg.QueueWaitSeconds, cfg.QueueVisibilitySec), func() {}, nil

	case config.QueueRedis, "":
		client, err := NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		wait := time.Duration(cfg.QueueWaitSeconds) * time.Second
		rq := queue.NewRedisQueue(client, cfg.RedisQueueKey, cfg.QueueMaxReceives, wait)
		rq.SetVisibility(time.Duration(cfg.QueueVisibilitySec) * time.Second)
		log.Info().
			Str("key", cfg.RedisQueueKey).
			Int("max_receives", cfg.QueueMaxReceives).
			Int("visibility_seconds", cfg.QueueVisibilitySec).
			Msg("Using Redis queue")
		return rq, func() { CloseRedis(client) }, nil
	}
	return nil, nil, fmt.Errorf("unknown QUEUE_DRIVER %q", cfg.QueueDriver)
}

// NewArchive returns the settlement archive: S3 when ARCHIVE_BUCKET is set,
// a local directory when ARCHIVE_DIR is set, otherwise nil.
func NewArchive(ctx context.Context, cfg *config.Config) (storage.Archive, error) {
	switch {
	case cfg.ArchiveBucket != "":
		awsCfg, err := LoadAWS(ctx, AWSFromConfig(cfg))
		if err != nil {
			return nil, err
		}
		endpoint := cfg.S3Endpoint
		if endpoint == "" {
			endpoint = cfg.AWSEndpoint
		}
		log.Info().Str("bucket", cfg.ArchiveBucket).Msg("Archiving settlements to S3")
		return storage.NewS3Archive(NewS3(awsCfg, endpoint), cfg.ArchiveBucket), nil
	case cfg.ArchiveDir != "":
		log.Info().Str("dir", cfg.ArchiveDir).Msg("Archiving settlements to local disk")
		archive, err := storage.NewLocalArchive(cfg.ArchiveDir)
		if err != nil {
			return nil, err
		}
		return archive, nil
	}
	return nil, nil
}
