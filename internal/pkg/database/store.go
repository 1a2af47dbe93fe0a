package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mwork/booking-ledger/internal/config"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
)

// NewStore opens the key-value store selected by STORE_DRIVER. The returned
// close func releases the underlying connection.
func NewStore(ctx context.Context, cfg *config.Config) (kv.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDynamoDB:
		awsCfg, err := LoadAWS(ctx, AWSFromConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		client := NewDynamoDB(awsCfg, cfg.AWSEndpoint)
		log.Info().Str("table", cfg.DynamoDBTable).Msg("Using DynamoDB store")
		return kv.NewDynamoStore(client, cfg.DynamoDBTable, cfg.DynamoDBGlobalIDIndex), func() {}, nil

	case config.StoreBolt, "":
		store, err := kv.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		log.Info().Str("path", cfg.BoltPath).Msg("Using bolt store")
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing bolt store")
			}
		}, nil

	case config.StorePostgres:
		db, err := NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := kv.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			ClosePostgres(db)
			return nil, nil, fmt.Errorf("failed to prepare kv schema: %w", err)
		}
		return store, func() { ClosePostgres(db) }, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

// AWSFromConfig extracts the AWS client settings.
func AWSFromConfig(cfg *config.Config) AWSConfig {
	return AWSConfig{
		Region:          cfg.AWSRegion,
		Endpoint:        cfg.AWSEndpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	}
}
