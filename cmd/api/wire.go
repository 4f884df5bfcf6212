package main

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/go-verify-handoff/internal/application/verification"
	"github.com/go-verify-handoff/internal/config"
	"github.com/go-verify-handoff/internal/infrastructure/auditlog"
	"github.com/go-verify-handoff/internal/infrastructure/dynamo"
	"github.com/go-verify-handoff/internal/infrastructure/memstore"
	"github.com/go-verify-handoff/internal/infrastructure/redisstore"
	s3infra "github.com/go-verify-handoff/internal/infrastructure/s3"
	"github.com/go-verify-handoff/internal/infrastructure/sns"
	"github.com/go-verify-handoff/internal/transport/http/handler"
)

// newStore builds the configured correlation store, a readiness check for it
// and its cleanup func.
func newStore(cfg *config.Config) (verification.Store, handler.Check, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		client, err := redisstore.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis: %w", err)
		}
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		check := func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return redisstore.NewStore(client, cfg.RedisKeyPrefix, cfg.RecordTTL), check, func() { _ = client.Close() }, nil

	case config.StoreDynamo:
		// Bootstrap the table (creates it if it doesn't exist).
		client, err := dynamo.NewClient(context.Background(), cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("dynamo: %w", err)
		}
		dynamo.Bootstrap(context.Background(), client, cfg.DynamoTableVerifications)
		check := func(ctx context.Context) error {
			_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
				TableName: aws.String(cfg.DynamoTableVerifications),
			})
			return err
		}
		return dynamo.NewVerificationRepo(client, cfg.DynamoTableVerifications, cfg.RecordTTL), check, func() {}, nil
	}
	check := func(context.Context) error { return nil }
	return memstore.NewStore(cfg.RecordTTL), check, func() {}, nil
}

func newAuditSink(cfg *config.Config, ring *auditlog.Ring) verification.AuditSink {
	if cfg.S3AuditBucket == "" {
		return ring
	}
	store := s3infra.NewStore(s3infra.NewClient(cfg), cfg.S3AuditBucket)
	return auditlog.Multi{ring, s3infra.NewAuditArchive(store, cfg.S3AuditPrefix)}
}

func newOutcomePublisher(cfg *config.Config) verification.OutcomePublisher {
	if cfg.SNSOutcomeTopicARN == "" {
		return nil
	}
	client, err := sns.NewClient(cfg)
	if err != nil {
		log.Printf("WARN: SNS publisher not available: %v", err)
		return nil
	}
	return sns.NewOutcomePublisher(client, cfg.SNSOutcomeTopicARN)
}
