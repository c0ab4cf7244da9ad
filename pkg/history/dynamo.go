// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/config"
	"github.com/telekom/email-dispatcher/pkg/metrics"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type dynamoItem struct {
	ID              string  `dynamodbav:"id"`
	Recipient       string  `dynamodbav:"recipient"`
	Subject         string  `dynamodbav:"subject"`
	Content         string  `dynamodbav:"content"`
	Status          string  `dynamodbav:"status"`
	ErrorMessage    *string `dynamodbav:"error_message,omitempty"`
	Attempts        int     `dynamodbav:"attempts"`
	CreatedAt       string  `dynamodbav:"created_at"`
	LastAttemptTime string  `dynamodbav:"last_attempt_time,omitempty"`
}

func toDynamoItem(rec EmailHistory) dynamoItem {
	item := dynamoItem{
		ID:           rec.ID,
		Recipient:    rec.Recipient,
		Subject:      rec.Subject,
		Content:      rec.Content,
		Status:       string(rec.Status),
		ErrorMessage: rec.ErrorMessage,
		Attempts:     rec.Attempts,
		CreatedAt:    formatTimestamp(rec.CreatedAt),
	}
	if rec.LastAttemptTime != nil {
		item.LastAttemptTime = formatTimestamp(*rec.LastAttemptTime)
	}
	return item
}

func (i dynamoItem) toRecord() (EmailHistory, error) {
	created, err := parseTimestamp(i.CreatedAt)
	if err != nil {
		return EmailHistory{}, fmt.Errorf("parsing created_at of %s: %w", i.ID, err)
	}
	rec := EmailHistory{
		ID:           i.ID,
		Recipient:    i.Recipient,
		Subject:      i.Subject,
		Content:      i.Content,
		Status:       Status(i.Status),
		ErrorMessage: i.ErrorMessage,
		Attempts:     i.Attempts,
		CreatedAt:    created,
	}
	if i.LastAttemptTime != "" {
		last, err := parseTimestamp(i.LastAttemptTime)
		if err != nil {
			return EmailHistory{}, fmt.Errorf("parsing last_attempt_time of %s: %w", i.ID, err)
		}
		rec.LastAttemptTime = &last
	}
	return rec, nil
}

// DynamoStore keeps history records in a DynamoDB table keyed by id. Status
// queries go through a global secondary index whose partition key is status.
type DynamoStore struct {
	db          DynamoAPI
	tableName   string
	statusIndex string
	log         *zap.SugaredLogger
}

// NewDynamoStore wraps an existing DynamoDB client.
func NewDynamoStore(db DynamoAPI, tableName, statusIndex string, log *zap.SugaredLogger) *DynamoStore {
	return &DynamoStore{
		db:          db,
		tableName:   tableName,
		statusIndex: statusIndex,
		log:         log.Named("dynamo-store"),
	}
}

// ConnectDynamo builds a DynamoDB client from the default AWS credential chain.
func ConnectDynamo(ctx context.Context, cfg config.DynamoConfig, log *zap.SugaredLogger) (*DynamoStore, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	log.Infow("Using dynamodb history store",
		"table", cfg.Table,
		"statusIndex", cfg.StatusIndex,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint)
	return NewDynamoStore(client, cfg.Table, cfg.StatusIndex, log), nil
}

func (s *DynamoStore) Save(ctx context.Context, rec EmailHistory) error {
	item, err := attributevalue.MarshalMap(toDynamoItem(rec))
	if err != nil {
		return fmt.Errorf("marshaling history record %s: %w", rec.ID, err)
	}
	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		metrics.HistoryStoreErrors.WithLabelValues("dynamodb", "save").Inc()
		return fmt.Errorf("saving history record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *DynamoStore) FindByStatus(ctx context.Context, status Status) ([]EmailHistory, error) {
	paginator := dynamodb.NewQueryPaginator(s.db, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(s.statusIndex),
		KeyConditionExpression: aws.String("#st = :status"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	})

	out := make([]EmailHistory, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.HistoryStoreErrors.WithLabelValues("dynamodb", "find_by_status").Inc()
			return nil, fmt.Errorf("querying history records with status %s: %w", status, err)
		}
		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("decoding history records with status %s: %w", status, err)
		}
		for _, item := range items {
			rec, err := item.toRecord()
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *DynamoStore) FindByID(ctx context.Context, id string) (*EmailHistory, bool, error) {
	res, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		metrics.HistoryStoreErrors.WithLabelValues("dynamodb", "find_by_id").Inc()
		return nil, false, fmt.Errorf("getting history record %s: %w", id, err)
	}
	if res.Item == nil {
		return nil, false, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(res.Item, &item); err != nil {
		return nil, false, fmt.Errorf("decoding history record %s: %w", id, err)
	}
	rec, err := item.toRecord()
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}
