package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"token-sale/sale-backend/internal/sale"
)

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoArchive keeps a permanent copy of every sale event. Redelivered
// events are written at most once.
type DynamoArchive struct {
	client dynamoAPI
	table  string
	logger *zap.Logger
}

func NewDynamoArchive(client dynamoAPI, table string, logger *zap.Logger) *DynamoArchive {
	return &DynamoArchive{client: client, table: table, logger: logger}
}

func (a *DynamoArchive) Publish(ctx context.Context, events []sale.Event) error {
	var errs []error
	for _, ev := range events {
		item, err := attributevalue.MarshalMap(newArchivedEvent(ev))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal event %s: %w", ev.ID, err))
			continue
		}

		_, err = a.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(a.table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(event_key)"),
		})
		var exists *types.ConditionalCheckFailedException
		switch {
		case errors.As(err, &exists):
			a.logger.Debug("Event already archived", zap.String("event_id", ev.ID.String()))
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to archive event %s: %w", ev.ID, err))
		}
	}
	return errors.Join(errs...)
}
