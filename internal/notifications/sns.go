package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"token-sale/sale-backend/internal/sale"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes each sale event to an SNS topic. Subscribers can
// filter on the kind and sale_id message attributes.
type SNSPublisher struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
}

func NewSNSPublisher(client snsAPI, topicARN string, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN, logger: logger}
}

func (p *SNSPublisher) Publish(ctx context.Context, events []sale.Event) error {
	var errs []error
	for _, ev := range events {
		body, err := json.Marshal(NewEventMessage(ev))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to encode event %s: %w", ev.ID, err))
			continue
		}

		out, err := p.client.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(p.topicARN),
			Message:  aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"kind": {
					DataType:    aws.String("String"),
					StringValue: aws.String(string(ev.Kind)),
				},
				"sale_id": {
					DataType:    aws.String("String"),
					StringValue: aws.String(ev.SaleID.String()),
				},
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to publish event %s: %w", ev.ID, err))
			continue
		}
		p.logger.Debug("Event published to SNS",
			zap.String("event_id", ev.ID.String()),
			zap.String("message_id", aws.ToString(out.MessageId)),
		)
	}
	return errors.Join(errs...)
}
