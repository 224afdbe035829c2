package aws

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// MaxDelay is the longest delivery delay SQS accepts on a single message.
const MaxDelay = 15 * time.Minute

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// SendDelayed enqueues messageBody (a JSON string) so it becomes visible after delay.
// Sub-second delays round up; delays above MaxDelay are clamped. attributes are sent
// as String MessageAttributes.
func (p *Publisher) SendDelayed(ctx context.Context, messageBody string, delay time.Duration, attributes map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:     &p.QueueURL,
		MessageBody:  &messageBody,
		DelaySeconds: delaySeconds(delay),
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func delaySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	secs := int32(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
