// Package metrics counts negotiation outcomes in CloudWatch.
package metrics

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/aws"
	"github.com/imrishuroy/foodie-orderflow/internal/logger"
	"github.com/imrishuroy/foodie-orderflow/internal/orders"
)

// Recorder receives negotiation events worth counting.
type Recorder interface {
	OrderPlaced(ctx context.Context)
	Transition(ctx context.Context, action orders.Action, to orders.Status)
	StaleTransition(ctx context.Context, action orders.Action)
	PartialWrite(ctx context.Context, target string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) OrderPlaced(context.Context)                              {}
func (Nop) Transition(context.Context, orders.Action, orders.Status) {}
func (Nop) StaleTransition(context.Context, orders.Action)           {}
func (Nop) PartialWrite(context.Context, string)                     {}

const putTimeout = 2 * time.Second

// CloudWatch publishes one data point per event. Failures are logged and dropped;
// metrics never fail a request.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
}

// NewCloudWatch returns a CloudWatch recorder under namespace.
func NewCloudWatch(client aws.CloudWatchAPI, namespace string) *CloudWatch {
	return &CloudWatch{client: client, namespace: namespace}
}

func (c *CloudWatch) OrderPlaced(ctx context.Context) {
	c.put(ctx, "OrdersPlaced")
}

func (c *CloudWatch) Transition(ctx context.Context, action orders.Action, to orders.Status) {
	c.put(ctx, "Transitions",
		cwtypes.Dimension{Name: sdkaws.String("Action"), Value: sdkaws.String(string(action))},
		cwtypes.Dimension{Name: sdkaws.String("Status"), Value: sdkaws.String(string(to))})
}

func (c *CloudWatch) StaleTransition(ctx context.Context, action orders.Action) {
	c.put(ctx, "StaleTransitions",
		cwtypes.Dimension{Name: sdkaws.String("Action"), Value: sdkaws.String(string(action))})
}

func (c *CloudWatch) PartialWrite(ctx context.Context, target string) {
	c.put(ctx, "PartialWrites",
		cwtypes.Dimension{Name: sdkaws.String("Target"), Value: sdkaws.String(target)})
}

func (c *CloudWatch) put(ctx context.Context, name string, dims ...cwtypes.Dimension) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), putTimeout)
	defer cancel()

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: sdkaws.String(name),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(1),
			Timestamp:  sdkaws.Time(time.Now()),
		}},
	})
	if err != nil {
		logger.FromCtx(ctx).Debug("put metric failed", zap.String("metric", name), zap.Error(err))
	}
}
