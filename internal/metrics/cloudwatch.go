package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	cwMaxBatch      = 1000 // PutMetricData datum limit
	cwQueueSize     = 4096
	cwFlushInterval = 30 * time.Second
	cwCallTimeout   = 10 * time.Second
)

// MetricPutter is the subset of the CloudWatch client used here.
type MetricPutter interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder queues datums and ships them in batches from Run.
// When the queue is full new datums are dropped.
type CloudWatchRecorder struct {
	cw         MetricPutter
	namespace  string
	dimensions []types.Dimension
	queue      chan types.MetricDatum
	interval   time.Duration
	logger     *slog.Logger
}

func NewCloudWatchRecorder(cw MetricPutter, namespace string, dimensions map[string]string, logger *slog.Logger) *CloudWatchRecorder {
	dims := make([]types.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		dims = append(dims, types.Dimension{Name: aws.String(k), Value: aws.String(v)})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		cw:         cw,
		namespace:  namespace,
		dimensions: dims,
		queue:      make(chan types.MetricDatum, cwQueueSize),
		interval:   cwFlushInterval,
		logger:     logger,
	}
}

func (c *CloudWatchRecorder) add(name string, unit types.StandardUnit, value float64, extra ...types.Dimension) {
	now := time.Now()
	dims := c.dimensions
	if len(extra) > 0 {
		dims = append(append([]types.Dimension(nil), c.dimensions...), extra...)
	}
	d := types.MetricDatum{
		MetricName: aws.String(name),
		Timestamp:  &now,
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
	}
	select {
	case c.queue <- d:
	default:
		c.logger.Debug("cloudwatch queue full, dropping datum", "metric", name)
	}
}

func dim(name, value string) types.Dimension {
	return types.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (c *CloudWatchRecorder) EventHandled(kind string, dur time.Duration) {
	c.add("EventHandled", types.StandardUnitCount, 1, dim("Kind", kind))
	c.add("EventLatency", types.StandardUnitMilliseconds, float64(dur.Milliseconds()), dim("Kind", kind))
}

func (c *CloudWatchRecorder) EventFailed(kind, stage string) {
	c.add("EventFailed", types.StandardUnitCount, 1, dim("Kind", kind), dim("Stage", stage))
}

func (c *CloudWatchRecorder) Delivery(ok bool) {
	if ok {
		c.add("ReplyDelivered", types.StandardUnitCount, 1)
	} else {
		c.add("ReplyFailed", types.StandardUnitCount, 1)
	}
}

func (c *CloudWatchRecorder) AnswerFallback(reason string) {
	c.add("AnswerFallback", types.StandardUnitCount, 1, dim("Reason", reason))
}

func (c *CloudWatchRecorder) ObjectDownloaded(ok bool, dur time.Duration) {
	if !ok {
		c.add("ObjectDownloadError", types.StandardUnitCount, 1)
		return
	}
	c.add("ObjectDownloadLatency", types.StandardUnitMilliseconds, float64(dur.Milliseconds()))
}

// Run flushes queued datums every interval until ctx is cancelled, then
// flushes once more.
func (c *CloudWatchRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Flush(context.Background())
		case <-ctx.Done():
			c.Flush(context.Background())
			return
		}
	}
}

// Flush sends everything currently queued.
func (c *CloudWatchRecorder) Flush(ctx context.Context) {
	for {
		batch := c.drain(cwMaxBatch)
		if len(batch) == 0 {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cwCallTimeout)
		_, err := c.cw.PutMetricData(callCtx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: batch,
		})
		cancel()
		if err != nil {
			c.logger.Error("cloudwatch put metric data failed", "datums", len(batch), "err", err)
			return
		}
	}
}

func (c *CloudWatchRecorder) drain(max int) []types.MetricDatum {
	var batch []types.MetricDatum
	for len(batch) < max {
		select {
		case d := <-c.queue:
			batch = append(batch, d)
		default:
			return batch
		}
	}
	return batch
}

var _ Recorder = (*CloudWatchRecorder)(nil)
