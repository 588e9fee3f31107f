// Package queue provides the SQS-based producer that forwards degraded
// health snapshots to the ops alerting pipeline.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"habitpulse/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// HealthAlertMessage is the wire format consumed by the alerting worker.
type HealthAlertMessage struct {
	SnapshotID                 string  `json:"snapshot_id"`
	Status                     string  `json:"status"`
	StuckScheduleCount         int     `json:"stuck_schedule_count"`
	RecentErrorCount           int     `json:"recent_error_count"`
	DeliverySuccessRatePercent float64 `json:"delivery_success_rate_percent"`
	Timestamp                  string  `json:"timestamp"`
}

// AlertPublisher sends health alerts to the configured SQS queue. It
// satisfies the health monitor's AlertPublisher interface.
type AlertPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewAlertPublisher creates an AlertPublisher for the given queue URL.
func NewAlertPublisher(client SQSSender, queueURL string, logger *slog.Logger) *AlertPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// PublishHealthAlert serializes the snapshot and dispatches it to the alert
// queue. The message attribute carries the status so consumers can filter
// critical alerts without parsing the body.
func (p *AlertPublisher) PublishHealthAlert(ctx context.Context, snapshot types.HealthSnapshot) error {
	msg := HealthAlertMessage{
		SnapshotID:                 snapshot.ID,
		Status:                     string(snapshot.OverallStatus),
		StuckScheduleCount:         snapshot.StuckScheduleCount,
		RecentErrorCount:           snapshot.RecentErrorCount,
		DeliverySuccessRatePercent: snapshot.DeliverySuccessRatePercent,
		Timestamp:                  snapshot.Timestamp.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal health alert: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(snapshot.OverallStatus)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send health alert to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "health alert sent",
		"queue_url", p.queueURL,
		"snapshot_id", snapshot.ID,
		"status", string(snapshot.OverallStatus),
	)

	return nil
}
