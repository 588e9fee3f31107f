package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitpulse/internal/types"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestAlertPublisher_PublishHealthAlert(t *testing.T) {
	client := &mockSQS{}
	publisher := NewAlertPublisher(client, "https://sqs.test/alerts", nil)

	snapshot := types.HealthSnapshot{
		ID:                         "hs_1",
		Timestamp:                  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		StuckScheduleCount:         6,
		RecentErrorCount:           1,
		DeliverySuccessRatePercent: 91.5,
		OverallStatus:              types.HealthCritical,
	}

	err := publisher.PublishHealthAlert(context.Background(), snapshot)
	require.NoError(t, err)

	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	assert.Equal(t, "https://sqs.test/alerts", *input.QueueUrl)
	assert.Equal(t, "critical", *input.MessageAttributes["status"].StringValue)

	var msg HealthAlertMessage
	require.NoError(t, json.Unmarshal([]byte(*input.MessageBody), &msg))
	assert.Equal(t, "hs_1", msg.SnapshotID)
	assert.Equal(t, 6, msg.StuckScheduleCount)
	assert.Equal(t, 91.5, msg.DeliverySuccessRatePercent)
	assert.Equal(t, "2026-03-02T12:00:00Z", msg.Timestamp)
}

func TestAlertPublisher_PublishHealthAlert_SendFailure(t *testing.T) {
	client := &mockSQS{err: errors.New("queue unavailable")}
	publisher := NewAlertPublisher(client, "https://sqs.test/alerts", nil)

	err := publisher.PublishHealthAlert(context.Background(), types.HealthSnapshot{ID: "hs_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send health alert")
}
