package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchMetrics_RecordDelivery(t *testing.T) {
	client := &mockCloudWatch{}
	metrics := NewCloudWatchMetrics(client, "HabitPulse", &mockLogger{})

	metrics.RecordDelivery(context.Background(), MetricSent)

	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(client.inputs))
	}
	input := client.inputs[0]
	if *input.Namespace != "HabitPulse" {
		t.Errorf("unexpected namespace %s", *input.Namespace)
	}
	datum := input.MetricData[0]
	if *datum.MetricName != MetricNameDeliveryAttempt {
		t.Errorf("unexpected metric name %s", *datum.MetricName)
	}
	if *datum.Value != 1 {
		t.Errorf("expected count 1, got %f", *datum.Value)
	}
	if len(datum.Dimensions) != 1 || *datum.Dimensions[0].Value != "sent" {
		t.Errorf("expected Result=sent dimension")
	}
}

func TestCloudWatchMetrics_RecordLateness(t *testing.T) {
	client := &mockCloudWatch{}
	metrics := NewCloudWatchMetrics(client, "HabitPulse", &mockLogger{})

	metrics.RecordLateness(context.Background(), 90*time.Second)

	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(client.inputs))
	}
	datum := client.inputs[0].MetricData[0]
	if *datum.MetricName != MetricNameLateness {
		t.Errorf("unexpected metric name %s", *datum.MetricName)
	}
	if *datum.Value != 90 {
		t.Errorf("expected 90 seconds, got %f", *datum.Value)
	}
	if datum.Unit != cwtypes.StandardUnitSeconds {
		t.Errorf("expected seconds unit, got %s", datum.Unit)
	}
}

func TestCloudWatchMetrics_EmissionErrorsAreSwallowed(t *testing.T) {
	client := &mockCloudWatch{err: errors.New("throttled")}
	metrics := NewCloudWatchMetrics(client, "HabitPulse", &mockLogger{})

	// Must not panic or propagate.
	metrics.RecordDelivery(context.Background(), MetricFailed)
	metrics.RecordLateness(context.Background(), time.Second)
}
