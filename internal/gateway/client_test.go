package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitpulse/internal/types"
)

func newTestClient(serverURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL: serverURL,
		APIKey:  types.SecretString("test-key"),
		Sender:  "HabitPulse",
	})
}

func TestClient_Send_Success(t *testing.T) {
	var gotAuth string
	var gotReq sendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sendResponse{MessageID: "msg_123", Status: "queued"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	result, err := client.Send(context.Background(), "+15551230000", "Time for your habit: Morning run")
	require.NoError(t, err)

	assert.Equal(t, "msg_123", result.GatewayMessageID)
	assert.Equal(t, "queued", result.Status)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "+15551230000", gotReq.To)
	assert.Equal(t, "HabitPulse", gotReq.From)
}

func TestClient_Send_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Send(context.Background(), "+15551230000", "hello")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamGateway, appErr.Code)
}

func TestClient_Send_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Send(context.Background(), "+15551230000", "hello")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}

func TestClient_Send_RejectedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"invalid destination"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Send(context.Background(), "bogus", "hello")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamGateway, appErr.Code)
	assert.Contains(t, appErr.Message, "422")
}

func TestClient_Send_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	// Six consecutive failures trip the breaker.
	for i := 0; i < 6; i++ {
		_, err := client.Send(context.Background(), "+15551230000", "hello")
		require.Error(t, err)
	}

	_, err := client.Send(context.Background(), "+15551230000", "hello")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code, "open breaker fails fast")
}

func TestClient_Send_MalformedAcknowledgment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Send(context.Background(), "+15551230000", "hello")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamGateway, appErr.Code)
}
