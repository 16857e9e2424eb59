package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter-service/api/pkg/metrics"
)

func newTestAPIClient(url string, attempts uint) *APIClient {
	return NewAPIClient(APIConfig{
		BaseURL:            url + "/",
		Sender:             "news@example.com",
		AuthorizationToken: "server-token",
		Timeout:            time.Second,
		Attempts:           attempts,
		RetryDelay:         time.Millisecond,
	}, nil)
}

func TestAPIClient_SendPostsExpectedRequest(t *testing.T) {
	var got sendEmailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"MessageID":"abc-123"}`))
	}))
	defer srv.Close()

	before := testutil.ToFloat64(metrics.MailSendSuccess.WithLabelValues(apiProvider))

	res, err := newTestAPIClient(srv.URL, 1).Send(context.Background(), Message{
		To:       "reader@example.com",
		Subject:  "Issue #1",
		HTMLBody: "<p>hi</p>",
		TextBody: "hi",
	})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "abc-123", res.MessageID)
	assert.Equal(t, sendEmailRequest{
		From:     "news@example.com",
		To:       "reader@example.com",
		Subject:  "Issue #1",
		HTMLBody: "<p>hi</p>",
		TextBody: "hi",
	}, got)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MailSendSuccess.WithLabelValues(apiProvider)))
}

func TestAPIClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := newTestAPIClient(srv.URL, 3).Send(context.Background(), Message{To: "reader@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAPIClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300}`))
	}))
	defer srv.Close()

	before := testutil.ToFloat64(metrics.MailSendFailure.WithLabelValues(apiProvider))

	_, err := newTestAPIClient(srv.URL, 3).Send(context.Background(), Message{To: "reader@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MailSendFailure.WithLabelValues(apiProvider)))
}

func TestAPIClient_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestAPIClient(srv.URL, 2).Send(context.Background(), Message{To: "reader@example.com"})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIClient_DoesNotRetryTimeouts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewAPIClient(APIConfig{
		BaseURL:    srv.URL,
		Sender:     "news@example.com",
		Timeout:    50 * time.Millisecond,
		Attempts:   3,
		RetryDelay: time.Millisecond,
	}, nil)

	_, err := c.Send(context.Background(), Message{To: "reader@example.com"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "a timed-out send must reach the provider once")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(assert.AnError))
	assert.False(t, isRetryable(fmt.Errorf("post: %w", context.DeadlineExceeded)))
	assert.False(t, isRetryable(timeoutError{}))
	assert.True(t, isRetryable(&statusError{code: http.StatusServiceUnavailable}))
	assert.True(t, isRetryable(&statusError{code: http.StatusTooManyRequests}))
	assert.False(t, isRetryable(&statusError{code: http.StatusBadRequest}))
}
