package webhook_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jarcoal/httpmock"
	"github.com/robalyx/jointracker/internal/database/types"
	"github.com/robalyx/jointracker/internal/report"
	"github.com/robalyx/jointracker/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const endpoint = "https://hooks.example.com/services/T000/B000/XXXX"

func setupTest(t *testing.T) (*webhook.Sender, *httpmock.MockTransport) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	client := &http.Client{Transport: transport}

	return webhook.NewSenderWithClient(client, "jointracker/test", zap.NewNop()), transport
}

func samplePayload() *report.Payload {
	total := int64(420)
	return report.BuildDaily(
		&types.DailyStat{Date: "2026-03-10", Joins: 3, Leaves: 1},
		&total,
		time.UTC,
		time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC),
	)
}

func TestSend(t *testing.T) {
	t.Parallel()

	sender, transport := setupTest(t)

	var received webhook.Message
	transport.RegisterResponder(http.MethodPost, endpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, "jointracker/test", req.Header.Get("User-Agent"))

		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if err := sonic.Unmarshal(body, &received); err != nil {
			return nil, err
		}

		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	err := sender.Send(context.Background(), endpoint, samplePayload())
	require.NoError(t, err)
	assert.Equal(t, 1, transport.GetTotalCallCount())

	require.Len(t, received.Blocks, 5)
	assert.Equal(t, "header", received.Blocks[0].Type)
	assert.Equal(t, report.DailyTitle, received.Blocks[0].Text.Text)
	assert.Equal(t, "Tuesday, March 10, 2026", received.Blocks[1].Elements[0].Text)
	assert.Equal(t, "divider", received.Blocks[2].Type)

	section := received.Blocks[3]
	assert.Equal(t, "section", section.Type)
	require.Len(t, section.Fields, 4)
	assert.Equal(t, "*Joined*\n3", section.Fields[0].Text)
	assert.Equal(t, "*Net Change*\n📈 +2", section.Fields[2].Text)
	assert.Equal(t, "*Total Members*\n420", section.Fields[3].Text)
}

func TestSendFailures(t *testing.T) {
	t.Parallel()

	t.Run("non 2xx status is not retried", func(t *testing.T) {
		t.Parallel()

		sender, transport := setupTest(t)
		transport.RegisterResponder(http.MethodPost, endpoint,
			httpmock.NewStringResponder(http.StatusTooManyRequests, "rate limited"))

		err := sender.Send(context.Background(), endpoint, samplePayload())
		require.ErrorIs(t, err, webhook.ErrUnexpectedStatus)
		assert.Contains(t, err.Error(), "429")
		assert.Contains(t, err.Error(), "rate limited")
		assert.Equal(t, 1, transport.GetTotalCallCount())
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()

		sender, transport := setupTest(t)
		transport.RegisterResponder(http.MethodPost, endpoint,
			httpmock.NewErrorResponder(errors.New("connection refused")))

		err := sender.Send(context.Background(), endpoint, samplePayload())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestValidateEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint string
		wantErr  bool
	}{
		{name: "https", endpoint: endpoint},
		{name: "http with port", endpoint: "http://localhost:8080/hook"},
		{name: "relative", endpoint: "/services/hook", wantErr: true},
		{name: "other scheme", endpoint: "ftp://example.com/hook", wantErr: true},
		{name: "missing host", endpoint: "https:///hook", wantErr: true},
		{name: "garbage", endpoint: "://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := webhook.ValidateEndpoint(tt.endpoint)
			if tt.wantErr {
				require.ErrorIs(t, err, webhook.ErrInvalidEndpoint)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewMessageWithoutFields(t *testing.T) {
	t.Parallel()

	msg := webhook.NewMessage(&report.Payload{Title: "Empty", Description: "Nothing"})

	require.Len(t, msg.Blocks, 3)
	assert.Equal(t, "Empty: Nothing", msg.Text)
}
