package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dukex/shiftflow/pkg/events"
	"github.com/dukex/shiftflow/pkg/mocks"
	"github.com/dukex/shiftflow/pkg/models"
	"github.com/dukex/shiftflow/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNotifier_Log(t *testing.T) {
	t.Parallel()

	notifier := notify.NewNotifier(nil, nil, newTestLogger())

	err := notifier.Send(context.Background(), notify.Message{
		WorkflowID: "wf-1",
		Channel:    models.ChannelLog,
		Text:       "swap done",
	})
	assert.NoError(t, err)
}

func TestNotifier_Webhook(t *testing.T) {
	t.Parallel()

	var received notify.Message

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := notify.NewNotifier(server.Client(), nil, newTestLogger())

	err := notifier.Send(context.Background(), notify.Message{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		Channel:     models.ChannelWebhook,
		Recipient:   server.URL,
		Text:        "swap done",
	})
	require.NoError(t, err)

	assert.Equal(t, "wf-1", received.WorkflowID)
	assert.Equal(t, "exec-1", received.ExecutionID)
	assert.Equal(t, "swap done", received.Text)
	assert.False(t, received.SentAt.IsZero())
}

func TestNotifier_WebhookRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := notify.NewNotifier(server.Client(), nil, newTestLogger()).Send(context.Background(), notify.Message{
		Channel:   models.ChannelWebhook,
		Recipient: server.URL,
		Text:      "hello",
	})
	require.ErrorIs(t, err, notify.ErrDeliveryRejected)
}

func TestNotifier_Event(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "wf-1", mock.MatchedBy(func(event events.NotificationRequested) bool {
		return event.Message == "swap done" && event.ExecutionID == "exec-1" && event.WorkflowID == "wf-1"
	})).Return(nil).Once()

	err := notify.NewNotifier(nil, bus, newTestLogger()).Send(context.Background(), notify.Message{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		Channel:     models.ChannelEvent,
		Text:        "swap done",
	})
	require.NoError(t, err)
	bus.AssertExpectations(t)
}

func TestNotifier_Errors(t *testing.T) {
	t.Parallel()

	failing := &mocks.MockEventBus{}
	failing.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	tests := []struct {
		name     string
		notifier *notify.Notifier
		channel  models.NotificationChannel
		wantErr  error
	}{
		{
			name:     "event without publisher",
			notifier: notify.NewNotifier(nil, nil, newTestLogger()),
			channel:  models.ChannelEvent,
			wantErr:  notify.ErrNoPublisher,
		},
		{
			name:     "unknown channel",
			notifier: notify.NewNotifier(nil, nil, newTestLogger()),
			channel:  "sms",
			wantErr:  notify.ErrUnknownChannel,
		},
		{
			name:     "publish failure",
			notifier: notify.NewNotifier(nil, failing, newTestLogger()),
			channel:  models.ChannelEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.notifier.Send(context.Background(), notify.Message{Channel: tt.channel, Text: "x"})
			require.Error(t, err)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
