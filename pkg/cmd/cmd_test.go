package cmd_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/shiftflow/pkg/channels/kafka"
	"github.com/dukex/shiftflow/pkg/cmd"
	"github.com/dukex/shiftflow/pkg/persistence/file"
	"github.com/dukex/shiftflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name     string
		url      string
		wantType any
		wantErr  bool
	}{
		{name: "memory", url: "memory://", wantType: &memory.Persistence{}},
		{name: "file", url: "file://" + dir, wantType: &file.Persistence{}},
		{name: "file without directory", url: "file://", wantErr: true},
		{name: "no scheme", url: "/var/lib/shiftflow", wantErr: true},
		{name: "unknown scheme", url: "mongodb://localhost", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, err := cmd.NewPersistence(context.Background(), newTestLogger(), tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, cmd.ErrUnsupportedDatabase)

				return
			}

			require.NoError(t, err)
			assert.IsType(t, tt.wantType, store)
			assert.NoError(t, store.HealthCheck(context.Background()))
		})
	}
}

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	bus, err := cmd.NewEventBus("gochannel", "", newTestLogger())
	require.NoError(t, err)
	assert.NotEmpty(t, bus.GenerateID())
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("rabbitmq", "", newTestLogger())
	require.ErrorIs(t, err, cmd.ErrUnsupportedEventBus)

	_, err = cmd.NewEventBus("kafka", " , ", newTestLogger())
	require.ErrorIs(t, err, kafka.ErrNoBrokers)
}

func TestParseRPCEndpoints(t *testing.T) {
	t.Parallel()

	endpoints, err := cmd.ParseRPCEndpoints([]string{
		"https://eth.example.com",
		"Polygon = https://polygon.example.com",
		"",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"ethereum": "https://eth.example.com",
		"polygon":  "https://polygon.example.com",
	}, endpoints)

	_, err = cmd.ParseRPCEndpoints([]string{"arbitrum="})
	require.Error(t, err)
}

func TestNewSignalSources(t *testing.T) {
	t.Parallel()

	sources, closeFn, err := cmd.NewSignalSources(cmd.SignalOptions{
		RPCEndpoints: []string{"https://eth.example.com"},
	}, newTestLogger())
	require.NoError(t, err)

	assert.NotNil(t, sources.Price)
	assert.NotNil(t, sources.Gas)
	assert.NotNil(t, sources.Balance)
	assert.NotNil(t, sources.Clock)
	require.NoError(t, closeFn())

	_, _, err = cmd.NewSignalSources(cmd.SignalOptions{CacheURL: "not-a-url"}, newTestLogger())
	require.Error(t, err)
}
