package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nerval-Labs/reflex/pkg/epoch"
)

var _ epoch.Observer = (*Provider)(nil)

func TestDisabledProviderIsNoOp(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	// Every record path must be safe without initialized instruments.
	p.RecordExecution(ctx, 0, 4)
	p.RecordPark(ctx, 0, "tick_budget_exceeded")
	p.RecordViolation(ctx, 0)
	p.EpochClosed(1, 8, true)

	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "reflex-kernel", cfg.ServiceName)
	assert.False(t, cfg.Enabled)
	assert.NotEmpty(t, cfg.OTLPEndpoint)
}

func TestNilConfigUsesDefaults(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "reflex-kernel", p.config.ServiceName)
}
