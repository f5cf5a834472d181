package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"banwatch/internal/telemetry"
	"banwatch/pkg/config"
)

func TestNoopProviderIsDisabled(t *testing.T) {
	p := telemetry.Noop()
	require.False(t, p.Enabled())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderDefaultExporterIsDisabled(t *testing.T) {
	p, err := telemetry.NewProvider(config.Telemetry{SvcName: "analyzer"})
	require.NoError(t, err)
	require.False(t, p.Enabled())
}

func TestNewProviderStdoutExporterEnabled(t *testing.T) {
	p, err := telemetry.NewProvider(config.Telemetry{SvcName: "analyzer", Exporter: "stdout"})
	require.NoError(t, err)
	require.True(t, p.Enabled())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestValidateSpanHelpers(t *testing.T) {
	p := telemetry.Noop()
	ctx, span := p.StartValidateSpan(context.Background(), "requests-from-ip-counter")
	require.NotNil(t, ctx)
	telemetry.EndValidateSpan(span, true, nil)
}
