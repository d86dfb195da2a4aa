package observe

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/jamestelfer/bearer-gate/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/sdk/resource"
)

func Test_ResourceMerge(t *testing.T) {
	// Ensure that schema incompatibility on OTEL upgrades is detected before
	// merge
	_, err := resourceWithServiceName(
		resource.Default(),
		"serviceName")

	require.NoError(t, err)
}

func TestConfigure_Disabled(t *testing.T) {
	shutdown, err := Configure(context.Background(), config.ObserveConfig{Enabled: false})
	require.NoError(t, err)

	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_Stdout(t *testing.T) {
	shutdown, err := Configure(context.Background(), config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "bearer-gate-test",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 60,
	})
	require.NoError(t, err)

	assert.NoError(t, shutdown(context.Background()))
}

func TestHttpTransport(t *testing.T) {
	base := http.DefaultTransport

	cases := []struct {
		name      string
		cfg       config.ObserveConfig
		wantWraps bool
	}{
		{name: "disabled", cfg: config.ObserveConfig{Enabled: false, HttpTransportEnabled: true}},
		{name: "transport disabled", cfg: config.ObserveConfig{Enabled: true, HttpTransportEnabled: false}},
		{name: "enabled", cfg: config.ObserveConfig{Enabled: true, HttpTransportEnabled: true}, wantWraps: true},
		{name: "with connection trace", cfg: config.ObserveConfig{Enabled: true, HttpTransportEnabled: true, HttpConnectionTraceEnabled: true}, wantWraps: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := HttpTransport(base, tc.cfg)

			_, wrapped := rt.(*otelhttp.Transport)
			assert.Equal(t, tc.wantWraps, wrapped)
		})
	}
}

func TestOtelLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())

	otelLogger(ctx).Info("exporter started", "endpoint", "localhost:4317")

	assert.Contains(t, buf.String(), `"component":"otel"`)
	assert.Contains(t, buf.String(), "exporter started")
}
