package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func TestOTELProbe_RecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewAppMetrics(registry)
	probe := NewOTELProbe(otelzap.New(zap.NewNop()), metrics)
	ctx := context.Background()

	probe.RecordServiceOperation(ctx, "account", "register", "id-1", 0, nil)
	probe.RecordServiceOperation(ctx, "account", "register", "", 0, errors.New("boom"))
	probe.RecordAuthFailure(ctx, "invalid_credentials")
	probe.RecordRetry(ctx, "update_usage")
	probe.RecordCacheLookup(ctx, "api_key", true)
	probe.RecordCacheLookup(ctx, "api_key", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.accountOperations.WithLabelValues("register", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.accountOperations.WithLabelValues("register", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.authFailures.WithLabelValues("invalid_credentials")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.updateRetries.WithLabelValues("update_usage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheHits.WithLabelValues("api_key")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheMisses.WithLabelValues("api_key")))
}

func TestStartOperation_ReportsToProbe(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewAppMetrics(registry)
	probe := NewOTELProbe(otelzap.New(zap.NewNop()), metrics)

	op := StartOperation(probe, context.Background(), "create", "accounts")
	op.End(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.databaseOperations.WithLabelValues("create", "accounts", "ok")))
}

func TestNoOpProbe_DoesNotPanic(t *testing.T) {
	probe := NewNoOpProbe()
	ctx, span := probe.StartServiceSpan(context.Background(), "account", "noop", "", nil)
	defer span.End()

	probe.RecordBusinessEvent(ctx, "event", "account", "id", nil)
	probe.RecordCacheLookup(ctx, "api_key", true)
}
