package metrics_test

import (
	"testing"

	"talkback/backend/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPushResults_CountsByLabel(t *testing.T) {
	before := testutil.ToFloat64(metrics.PushResults.WithLabelValues("delivered"))

	metrics.PushResults.WithLabelValues("delivered").Inc()

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PushResults.WithLabelValues("delivered")))
}
