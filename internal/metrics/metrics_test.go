package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDeliveryJobsProcessedIncrementsPerOutcome(t *testing.T) {
	DeliveryJobsProcessed.WithLabelValues("processed").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(DeliveryJobsProcessed.WithLabelValues("processed")), float64(1))
}

func TestWSConnectionsGaugeTracksSetValue(t *testing.T) {
	WSConnections.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(WSConnections))
}

func TestDeadLetteredCounterIsMonotonic(t *testing.T) {
	before := testutil.ToFloat64(DeadLettered)
	DeadLettered.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(DeadLettered))
}
