package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilRegistryIsSafe(t *testing.T) {
	var r *Registry
	// Library callers may pass no registry at all; every hook must be a no-op.
	r.CountSolve("nnls", "primary")
	r.CountFallback("ridge")
	r.CountInvalid()
	r.CountSkipped()
	r.CountSelected("nnls")
	r.CountExcluded("qp")
	r.ObserveStrategyDuration("nnls", 0.1)
	r.ObserveRefinerIterations(3)
}

func TestCountersIncrement(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry())

	r.CountSolve("nnls", "primary")
	r.CountSolve("nnls", "primary")
	r.CountFallback("ridge")
	r.CountInvalid()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.SolvesTotal.WithLabelValues("nnls", "primary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.FallbacksTotal.WithLabelValues("ridge")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.InvalidSamples))
}
