package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestControllerAcquireRelease(t *testing.T) {
	limits := NewLimits(1, 1)
	controller := NewController(limits)

	require.Equal(t, limits, controller.LimitsSnapshot())

	require.NoError(t, controller.AcquireRequest(context.Background()))
	controller.ReleaseRequest()

	require.NoError(t, controller.AcquireDataset(context.Background()))
	controller.ReleaseDataset()
}

func TestNewLimitsDefaults(t *testing.T) {
	limits := NewLimits(0, 0)
	require.Positive(t, limits.MaxConcurrentRequests)
	require.Positive(t, limits.MaxOpenDatasets)
	require.Positive(t, limits.MaxConcurrentPeriods)
	require.Equal(t, 60, limits.FuzzyThreshold)
	require.InDelta(t, 0.80, limits.SemanticThreshold, 0)
	require.Equal(t, 2, limits.MinTrendPeriods)
}
