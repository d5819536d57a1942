package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projects/solver"
)

func TestObserveSolve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	inst, err := solver.NewInstance([][]int{{1}, {1}}, []solver.Student{
		{Projects: []solver.Choice{solver.Pick(0)}, WorkPackages: []solver.Choice{solver.Pick(0)}},
		{Projects: []solver.Choice{solver.Pick(0)}, WorkPackages: []solver.Choice{solver.Pick(0)}},
	}, 1, 1)
	require.NoError(t, err)
	params := solver.DefaultParams
	params.Trials = 3
	res, err := solver.Solve(context.Background(), inst, params, nil)
	require.NoError(t, err)

	m.ObserveSolve("7", inst, res, 1500*time.Millisecond)
	m.ObserveFailure()
	m.ObserveWarning("project")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Trials))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BestCost.WithLabelValues("7")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Overflow.WithLabelValues("7", "project")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Overflow.WithLabelValues("7", "work-package")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Warnings.WithLabelValues("project")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Duration))
}
