package model

import (
	"context"
	"testing"
	"time"

	"github.com/evergreen-ci/regime"
	"github.com/evergreen-ci/regime/changepoint"
	"github.com/evergreen-ci/utility"
	"github.com/stretchr/testify/require"
)

// testEnvironment returns an environment connected to a local database and
// skips the test when none is reachable.
func testEnvironment(t *testing.T) regime.Environment {
	testDBName := "regime_model_test_" + utility.RandomString()
	env, err := regime.NewEnvironment(context.Background(), testDBName, &regime.Configuration{
		MongoDBURI:         "mongodb://localhost:27017",
		MongoDBDialTimeout: time.Second,
		DatabaseName:       testDBName,
		NumWorkers:         1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err = env.GetClient().Ping(ctx, nil); err != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		require.NoError(t, env.Close(closeCtx))
		t.Skip("mongodb is not available")
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, env.GetDB().Drop(ctx))
		require.NoError(t, env.Close(ctx))
	})

	return env
}

func testReport() *changepoint.Report {
	start := time.Date(2008, time.July, 1, 0, 0, 0, 0, time.UTC)
	return &changepoint.Report{
		Length: 10,
		Start:  start,
		End:    start.AddDate(0, 0, 9),
		Breaks: &changepoint.BreakSet{
			Indices: []int{4},
			Times:   []time.Time{start.AddDate(0, 0, 4)},
			Info:    changepoint.AlgorithmInfo{Name: "binary_segmentation", Version: 1},
		},
		Posterior: &changepoint.Posterior{
			Chains: 1,
			Draws:  2,
			Info:   changepoint.AlgorithmInfo{Name: "bayesian_single_change_point", Version: 1},
			Samples: []changepoint.PosteriorSample{
				{BreakIndex: 4, Mean1: 140, Mean2: 40, Spread1: 3, Spread2: 4},
				{BreakIndex: 4, Mean1: 141, Mean2: 41, Spread1: 3, Spread2: 4},
			},
		},
		Estimate: &changepoint.ChangePointEstimate{Index: 4, Time: start.AddDate(0, 0, 4), Support: 1},
		Warnings: []string{"chains disagree"},
	}
}
