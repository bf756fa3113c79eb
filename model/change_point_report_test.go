package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChangePointReport(t *testing.T) {
	report := CreateChangePointReport("brent", testReport())
	assert.False(t, report.IsNil())
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "brent", report.Series)
	assert.Equal(t, 10, report.Length)
	assert.Equal(t, []int{4}, report.Breaks.Indices)
	require.NotNil(t, report.Posterior)
	assert.Equal(t, 140.5, report.Posterior.Mean1.Mean)
	require.NotNil(t, report.Sampler)
	assert.Equal(t, "bayesian_single_change_point", report.Sampler.Name)
	assert.Equal(t, TriageStatusUntriaged, report.Triage.Status)

	other := CreateChangePointReport("wti", testReport())
	assert.NotEqual(t, report.ID, other.ID)

	assert.True(t, (&ChangePointReport{}).IsNil())
}

func TestTriageStatus(t *testing.T) {
	for _, status := range []TriageStatus{
		TriageStatusUntriaged,
		TriageStatusTruePositive,
		TriageStatusFalsePositive,
		TriageStatusUnderInvestigation,
	} {
		assert.NoError(t, status.Validate())
	}
	assert.Error(t, TriageStatus("maybe").Validate())
}

func TestChangePointReportWithoutDatabase(t *testing.T) {
	ctx := context.Background()
	report := CreateChangePointReport("brent", testReport())

	assert.Error(t, report.Save(ctx))
	assert.Error(t, report.Find(ctx))
	assert.Error(t, report.Remove(ctx))
	assert.Error(t, report.SetTriageStatus(ctx, TriageStatusTruePositive))

	_, err := FindChangePointReportsBySeries(ctx, nil, "brent")
	assert.Error(t, err)
}

func TestChangePointReportDatabase(t *testing.T) {
	env := testEnvironment(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	t.Run("SaveAndFind", func(t *testing.T) {
		report := CreateChangePointReport("brent", testReport())
		report.Setup(env)
		require.NoError(t, report.Save(ctx))

		found := &ChangePointReport{ID: report.ID}
		found.Setup(env)
		require.NoError(t, found.Find(ctx))
		assert.False(t, found.IsNil())
		assert.Equal(t, report.Series, found.Series)
		assert.Equal(t, report.Breaks.Indices, found.Breaks.Indices)
		assert.True(t, report.CreatedAt.Equal(found.CreatedAt))
		assert.Equal(t, report.Estimate.Index, found.Estimate.Index)
		assert.Equal(t, report.Warnings, found.Warnings)
	})
	t.Run("SaveIsIdempotent", func(t *testing.T) {
		report := CreateChangePointReport("idempotent", testReport())
		report.Setup(env)
		require.NoError(t, report.Save(ctx))
		require.NoError(t, report.Save(ctx))

		reports, err := FindChangePointReportsBySeries(ctx, env, "idempotent")
		require.NoError(t, err)
		assert.Len(t, reports, 1)
	})
	t.Run("FindMissing", func(t *testing.T) {
		report := &ChangePointReport{ID: "DNE"}
		report.Setup(env)
		assert.Error(t, report.Find(ctx))
		assert.True(t, report.IsNil())
	})
	t.Run("Unpopulated", func(t *testing.T) {
		report := &ChangePointReport{ID: "empty"}
		report.Setup(env)
		assert.Error(t, report.Save(ctx))
	})
	t.Run("BySeriesNewestFirst", func(t *testing.T) {
		first := CreateChangePointReport("ordered", testReport())
		first.Setup(env)
		require.NoError(t, first.Save(ctx))

		second := CreateChangePointReport("ordered", testReport())
		second.CreatedAt = first.CreatedAt.Add(time.Hour)
		second.ID = second.hash()
		second.Setup(env)
		require.NoError(t, second.Save(ctx))

		reports, err := FindChangePointReportsBySeries(ctx, env, "ordered")
		require.NoError(t, err)
		require.Len(t, reports, 2)
		assert.Equal(t, second.ID, reports[0].ID)
		assert.Equal(t, first.ID, reports[1].ID)
		assert.False(t, reports[0].IsNil())
	})
	t.Run("Triage", func(t *testing.T) {
		report := CreateChangePointReport("triage", testReport())
		report.Setup(env)
		require.NoError(t, report.Save(ctx))

		assert.Error(t, report.SetTriageStatus(ctx, "maybe"))
		require.NoError(t, report.SetTriageStatus(ctx, TriageStatusFalsePositive))

		found := &ChangePointReport{ID: report.ID}
		found.Setup(env)
		require.NoError(t, found.Find(ctx))
		assert.Equal(t, TriageStatusFalsePositive, found.Triage.Status)
		assert.False(t, found.Triage.TriagedOn.IsZero())

		missing := &ChangePointReport{ID: "DNE"}
		missing.Setup(env)
		assert.Error(t, missing.SetTriageStatus(ctx, TriageStatusTruePositive))
	})
	t.Run("Remove", func(t *testing.T) {
		report := CreateChangePointReport("remove", testReport())
		report.Setup(env)
		require.NoError(t, report.Save(ctx))
		require.NoError(t, report.Remove(ctx))

		reports, err := FindChangePointReportsBySeries(ctx, env, "remove")
		require.NoError(t, err)
		assert.Empty(t, reports)
	})
}
