package changepoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCostModel(t *testing.T) {
	for name, expected := range map[string]string{
		"":         CostRBF,
		CostRBF:    CostRBF,
		CostNormal: CostNormal,
		CostL2:     CostL2,
	} {
		cost, err := NewCostModel(name)
		require.NoError(t, err)
		assert.Equal(t, expected, cost.Name())
	}

	_, err := NewCostModel("ar")
	assert.Error(t, err)
}

func TestPairwiseSquaredMedian(t *testing.T) {
	// squared distances are 1, 9 and 4
	assert.Equal(t, 4.0, pairwiseSquaredMedian([]float64{0, 1, 3}))
	assert.Equal(t, 0.0, pairwiseSquaredMedian([]float64{2, 2, 2}))

	long := makeBlocks(defaultSeed, 1, []int{rbfMedianSampleLimit * 2}, []float64{0})
	assert.True(t, pairwiseSquaredMedian(long) > 0)
}

func TestRBFCost(t *testing.T) {
	values := makeBlocks(defaultSeed, 0.5, []int{20, 20}, []float64{10, 50})

	dense := &rbfCost{}
	require.NoError(t, dense.Fit(values))
	require.NotNil(t, dense.gram)

	sparse := &rbfCost{}
	require.NoError(t, sparse.Fit(values))
	sparse.gram = nil

	t.Run("DenseMatchesDirect", func(t *testing.T) {
		for _, bounds := range [][2]int{{0, 40}, {0, 1}, {5, 17}, {19, 21}, {39, 40}} {
			assert.InDelta(t, sparse.Cost(bounds[0], bounds[1]), dense.Cost(bounds[0], bounds[1]), 1e-9)
		}
	})
	t.Run("SinglePointIsFree", func(t *testing.T) {
		assert.InDelta(t, 0, dense.Cost(7, 8), 1e-12)
		assert.Zero(t, dense.Cost(8, 8))
	})
	t.Run("SplitCostsMatchCosts", func(t *testing.T) {
		for _, cost := range []*rbfCost{dense, sparse} {
			splits := cost.SplitCosts(3, 37)
			require.Len(t, splits, 34)
			assert.True(t, math.IsInf(splits[0], 1))
			for tt := 4; tt < 37; tt++ {
				assert.InDelta(t, cost.Cost(3, tt)+cost.Cost(tt, 37), splits[tt-3], 1e-9)
			}
		}
	})
	t.Run("LowestAtTheBlockBoundary", func(t *testing.T) {
		splits := sparse.SplitCosts(0, 40)
		best := 1
		for i := 1; i < len(splits); i++ {
			if splits[i] < splits[best] {
				best = i
			}
		}
		assert.Equal(t, 20, best)
	})
	t.Run("TooShort", func(t *testing.T) {
		assert.Error(t, (&rbfCost{}).Fit([]float64{1}))
	})
}

func TestPrefixCosts(t *testing.T) {
	values := []float64{1, 2, 3, 10, 10, 10}

	t.Run("L2", func(t *testing.T) {
		cost := &l2Cost{}
		require.NoError(t, cost.Fit(values))
		assert.InDelta(t, 2.0, cost.Cost(0, 3), 1e-9)
		assert.InDelta(t, 0.0, cost.Cost(3, 6), 1e-9)
		assert.Zero(t, cost.Cost(2, 2))
	})
	t.Run("Normal", func(t *testing.T) {
		cost := &normalCost{}
		require.NoError(t, cost.Fit(values))
		assert.InDelta(t, 3*math.Log(2.0/3.0), cost.Cost(0, 3), 1e-9)
		assert.InDelta(t, 3*math.Log(normalVarianceFloor), cost.Cost(3, 6), 1e-6)
		assert.Equal(t, 2, cost.MinSize())
	})
	t.Run("SplitCostsMatchCosts", func(t *testing.T) {
		for _, cost := range []CostModel{&l2Cost{}, &normalCost{}} {
			require.NoError(t, cost.Fit(values))
			splits := cost.SplitCosts(0, 6)
			for tt := 1; tt < 6; tt++ {
				assert.InDelta(t, cost.Cost(0, tt)+cost.Cost(tt, 6), splits[tt], 1e-9)
			}
		}
	})
}
