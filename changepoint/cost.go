package changepoint

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	CostRBF    = "rbf"
	CostNormal = "normal"
	CostL2     = "l2"

	// Above this length the rbf bandwidth is estimated from a strided
	// subsample of the series.
	rbfMedianSampleLimit = 2000
	// At or below this length the rbf cost keeps prefix sums of the whole
	// kernel matrix.
	rbfDenseLimit = 1000

	normalVarianceFloor = 1e-12
)

// CostModel scores contiguous segments [start, end) of the series it was
// fit to. Lower is more homogeneous.
type CostModel interface {
	Name() string
	Fit([]float64) error
	Cost(start, end int) float64
	// SplitCosts returns a slice of length end-start whose element t-start,
	// for start < t < end, is Cost(start, t)+Cost(t, end). Element 0 is +Inf.
	SplitCosts(start, end int) []float64
	// MinSize is the shortest segment the model scores meaningfully.
	MinSize() int
}

// NewCostModel returns an unfitted cost model by name. The empty name
// selects the rbf kernel cost.
func NewCostModel(name string) (CostModel, error) {
	switch name {
	case CostRBF, "":
		return &rbfCost{}, nil
	case CostNormal:
		return &normalCost{}, nil
	case CostL2:
		return &l2Cost{}, nil
	default:
		return nil, errors.Errorf("unknown cost model '%s'", name)
	}
}

func splitCosts(c CostModel, start, end int) []float64 {
	out := make([]float64, end-start)
	out[0] = math.Inf(1)
	for t := start + 1; t < end; t++ {
		out[t-start] = c.Cost(start, t) + c.Cost(t, end)
	}
	return out
}

////////////////////////////////////////////////////////////////////////
//
// Gaussian kernel cost

// rbfCost is the kernel dispersion of a segment under
// k(x, y) = exp(-gamma*(x-y)^2). It reacts to changes in the whole
// distribution, not only the mean.
type rbfCost struct {
	values []float64
	gamma  float64
	// gram holds prefix sums of the kernel matrix:
	// gram[i*(n+1)+j] = sum of k(a, b) for a < i, b < j.
	gram []float64
}

func (c *rbfCost) Name() string { return CostRBF }

func (c *rbfCost) MinSize() int { return 1 }

func (c *rbfCost) Fit(values []float64) error {
	if len(values) < 2 {
		return errors.New("rbf cost requires at least 2 values")
	}

	c.values = values
	c.gamma = 1.0
	if median := pairwiseSquaredMedian(values); median > 0 {
		c.gamma = 1.0 / median
	}

	c.gram = nil
	if len(values) <= rbfDenseLimit {
		c.gram = c.prefixGram()
	}

	return nil
}

// pairwiseSquaredMedian is the median of (x_i-x_j)^2 over all pairs i < j.
func pairwiseSquaredMedian(values []float64) float64 {
	sample := values
	if len(values) > rbfMedianSampleLimit {
		stride := (len(values) + rbfMedianSampleLimit - 1) / rbfMedianSampleLimit
		sample = make([]float64, 0, rbfMedianSampleLimit)
		for i := 0; i < len(values); i += stride {
			sample = append(sample, values[i])
		}
	}

	n := len(sample)
	dists := make([]float64, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			delta := sample[i] - sample[j]
			dists = append(dists, delta*delta)
		}
	}

	return newSortedList(dists).Median()
}

func (c *rbfCost) kernel(i, j int) float64 {
	delta := c.values[i] - c.values[j]
	return math.Exp(-c.gamma * delta * delta)
}

func (c *rbfCost) prefixGram() []float64 {
	n := len(c.values)
	width := n + 1
	out := make([]float64, width*width)
	for i := 1; i <= n; i++ {
		row := 0.0
		for j := 1; j <= n; j++ {
			row += c.kernel(i-1, j-1)
			out[i*width+j] = out[(i-1)*width+j] + row
		}
	}
	return out
}

func (c *rbfCost) blockSum(start, end int) float64 {
	if c.gram != nil {
		width := len(c.values) + 1
		return c.gram[end*width+end] - c.gram[start*width+end] - c.gram[end*width+start] + c.gram[start*width+start]
	}

	sum := 0.0
	for i := start; i < end; i++ {
		sum++
		for j := i + 1; j < end; j++ {
			sum += 2 * c.kernel(i, j)
		}
	}
	return sum
}

func (c *rbfCost) Cost(start, end int) float64 {
	n := end - start
	if n <= 0 {
		return 0
	}
	return float64(n) - c.blockSum(start, end)/float64(n)
}

// SplitCosts grows the kernel sums of the left part forward and of the
// right part backward, so a scan is quadratic in the segment length and
// linear in memory. The two passes are independent and run concurrently.
func (c *rbfCost) SplitCosts(start, end int) []float64 {
	if c.gram != nil {
		return splitCosts(c, start, end)
	}

	length := end - start
	left := make([]float64, length+1)
	right := make([]float64, length+1)

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		for m := 1; m <= length; m++ {
			t := start + m - 1
			cross := 0.0
			for i := start; i < t; i++ {
				cross += c.kernel(i, t)
			}
			left[m] = left[m-1] + 2*cross + 1
		}
	}()
	go func() {
		defer wg.Done()
		for m := 1; m <= length; m++ {
			p := end - m
			cross := 0.0
			for j := p + 1; j < end; j++ {
				cross += c.kernel(p, j)
			}
			right[m] = right[m-1] + 2*cross + 1
		}
	}()
	wg.Wait()

	out := make([]float64, length)
	out[0] = math.Inf(1)
	for t := start + 1; t < end; t++ {
		nl := float64(t - start)
		nr := float64(end - t)
		out[t-start] = nl - left[t-start]/nl + nr - right[end-t]/nr
	}
	return out
}

////////////////////////////////////////////////////////////////////////
//
// Prefix-sum costs

// prefixSums holds running sums of the centered series and its squares,
// with a leading zero so that a segment's sums are two subtractions.
type prefixSums struct {
	sum   []float64
	sumSq []float64
}

func (p *prefixSums) fit(values []float64) error {
	if len(values) < 2 {
		return errors.New("cost requires at least 2 values")
	}

	centered := make([]float64, len(values))
	copy(centered, values)
	floats.AddConst(-stat.Mean(values, nil), centered)

	squares := make([]float64, len(values))
	floats.MulTo(squares, centered, centered)

	p.sum = make([]float64, len(values)+1)
	p.sumSq = make([]float64, len(values)+1)
	floats.CumSum(p.sum[1:], centered)
	floats.CumSum(p.sumSq[1:], squares)

	return nil
}

func (p *prefixSums) moments(start, end int) (float64, float64, float64) {
	return float64(end - start), p.sum[end] - p.sum[start], p.sumSq[end] - p.sumSq[start]
}

// normalCost is the negative Gaussian log likelihood of a segment with its
// own mean and variance, up to constants: n*log(variance).
type normalCost struct{ prefixSums }

func (c *normalCost) Name() string { return CostNormal }

func (c *normalCost) MinSize() int { return 2 }

func (c *normalCost) Fit(values []float64) error { return c.fit(values) }

func (c *normalCost) SplitCosts(start, end int) []float64 { return splitCosts(c, start, end) }

func (c *normalCost) Cost(start, end int) float64 {
	n, s1, s2 := c.moments(start, end)
	if n <= 0 {
		return 0
	}
	mean := s1 / n
	variance := s2/n - mean*mean
	if variance < normalVarianceFloor {
		variance = normalVarianceFloor
	}
	return n * math.Log(variance)
}

// l2Cost is the sum of squared deviations from the segment mean. It only
// sees shifts in the mean.
type l2Cost struct{ prefixSums }

func (c *l2Cost) Name() string { return CostL2 }

func (c *l2Cost) MinSize() int { return 1 }

func (c *l2Cost) Fit(values []float64) error { return c.fit(values) }

func (c *l2Cost) SplitCosts(start, end int) []float64 { return splitCosts(c, start, end) }

func (c *l2Cost) Cost(start, end int) float64 {
	n, s1, s2 := c.moments(start, end)
	if n <= 0 {
		return 0
	}
	return math.Max(s2-s1*s1/n, 0)
}
