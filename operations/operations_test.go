package operations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/evergreen-ci/regime"
	"github.com/evergreen-ci/regime/changepoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

// writePrices writes a daily price history whose level jumps from 20 to 60
// after the first 40 days.
func writePrices(t *testing.T, dir, name string, seed int64) string {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2011, time.March, 1, 0, 0, 0, 0, time.UTC)

	var b strings.Builder
	b.WriteString("Date,Price\n")
	for i := 0; i < 80; i++ {
		level := 20.0
		if i >= 40 {
			level = 60
		}
		fmt.Fprintf(&b, "%s,%.3f\n", start.AddDate(0, 0, i).Format("2006-01-02"), level+0.5*rng.NormFloat64())
	}
	b.WriteString(start.AddDate(0, 0, 80).Format("2006-01-02") + ",\n")

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

// runCommand runs cmd as the only command of an app and returns what it
// printed.
func runCommand(t *testing.T, cmd cli.Command, args ...string) (string, error) {
	var out bytes.Buffer
	app := cli.NewApp()
	app.Name = "regime-test"
	app.Writer = &out
	app.ErrWriter = &out
	app.Commands = []cli.Command{cmd}

	err := app.Run(append([]string{app.Name, cmd.Name}, args...))
	return out.String(), err
}

// captureConfiguration runs configure through a throwaway command so the
// flags are parsed the way the real commands parse them.
func captureConfiguration(t *testing.T, flags []cli.Flag, args ...string) (*regime.Configuration, error) {
	var conf *regime.Configuration
	cmd := cli.Command{
		Name:  "configure",
		Flags: flags,
		Action: func(c *cli.Context) error {
			var err error
			conf, err = configure(c)
			return err
		},
	}
	_, err := runCommand(t, cmd, args...)
	return conf, err
}

func allFlags() []cli.Flag {
	return mergeFlags(baseFlags(), configFlags(), csvFlags(), segmentationFlags(), samplerFlags(), dbFlags(), exportFlags())
}

func TestConfigure(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		conf, err := captureConfiguration(t, allFlags())
		require.NoError(t, err)
		require.NotNil(t, conf.Segmentation)
		assert.Equal(t, changepoint.DefaultBreaks, conf.Segmentation.Breaks)
		assert.Equal(t, changepoint.CostRBF, conf.Segmentation.Cost)
		assert.Nil(t, conf.Sampler)
		assert.False(t, conf.CUSUM)
		assert.Equal(t, regime.DefaultDatabaseName, conf.DatabaseName)
		assert.Empty(t, conf.Export.Bucket)
	})
	t.Run("Flags", func(t *testing.T) {
		conf, err := captureConfiguration(t, allFlags(),
			"--breaks", "3", "--cost", "normal", "--method", "dynp",
			"--bayes", "--seed", "7", "--chains", "2", "--draws", "100", "--tune", "50",
			"--cusum", "--workers", "5", "--exportBucket", "/tmp/reports")
		require.NoError(t, err)

		require.NotNil(t, conf.Segmentation)
		assert.Equal(t, 3, conf.Segmentation.Breaks)
		assert.Equal(t, changepoint.CostNormal, conf.Segmentation.Cost)
		assert.Equal(t, changepoint.MethodDynamicProgramming, conf.Segmentation.Method)

		require.NotNil(t, conf.Sampler)
		assert.Equal(t, 2, conf.Sampler.Chains)
		assert.Equal(t, 100, conf.Sampler.Draws)
		assert.Equal(t, 50, conf.Sampler.Tune)
		require.NotNil(t, conf.Sampler.Seed)
		assert.EqualValues(t, 7, *conf.Sampler.Seed)

		assert.True(t, conf.CUSUM)
		assert.Equal(t, 5, conf.NumWorkers)
		assert.Equal(t, "/tmp/reports", conf.Export.Bucket)
		assert.Equal(t, "local", conf.Export.Type)
	})
	t.Run("UnseededSampler", func(t *testing.T) {
		conf, err := captureConfiguration(t, allFlags(), "--bayes")
		require.NoError(t, err)
		require.NotNil(t, conf.Sampler)
		assert.Nil(t, conf.Sampler.Seed)
		assert.Equal(t, changepoint.DefaultDraws, conf.Sampler.Draws)
	})
	t.Run("FileWithOverrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "regime.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
num_workers: 3
sampler:
  chains: 2
  draws: 200
  tune: 100
`), 0644))

		conf, err := captureConfiguration(t, allFlags(), "--config", path, "--draws", "400")
		require.NoError(t, err)
		assert.Equal(t, 3, conf.NumWorkers)
		assert.Nil(t, conf.Segmentation)
		require.NotNil(t, conf.Sampler)
		assert.Equal(t, 2, conf.Sampler.Chains)
		assert.Equal(t, 400, conf.Sampler.Draws)

		conf, err = captureConfiguration(t, allFlags(), "--config", path, "--breaks", "2")
		require.NoError(t, err)
		require.NotNil(t, conf.Segmentation)
		assert.Equal(t, 2, conf.Segmentation.Breaks)
	})
	t.Run("MissingFile", func(t *testing.T) {
		_, err := captureConfiguration(t, allFlags(), "--config", filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
	t.Run("InvalidFlags", func(t *testing.T) {
		_, err := captureConfiguration(t, allFlags(), "--cost", "cosine")
		assert.Error(t, err)

		_, err = captureConfiguration(t, allFlags(), "--bayes", "--chains=-1")
		assert.Error(t, err)
	})
}

func TestDetectCommand(t *testing.T) {
	dir := t.TempDir()
	path := writePrices(t, dir, "copper.csv", 11)

	t.Run("PrintsReport", func(t *testing.T) {
		out, err := runCommand(t, Detect(), "--breaks", "1", "--cusum", path)
		require.NoError(t, err)

		report := struct {
			Series string `json:"series"`
			Length int    `json:"length"`
			Breaks struct {
				Indices []int `json:"indices"`
			} `json:"breaks"`
		}{}
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, "copper", report.Series)
		assert.Equal(t, 80, report.Length)
		require.Len(t, report.Breaks.Indices, 1)
		assert.InDelta(t, 40, report.Breaks.Indices[0], 2)
	})
	t.Run("WritesOutputFile", func(t *testing.T) {
		outPath := filepath.Join(dir, "report.json")
		_, err := runCommand(t, Detect(),
			"--breaks", "1", "--bayes", "--seed", "3", "--chains", "2", "--draws", "300", "--tune", "150",
			"--output", outPath, path)
		require.NoError(t, err)

		data, err := os.ReadFile(outPath)
		require.NoError(t, err)
		report := struct {
			Estimate struct {
				Index int `json:"index"`
			} `json:"estimate"`
		}{}
		require.NoError(t, json.Unmarshal(data, &report))
		assert.InDelta(t, 39, report.Estimate.Index, 2)
	})
	t.Run("PathFlag", func(t *testing.T) {
		out, err := runCommand(t, Detect(), "--path", path)
		require.NoError(t, err)
		assert.Contains(t, out, `"series": "copper"`)
	})
	t.Run("MissingFile", func(t *testing.T) {
		_, err := runCommand(t, Detect(), filepath.Join(dir, "missing.csv"))
		assert.Error(t, err)
	})
	t.Run("NoArguments", func(t *testing.T) {
		_, err := runCommand(t, Detect())
		assert.Error(t, err)
	})
	t.Run("TooManyBreaks", func(t *testing.T) {
		_, err := runCommand(t, Detect(), "--breaks", "200", path)
		assert.Error(t, err)
	})
}

func TestInspectCommand(t *testing.T) {
	path := writePrices(t, t.TempDir(), "silver.csv", 5)

	out, err := runCommand(t, Inspect(), path)
	require.NoError(t, err)

	inspection := struct {
		Rows    int     `json:"rows"`
		Missing int     `json:"missing"`
		Min     float64 `json:"min"`
		Max     float64 `json:"max"`
	}{}
	require.NoError(t, json.Unmarshal([]byte(out), &inspection))
	assert.Equal(t, 81, inspection.Rows)
	assert.Equal(t, 1, inspection.Missing)
	assert.InDelta(t, 20, inspection.Min, 3)
	assert.InDelta(t, 60, inspection.Max, 3)
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	gold := writePrices(t, dir, "gold.csv", 1)
	oil := writePrices(t, dir, "oil.csv", 2)
	exportDir := filepath.Join(dir, "exports")

	t.Run("AnalyzesEveryFile", func(t *testing.T) {
		outPath := filepath.Join(dir, "batch.json")
		_, err := runCommand(t, Batch(), "--breaks", "1", "--exportBucket", exportDir, "--output", outPath, gold, oil)
		require.NoError(t, err)

		data, err := os.ReadFile(outPath)
		require.NoError(t, err)
		var results []BatchResult
		require.NoError(t, json.Unmarshal(data, &results))
		require.Len(t, results, 2)

		for _, res := range results {
			assert.Empty(t, res.Error)
			assert.NotEmpty(t, res.Report)
			require.NotEmpty(t, res.ExportKey)
			_, err := os.Stat(filepath.Join(exportDir, res.ExportKey))
			assert.NoError(t, err, res.ExportKey)
		}
	})
	t.Run("SameNameInDifferentDirectories", func(t *testing.T) {
		otherDir := filepath.Join(dir, "other")
		require.NoError(t, os.MkdirAll(otherDir, 0755))
		otherGold := writePrices(t, otherDir, "gold.csv", 3)

		outPath := filepath.Join(dir, "same-name.json")
		_, err := runCommand(t, Batch(), "--breaks", "1", "--output", outPath, gold, otherGold)
		require.NoError(t, err)

		data, err := os.ReadFile(outPath)
		require.NoError(t, err)
		var results []BatchResult
		require.NoError(t, json.Unmarshal(data, &results))
		require.Len(t, results, 2)
		for _, res := range results {
			assert.Equal(t, "gold", res.Series)
			assert.Empty(t, res.Error)
		}
	})
	t.Run("ReportsFailures", func(t *testing.T) {
		out, err := runCommand(t, Batch(), "--breaks", "1", gold, filepath.Join(dir, "platinum.csv"))
		assert.Error(t, err)
		assert.Contains(t, out, "platinum")
	})
	t.Run("NoArguments", func(t *testing.T) {
		_, err := runCommand(t, Batch())
		assert.Error(t, err)
	})
}
