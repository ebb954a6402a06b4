package balance

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleReport() *BalanceReport {
	metrics := []BalanceMetric{
		{Name: "age", Column: "age", Kind: KindContinuous, CaseMean: 40, ControlMean: 41, SMD: -0.05},
		{Name: "smoker_TRUE", Column: "smoker", Kind: KindBinary, CaseMean: 1, ControlMean: 0, SMD: math.Inf(1), Imbalanced: true},
		{Name: "income", Column: "income", Kind: KindContinuous, CaseMean: 10, ControlMean: 8, SMD: 0.5, Imbalanced: true},
	}
	return &BalanceReport{
		Metrics: metrics,
		Summary: summarize(metrics, 0.1),
		Skipped: []SkippedCovariate{{Column: "notes", Reason: "unsupported type binary"}},
	}
}

func TestSummarize(t *testing.T) {
	s := sampleReport().Summary
	require.Equal(t, 3, s.TotalCovariates)
	require.Equal(t, 2, s.ImbalancedCovariates)
	require.True(t, math.IsInf(s.MaxAbsSMD, 1))
	require.False(t, s.Passed)

	s = summarize(nil, 0.1)
	require.True(t, s.Passed)
	require.Zero(t, s.MeanAbsSMD)
}

func TestReportSorted(t *testing.T) {
	var names []string
	for _, m := range sampleReport().Sorted() {
		names = append(names, m.Name)
	}
	require.Equal(t, []string{"smoker_TRUE", "income", "age"}, names)
}

func TestReportWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteText(&buf))

	lines := strings.Split(buf.String(), "\n")
	require.True(t, strings.HasPrefix(lines[0], "COVARIATE"))
	require.True(t, strings.HasPrefix(lines[1], "smoker_TRUE"))
	require.Contains(t, lines[1], "+Inf")
	require.Contains(t, lines[1], "NO")
	require.True(t, strings.HasPrefix(lines[2], "income"))
	require.True(t, strings.HasPrefix(lines[3], "age"))
	require.Contains(t, lines[3], "-0.0500")
	require.Contains(t, buf.String(), "skipped notes: unsupported type binary")
	require.Contains(t, buf.String(), "2 of 3 covariates imbalanced (threshold 0.10)")
	require.Contains(t, buf.String(), "FAILED")
}

func TestReportJSON(t *testing.T) {
	data, err := json.Marshal(sampleReport())
	require.NoError(t, err)

	var decoded struct {
		Metrics []map[string]any `json:"metrics"`
		Summary map[string]any   `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.InDelta(t, -0.05, decoded.Metrics[0]["smd"], 1e-12)
	require.Equal(t, "+Inf", decoded.Metrics[1]["smd"])
	require.Equal(t, "smoker", decoded.Metrics[1]["column"])
	require.Equal(t, "binary", decoded.Metrics[1]["kind"])
	require.Equal(t, "+Inf", decoded.Summary["max_abs_smd"])
	require.Equal(t, false, decoded.Summary["passed"])
}

func TestReportWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleReport().WriteCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "covariate,column,kind,case_mean,case_variance,case_n,control_mean,control_variance,control_n,smd,imbalanced", lines[0])
	require.Equal(t, "smoker_TRUE,smoker,binary,1,0,0,0,0,0,+Inf,true", lines[1])
	require.Equal(t, "age,age,continuous,40,0,0,41,0,0,-0.0500,false", lines[3])
}
