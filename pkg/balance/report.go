package balance

import (
	"cmp"
	encodingcsv "encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"text/tabwriter"
)

// BalanceMetric is the comparison of one covariate between cases and controls.
type BalanceMetric struct {
	// Name identifies the metric, e.g. "age", "smoker_TRUE" or "region_north".
	Name   string `json:"name"`
	Column string `json:"column"`
	Kind   Kind   `json:"kind"`
	// Level is the encoded category of a categorical covariate.
	Level string `json:"level,omitempty"`

	CaseMean        float64 `json:"case_mean"`
	CaseVariance    float64 `json:"case_variance"`
	ControlMean     float64 `json:"control_mean"`
	ControlVariance float64 `json:"control_variance"`
	CaseN           int     `json:"case_n"`
	ControlN        int     `json:"control_n"`

	// SMD is the standardized mean difference and may be infinite.
	SMD        float64 `json:"smd"`
	Imbalanced bool    `json:"imbalanced"`
}

// MarshalJSON writes an infinite SMD as the string "+Inf" or "-Inf".
func (m BalanceMetric) MarshalJSON() ([]byte, error) {
	type plain BalanceMetric
	out := struct {
		plain
		SMD any `json:"smd"`
	}{plain: plain(m), SMD: m.SMD}
	if math.IsInf(m.SMD, 0) || math.IsNaN(m.SMD) {
		out.SMD = formatSMD(m.SMD)
	}
	return json.Marshal(out)
}

type BalanceSummary struct {
	TotalCovariates      int     `json:"total_covariates"`
	ImbalancedCovariates int     `json:"imbalanced_covariates"`
	MaxAbsSMD            float64 `json:"max_abs_smd"`
	MeanAbsSMD           float64 `json:"mean_abs_smd"`
	Threshold            float64 `json:"threshold"`
	Passed               bool    `json:"passed"`
}

// MarshalJSON writes infinite aggregates as strings, like BalanceMetric.
func (s BalanceSummary) MarshalJSON() ([]byte, error) {
	type plain BalanceSummary
	out := struct {
		plain
		MaxAbsSMD  any `json:"max_abs_smd"`
		MeanAbsSMD any `json:"mean_abs_smd"`
	}{plain: plain(s), MaxAbsSMD: s.MaxAbsSMD, MeanAbsSMD: s.MeanAbsSMD}
	if math.IsInf(s.MaxAbsSMD, 0) {
		out.MaxAbsSMD = formatSMD(s.MaxAbsSMD)
	}
	if math.IsInf(s.MeanAbsSMD, 0) {
		out.MeanAbsSMD = formatSMD(s.MeanAbsSMD)
	}
	return json.Marshal(out)
}

// SkippedCovariate is a column that was not assessed.
type SkippedCovariate struct {
	Column string `json:"column"`
	Reason string `json:"reason"`
}

type BalanceReport struct {
	Metrics []BalanceMetric    `json:"metrics"`
	Summary BalanceSummary     `json:"summary"`
	Skipped []SkippedCovariate `json:"skipped"`
}

// Metric returns the metric with the given name.
func (r *BalanceReport) Metric(name string) (BalanceMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return BalanceMetric{}, false
}

// Sorted returns the metrics ordered by |SMD| descending, then by name.
func (r *BalanceReport) Sorted() []BalanceMetric {
	out := slices.Clone(r.Metrics)
	slices.SortStableFunc(out, func(a, b BalanceMetric) int {
		if c := cmp.Compare(math.Abs(b.SMD), math.Abs(a.SMD)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// WriteText renders the report as an aligned table followed by the summary.
func (r *BalanceReport) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "COVARIATE\tKIND\tCASE MEAN\tCONTROL MEAN\tSMD\tBALANCED")
	for _, m := range r.Sorted() {
		balanced := "yes"
		if m.Imbalanced {
			balanced = "NO"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%s\t%s\n",
			m.Name, m.Kind, m.CaseMean, m.ControlMean, formatSMD(m.SMD), balanced)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range r.Skipped {
		if _, err := fmt.Fprintf(w, "skipped %s: %s\n", s.Column, s.Reason); err != nil {
			return err
		}
	}

	status := "PASSED"
	if !r.Summary.Passed {
		status = "FAILED"
	}
	_, err := fmt.Fprintf(w, "\n%d of %d covariates imbalanced (threshold %.2f), max |SMD| %s, mean |SMD| %s: %s\n",
		r.Summary.ImbalancedCovariates,
		r.Summary.TotalCovariates,
		r.Summary.Threshold,
		formatSMD(r.Summary.MaxAbsSMD),
		formatSMD(r.Summary.MeanAbsSMD),
		status,
	)
	return err
}

// WriteCSV writes one row per metric, in the order of Sorted, with a header row.
func (r *BalanceReport) WriteCSV(w io.Writer) error {
	cw := encodingcsv.NewWriter(w)
	header := []string{
		"covariate", "column", "kind", "case_mean", "case_variance", "case_n",
		"control_mean", "control_variance", "control_n", "smd", "imbalanced",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, m := range r.Sorted() {
		record := []string{
			m.Name,
			m.Column,
			string(m.Kind),
			strconv.FormatFloat(m.CaseMean, 'g', -1, 64),
			strconv.FormatFloat(m.CaseVariance, 'g', -1, 64),
			strconv.Itoa(m.CaseN),
			strconv.FormatFloat(m.ControlMean, 'g', -1, 64),
			strconv.FormatFloat(m.ControlVariance, 'g', -1, 64),
			strconv.Itoa(m.ControlN),
			formatSMD(m.SMD),
			strconv.FormatBool(m.Imbalanced),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatSMD(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}
