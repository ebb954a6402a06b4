package match

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tkragholm/studyone-sub004/cmd"
	"github.com/tkragholm/studyone-sub004/cmd/util"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	casesCSV = `pnr,birth_date,gender,income
c1,2001-01-10,F,100
c2,2001-06-01,M,200
c3,1980-01-01,F,300
`
	controlsCSV = `pnr,birth_date,gender,income
k1,2001-01-09,F,100
k2,2001-01-12,F,120
k3,2001-06-02,M,210
k4,2001-06-02,F,250
`
)

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	casesPath := filepath.Join(dir, "cases.csv")
	controlsPath := filepath.Join(dir, "controls.csv")
	require.NoError(t, os.WriteFile(casesPath, []byte(casesCSV), 0o600))
	require.NoError(t, os.WriteFile(controlsPath, []byte(controlsCSV), 0o600))
	return casesPath, controlsPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(viper.Reset)
	util.PrepareTempConfigDir(t)

	root := cmd.NewRootCommand()
	root.AddCommand(NewMatchCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"match", "--log-level", "none"}, args...))

	err := root.Execute()
	return out.String(), err
}

func TestMatchCommandJSON(t *testing.T) {
	casesPath, controlsPath := writeInputs(t)

	out, err := execute(t,
		"--cases", casesPath,
		"--controls", controlsPath,
		"--birth-date-window", "3",
		"--require-same-gender",
		"--workers", "2",
	)
	require.NoError(t, err)

	var report struct {
		RunID   string `json:"run_id"`
		Stage   string `json:"stage"`
		Digest  string `json:"digest"`
		Summary struct {
			TotalCases     int `json:"total_cases"`
			MatchedCases   int `json:"matched_cases"`
			UnmatchedCases int `json:"unmatched_cases"`
		} `json:"summary"`
		Matched []struct {
			CaseRow     int   `json:"case_row"`
			ControlRows []int `json:"control_rows"`
		} `json:"matched"`
		UnmatchedCaseRows []int `json:"unmatched_case_rows"`
		Balance           *struct {
			Metrics []struct {
				Name string `json:"name"`
			} `json:"metrics"`
		} `json:"balance"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	require.NotEmpty(t, report.RunID)
	require.Len(t, report.Digest, 16)
	require.Equal(t, "balance_assessed", report.Stage)
	require.Equal(t, 3, report.Summary.TotalCases)
	require.Equal(t, 2, report.Summary.MatchedCases)
	require.Equal(t, []int{2}, report.UnmatchedCaseRows)

	require.Len(t, report.Matched, 2)
	require.Equal(t, 0, report.Matched[0].CaseRow)
	require.Equal(t, []int{0}, report.Matched[0].ControlRows)
	require.Equal(t, 1, report.Matched[1].CaseRow)
	require.Equal(t, []int{2}, report.Matched[1].ControlRows)

	require.NotNil(t, report.Balance)
	var names []string
	for _, m := range report.Balance.Metrics {
		names = append(names, m.Name)
	}
	require.Contains(t, names, "income")
	require.NotContains(t, names, "pnr")
}

func TestMatchCommandExcludesRenamedIdentifier(t *testing.T) {
	dir := t.TempDir()
	casesPath := filepath.Join(dir, "cases.csv")
	controlsPath := filepath.Join(dir, "controls.csv")
	require.NoError(t, os.WriteFile(casesPath, []byte(strings.Replace(casesCSV, "pnr", "id", 1)), 0o600))
	require.NoError(t, os.WriteFile(controlsPath, []byte(strings.Replace(controlsCSV, "pnr", "id", 1)), 0o600))

	out, err := execute(t,
		"--cases", casesPath,
		"--controls", controlsPath,
		"--identifier-column", "id",
		"--birth-date-window", "3",
	)
	require.NoError(t, err)

	var report struct {
		Summary struct {
			MatchedCases int `json:"matched_cases"`
		} `json:"summary"`
		Balance *struct {
			Metrics []struct {
				Column string `json:"column"`
			} `json:"metrics"`
		} `json:"balance"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, 2, report.Summary.MatchedCases)
	require.NotNil(t, report.Balance)

	var columns []string
	for _, m := range report.Balance.Metrics {
		columns = append(columns, m.Column)
	}
	require.Contains(t, columns, "income")
	require.NotContains(t, columns, "id")
}

func TestMatchCommandText(t *testing.T) {
	casesPath, controlsPath := writeInputs(t)

	out, err := execute(t,
		"--cases", casesPath,
		"--controls", controlsPath,
		"--birth-date-window", "3",
		"--report", "text",
	)
	require.NoError(t, err)
	require.Contains(t, out, "matching ratio: 1:1 (min 1)")
	require.Contains(t, out, "cases: 3 total, 2 matched (0 partial), 1 unmatched")
	require.Contains(t, out, "COVARIATE")
}

func TestMatchCommandWithoutBalance(t *testing.T) {
	casesPath, controlsPath := writeInputs(t)

	out, err := execute(t,
		"--cases", casesPath,
		"--controls", controlsPath,
		"--balance-enabled=false",
		"--report", "text",
	)
	require.NoError(t, err)
	require.Contains(t, out, "balance not assessed")
}

func TestMatchCommandReadsEnvironment(t *testing.T) {
	casesPath, controlsPath := writeInputs(t)
	t.Setenv("CASEMATCH_CASES", casesPath)
	t.Setenv("CASEMATCH_CONTROLS", controlsPath)
	t.Setenv("CASEMATCH_CRITERIA_MATCHING_RATIO", "2")

	out, err := execute(t, "--birth-date-window", "3")
	require.NoError(t, err)

	var report struct {
		Matched []struct {
			ControlRows []int `json:"control_rows"`
		} `json:"matched"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Matched, 2)
	require.Equal(t, []int{0, 1}, report.Matched[0].ControlRows)
}

func TestMatchCommandErrors(t *testing.T) {
	casesPath, controlsPath := writeInputs(t)

	tests := []struct {
		name          string
		args          []string
		expectedError string
	}{
		{
			name:          "missing_inputs",
			args:          []string{"--cases", casesPath},
			expectedError: "both --cases and --controls must be set",
		},
		{
			name:          "invalid_criteria",
			args:          []string{"--cases", casesPath, "--controls", controlsPath, "--matching-ratio", "1", "--min-controls", "2"},
			expectedError: "config 'criteria' is invalid: min controls (2) cannot exceed matching ratio (1)",
		},
		{
			name:          "invalid_report_format",
			args:          []string{"--cases", casesPath, "--controls", controlsPath, "--report", "yaml"},
			expectedError: "config 'report.format' must be one of ['json', 'text', 'csv']",
		},
		{
			name:          "missing_column",
			args:          []string{"--cases", casesPath, "--controls", controlsPath, "--require-same-gender", "--gender-column", "sex"},
			expectedError: `run aborted after stage unvalidated: cases: column "sex": missing required column`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := execute(t, test.args...)
			require.EqualError(t, err, test.expectedError)
		})
	}
}

func TestReadConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)
	util.PrepareTempConfigFile(t, `criteria:
  birthDateWindowDays: 30
  matchingRatio: 4
balance:
  threshold: 0.2
log:
  format: json
`)
	cmd.NewRootCommand()

	cfg, err := ReadConfig()
	require.NoError(t, err)
	require.Equal(t, uint32(30), cfg.Criteria.BirthDateWindowDays)
	require.Equal(t, uint32(4), cfg.Criteria.MatchingRatio)
	require.InDelta(t, 0.2, cfg.Balance.Threshold, 1e-12)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestMatchCommandCSV(t *testing.T) {
	casesPath, controlsPath := writeInputs(t)

	out, err := execute(t,
		"--cases", casesPath,
		"--controls", controlsPath,
		"--birth-date-window", "3",
		"--balance-covariates", "income",
		"--report", "csv",
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "covariate,column,kind"))
	require.True(t, strings.HasPrefix(lines[1], "income,income,continuous,150,"))
}
