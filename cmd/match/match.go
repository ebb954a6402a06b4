// Package match contains the command that matches cases to controls.
package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tkragholm/studyone-sub004/internal/tableio"
	"github.com/tkragholm/studyone-sub004/pkg/balance"
	"github.com/tkragholm/studyone-sub004/pkg/config"
	"github.com/tkragholm/studyone-sub004/pkg/logger"
	"github.com/tkragholm/studyone-sub004/pkg/matching"
	"github.com/tkragholm/studyone-sub004/pkg/pipeline"
)

const (
	casesFlag    = "cases"
	controlsFlag = "controls"
)

func NewMatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match cases to controls and assess covariate balance",
		Long:  "Load the case and control tables from CSV files, select controls for every case and print the matching result with its balance report.",
		RunE:  runMatch,
		Args:  cobra.NoArgs,
	}

	defaultConfig := config.DefaultConfig()
	flags := cmd.Flags()

	flags.String(casesFlag, "", "the CSV file holding the case table")

	flags.String(controlsFlag, "", "the CSV file holding the control table")

	flags.Uint32("birth-date-window", defaultConfig.Criteria.BirthDateWindowDays, "the maximum number of days between the birth dates of a case and its controls")

	flags.Bool("require-same-gender", defaultConfig.Criteria.RequireSameGender, "only match controls of the same gender as the case")

	flags.Int("max-family-size-diff", defaultConfig.Criteria.MaxFamilySizeDiff, "the maximum family size difference between a case and its controls; negative disables the check")

	flags.Uint32("matching-ratio", defaultConfig.Criteria.MatchingRatio, "the number of controls to select per case")

	flags.Uint32("min-controls", defaultConfig.Criteria.MinControls, "the fewest controls a case needs to count as matched")

	flags.Bool("allow-replacement", defaultConfig.Criteria.AllowReplacement, "allow a control to be matched to more than one case")

	flags.Bool("exclude-self", defaultConfig.Criteria.ExcludeSelf, "never match a control that shares the case identifier")

	flags.String("identifier-column", defaultConfig.Columns.Identifier, "the name of the identifier column")

	flags.String("birth-date-column", defaultConfig.Columns.BirthDate, "the name of the birth date column")

	flags.String("gender-column", defaultConfig.Columns.Gender, "the name of the gender column")

	flags.String("family-size-column", defaultConfig.Columns.FamilySize, "the name of the family size column")

	flags.Int("workers", defaultConfig.Matching.Workers, "the number of case groups matched concurrently")

	flags.Uint32("group-span-days", defaultConfig.Matching.GroupSpanDays, "the width in days of a case group; 0 derives it from case-buckets")

	flags.Int("case-buckets", defaultConfig.Matching.CaseBuckets, "the number of case groups to aim for when group-span-days is 0")

	flags.Bool("balance-enabled", defaultConfig.Balance.Enabled, "enable/disable the covariate balance assessment")

	flags.Float64("balance-threshold", defaultConfig.Balance.Threshold, "the absolute standardized mean difference above which a covariate is imbalanced")

	flags.Int("balance-min-observations", defaultConfig.Balance.MinObservations, "the fewest non-null values per group needed to assess a covariate")

	flags.StringSlice("balance-covariates", defaultConfig.Balance.Covariates, "the columns to assess; empty assesses every shared column")

	flags.StringSlice("balance-exclude-columns", defaultConfig.Balance.ExcludeColumns, "the columns left out of the balance assessment (default: the identifier column)")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in ('text' or 'json')")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use ('none', 'debug', 'info', 'warn', 'error')")

	flags.String("report", defaultConfig.Report.Format, "the output format of the result ('json', 'text' or the balance table as 'csv')")

	cmd.PreRun = bindMatchFlagsFunc(flags)

	return cmd
}

// ReadConfig returns the run configuration based on the values provided in the 'config.yaml' file,
// environment variables and flags. The 'config.yaml' file is loaded from '/etc/casematch',
// '$HOME/.casematch', or the current working directory. If no configuration file is present,
// the default values are returned.
func ReadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func runMatch(cmd *cobra.Command, _ []string) error {
	cfg, err := ReadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Verify(); err != nil {
		return err
	}

	casesPath := viper.GetString(casesFlag)
	controlsPath := viper.GetString(controlsFlag)
	if casesPath == "" || controlsPath == "" {
		return fmt.Errorf("both --%s and --%s must be set", casesFlag, controlsFlag)
	}

	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	reader := tableio.NewReader(cfg.Columns.Matching())
	cases, controls, err := reader.LoadPair(ctx, casesPath, controlsPath)
	if err != nil {
		return err
	}
	defer cases.Release()
	defer controls.Release()

	outcome, err := pipeline.Run(ctx, cases, controls, pipelineOptions(cfg, log)...)
	if err != nil {
		return err
	}
	defer outcome.Release()

	return writeOutcome(cmd.OutOrStdout(), cfg, outcome)
}

func pipelineOptions(cfg *config.Config, log logger.Logger) []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithCriteria(cfg.Criteria.Matching()),
		pipeline.WithColumns(cfg.Columns.Matching()),
		pipeline.WithLogger(log),
		pipeline.WithMatcherOptions(
			matching.WithWorkers(cfg.Matching.Workers),
			matching.WithGroupSpanDays(cfg.Matching.GroupSpanDays),
			matching.WithCaseBuckets(cfg.Matching.CaseBuckets),
		),
	}

	if !cfg.Balance.Enabled {
		return append(opts, pipeline.WithoutBalance())
	}

	assessorOpts := []balance.AssessorOption{
		balance.WithThreshold(cfg.Balance.Threshold),
		balance.WithMinObservations(cfg.Balance.MinObservations),
		balance.WithExcludeColumns(cfg.BalanceExcludeColumns()...),
		balance.WithLogger(log),
	}
	if len(cfg.Balance.Covariates) > 0 {
		assessorOpts = append(assessorOpts, balance.WithCovariates(cfg.Balance.Covariates...))
	}
	return append(opts, pipeline.WithAssessor(balance.NewAssessor(assessorOpts...)))
}

// matchReport is the JSON document printed by the match command.
type matchReport struct {
	RunID             string                 `json:"run_id"`
	Stage             pipeline.Stage         `json:"stage"`
	Digest            string                 `json:"digest"`
	Summary           matching.Summary       `json:"summary"`
	Matched           []matching.MatchedPair `json:"matched"`
	UnmatchedCaseRows []int                  `json:"unmatched_case_rows"`
	Balance           *balance.BalanceReport `json:"balance,omitempty"`
}

func writeOutcome(w io.Writer, cfg *config.Config, outcome *pipeline.Outcome) error {
	result := outcome.Result

	switch cfg.Report.Format {
	case "text":
		return writeText(w, cfg, outcome)
	case "csv":
		if outcome.Balance == nil {
			return fmt.Errorf("no balance report to write as csv")
		}
		return outcome.Balance.WriteCSV(w)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(matchReport{
		RunID:             outcome.RunID,
		Stage:             outcome.Stage,
		Digest:            result.Digest(),
		Summary:           result.Summary,
		Matched:           result.Matched,
		UnmatchedCaseRows: result.UnmatchedCaseRows,
		Balance:           outcome.Balance,
	})
}

func writeText(w io.Writer, cfg *config.Config, outcome *pipeline.Outcome) error {
	s := outcome.Result.Summary

	if _, err := fmt.Fprintf(w, "run %s (%s)\n%s\n", outcome.RunID, outcome.Result.Digest(), cfg.Criteria.Matching()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "cases: %d total, %d matched (%d partial), %d unmatched\ncontrols: %d used of %d\n\n",
		s.TotalCases, s.MatchedCases, s.PartialMatches, s.UnmatchedCases, s.ControlsUsed, s.ControlPool); err != nil {
		return err
	}

	if outcome.Balance == nil {
		_, err := fmt.Fprintln(w, "balance not assessed")
		return err
	}
	return outcome.Balance.WriteText(w)
}
