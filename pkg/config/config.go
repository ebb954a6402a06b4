// Package config contains all knobs and defaults used to configure a casematch run.
package config

import (
	"fmt"
	"runtime"

	"github.com/tkragholm/studyone-sub004/pkg/balance"
	"github.com/tkragholm/studyone-sub004/pkg/matching"
)

const (
	DefaultBirthDateWindowDays = 0
	DefaultMatchingRatio       = 1
	DefaultMinControls         = 1

	// DefaultMaxFamilySizeDiff disables family-size matching. Any negative value does.
	DefaultMaxFamilySizeDiff = -1

	DefaultLogFormat    = "text"
	DefaultLogLevel     = "info"
	DefaultReportFormat = "json"
)

// CriteriaConfig mirrors matching.Criteria in a form that can be read from flags,
// environment variables and config files.
type CriteriaConfig struct {
	BirthDateWindowDays uint32
	RequireSameGender   bool

	// MaxFamilySizeDiff bounds the family-size difference. Negative disables the check.
	MaxFamilySizeDiff int

	MatchingRatio    uint32
	MinControls      uint32
	AllowReplacement bool
	ExcludeSelf      bool
}

// Matching converts the config into matching.Criteria.
func (c CriteriaConfig) Matching() matching.Criteria {
	criteria := matching.Criteria{
		BirthDateWindowDays: c.BirthDateWindowDays,
		RequireSameGender:   c.RequireSameGender,
		MatchingRatio:       c.MatchingRatio,
		AllowReplacement:    c.AllowReplacement,
		MinControls:         c.MinControls,
		ExcludeSelf:         c.ExcludeSelf,
	}
	if c.MaxFamilySizeDiff >= 0 {
		diff := uint32(c.MaxFamilySizeDiff)
		criteria.MaxFamilySizeDiff = &diff
	}
	return criteria
}

// ColumnsConfig names the columns of the input tables.
type ColumnsConfig struct {
	Identifier string
	BirthDate  string
	Gender     string
	FamilySize string
}

func (c ColumnsConfig) Matching() matching.Columns {
	return matching.Columns{
		Identifier: c.Identifier,
		BirthDate:  c.BirthDate,
		Gender:     c.Gender,
		FamilySize: c.FamilySize,
	}
}

// MatchingConfig defines how the matcher spreads its work.
type MatchingConfig struct {
	// Workers is the number of case groups matched concurrently.
	Workers int

	// GroupSpanDays fixes the width of case buckets. Zero derives it from CaseBuckets.
	GroupSpanDays uint32
	CaseBuckets   int
}

// BalanceConfig defines the covariate balance assessment.
type BalanceConfig struct {
	Enabled         bool
	Threshold       float64
	MinObservations int

	// Covariates restricts the assessment to these columns. Empty means every column
	// shared by both tables except ExcludeColumns.
	Covariates []string

	// ExcludeColumns are left out of the default covariate set. Empty means the
	// configured identifier column.
	ExcludeColumns []string
}

type LogConfig struct {
	// Format is the log format to use in the log output (e.g. 'text' or 'json')
	Format string

	// Level is the log level to use in the log output (e.g. 'none', 'debug', or 'info')
	Level string
}

type ReportConfig struct {
	// Format is the output format of the match command (e.g. 'json', 'text' or 'csv')
	Format string
}

type Config struct {
	Criteria CriteriaConfig
	Columns  ColumnsConfig
	Matching MatchingConfig
	Balance  BalanceConfig
	Log      LogConfig
	Report   ReportConfig
}

// BalanceExcludeColumns returns the columns left out of the balance assessment.
func (cfg *Config) BalanceExcludeColumns() []string {
	if len(cfg.Balance.ExcludeColumns) > 0 {
		return cfg.Balance.ExcludeColumns
	}
	return []string{cfg.Columns.Identifier}
}

func (cfg *Config) Verify() error {
	if err := cfg.Criteria.Matching().Verify(); err != nil {
		return fmt.Errorf("config 'criteria' is invalid: %w", err)
	}

	if cfg.Columns.Identifier == "" || cfg.Columns.BirthDate == "" {
		return fmt.Errorf("config 'columns.identifier' and 'columns.birthDate' must be set")
	}

	if cfg.Criteria.RequireSameGender && cfg.Columns.Gender == "" {
		return fmt.Errorf("config 'columns.gender' must be set when 'criteria.requireSameGender' is enabled")
	}

	if cfg.Criteria.MaxFamilySizeDiff >= 0 && cfg.Columns.FamilySize == "" {
		return fmt.Errorf("config 'columns.familySize' must be set when 'criteria.maxFamilySizeDiff' is enabled")
	}

	if cfg.Matching.Workers < 1 {
		return fmt.Errorf("config 'matching.workers' (%d) must be at least 1", cfg.Matching.Workers)
	}

	if cfg.Matching.CaseBuckets < 0 {
		return fmt.Errorf("config 'matching.caseBuckets' (%d) cannot be negative", cfg.Matching.CaseBuckets)
	}

	if cfg.Balance.Threshold < 0 {
		return fmt.Errorf("config 'balance.threshold' (%v) cannot be negative", cfg.Balance.Threshold)
	}

	if cfg.Balance.MinObservations < 1 {
		return fmt.Errorf("config 'balance.minObservations' (%d) must be at least 1", cfg.Balance.MinObservations)
	}

	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("config 'log.format' must be one of ['text', 'json']")
	}

	if cfg.Log.Level != "none" &&
		cfg.Log.Level != "debug" &&
		cfg.Log.Level != "info" &&
		cfg.Log.Level != "warn" &&
		cfg.Log.Level != "error" {
		return fmt.Errorf("config 'log.level' must be one of ['none', 'debug', 'info', 'warn', 'error']")
	}

	if cfg.Report.Format != "json" && cfg.Report.Format != "text" && cfg.Report.Format != "csv" {
		return fmt.Errorf("config 'report.format' must be one of ['json', 'text', 'csv']")
	}

	return nil
}

// DefaultConfig is the configuration used when no flag, environment variable or
// config file overrides a value.
func DefaultConfig() *Config {
	columns := matching.DefaultColumns()
	return &Config{
		Criteria: CriteriaConfig{
			BirthDateWindowDays: DefaultBirthDateWindowDays,
			MaxFamilySizeDiff:   DefaultMaxFamilySizeDiff,
			MatchingRatio:       DefaultMatchingRatio,
			MinControls:         DefaultMinControls,
			ExcludeSelf:         true,
		},
		Columns: ColumnsConfig{
			Identifier: columns.Identifier,
			BirthDate:  columns.BirthDate,
			Gender:     columns.Gender,
			FamilySize: columns.FamilySize,
		},
		Matching: MatchingConfig{
			Workers:     runtime.GOMAXPROCS(0),
			CaseBuckets: matching.DefaultCaseBuckets,
		},
		Balance: BalanceConfig{
			Enabled:         true,
			Threshold:       balance.DefaultThreshold,
			MinObservations: balance.DefaultMinObservations,
		},
		Log: LogConfig{
			Format: DefaultLogFormat,
			Level:  DefaultLogLevel,
		},
		Report: ReportConfig{
			Format: DefaultReportFormat,
		},
	}
}
