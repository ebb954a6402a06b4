package match

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tkragholm/studyone-sub004/cmd/util"
)

// flagBindings maps each flag of the match command to its config key and environment
// variable.
var flagBindings = []struct {
	flag string
	key  string
	env  string
}{
	{casesFlag, casesFlag, "CASEMATCH_CASES"},
	{controlsFlag, controlsFlag, "CASEMATCH_CONTROLS"},

	{"birth-date-window", "criteria.birthDateWindowDays", "CASEMATCH_CRITERIA_BIRTH_DATE_WINDOW_DAYS"},
	{"require-same-gender", "criteria.requireSameGender", "CASEMATCH_CRITERIA_REQUIRE_SAME_GENDER"},
	{"max-family-size-diff", "criteria.maxFamilySizeDiff", "CASEMATCH_CRITERIA_MAX_FAMILY_SIZE_DIFF"},
	{"matching-ratio", "criteria.matchingRatio", "CASEMATCH_CRITERIA_MATCHING_RATIO"},
	{"min-controls", "criteria.minControls", "CASEMATCH_CRITERIA_MIN_CONTROLS"},
	{"allow-replacement", "criteria.allowReplacement", "CASEMATCH_CRITERIA_ALLOW_REPLACEMENT"},
	{"exclude-self", "criteria.excludeSelf", "CASEMATCH_CRITERIA_EXCLUDE_SELF"},

	{"identifier-column", "columns.identifier", "CASEMATCH_COLUMNS_IDENTIFIER"},
	{"birth-date-column", "columns.birthDate", "CASEMATCH_COLUMNS_BIRTH_DATE"},
	{"gender-column", "columns.gender", "CASEMATCH_COLUMNS_GENDER"},
	{"family-size-column", "columns.familySize", "CASEMATCH_COLUMNS_FAMILY_SIZE"},

	{"workers", "matching.workers", "CASEMATCH_MATCHING_WORKERS"},
	{"group-span-days", "matching.groupSpanDays", "CASEMATCH_MATCHING_GROUP_SPAN_DAYS"},
	{"case-buckets", "matching.caseBuckets", "CASEMATCH_MATCHING_CASE_BUCKETS"},

	{"balance-enabled", "balance.enabled", "CASEMATCH_BALANCE_ENABLED"},
	{"balance-threshold", "balance.threshold", "CASEMATCH_BALANCE_THRESHOLD"},
	{"balance-min-observations", "balance.minObservations", "CASEMATCH_BALANCE_MIN_OBSERVATIONS"},
	{"balance-covariates", "balance.covariates", "CASEMATCH_BALANCE_COVARIATES"},
	{"balance-exclude-columns", "balance.excludeColumns", "CASEMATCH_BALANCE_EXCLUDE_COLUMNS"},

	{"log-format", "log.format", "CASEMATCH_LOG_FORMAT"},
	{"log-level", "log.level", "CASEMATCH_LOG_LEVEL"},

	{"report", "report.format", "CASEMATCH_REPORT_FORMAT"},
}

// bindMatchFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindMatchFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(command *cobra.Command, args []string) {
		for _, b := range flagBindings {
			util.MustBindPFlag(b.key, flags.Lookup(b.flag))
			util.MustBindEnv(b.key, b.env)
		}
	}
}
