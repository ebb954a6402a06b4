// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags, environment variables prefixed with CASEMATCH, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("CASEMATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/casematch", "$HOME/.casematch", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	return &cobra.Command{
		Use:   "casematch",
		Short: "Match epidemiological cases to controls on birth date, gender and family size",
		Long: `Match epidemiological cases to controls on birth date, gender and family size.

casematch selects up to N controls per case from a control population, without reusing
controls unless replacement is enabled, and reports the covariate balance of the matched
groups as standardized mean differences.`,
	}
}
