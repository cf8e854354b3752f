// Package cli implements the labelwire command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/labelwire/internal/cache"
	"github.com/ppiankov/labelwire/internal/config"
	"github.com/ppiankov/labelwire/internal/logging"
	"github.com/ppiankov/labelwire/internal/platform"
	"github.com/ppiankov/labelwire/internal/worker"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "labelwire",
	Short: "Convert, validate and move annotation imports for a labeling platform",
	Long: `labelwire reads and writes the line-delimited JSON annotation format used
by the labeling platform's import and export endpoints.

It validates records against a project ontology before anything is sent,
normalizes exports into canonical records, and uploads or downloads
annotation streams.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetVerbose(verbose)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "labelwire v%s\n", config.Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.labelwire/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	config.Configure(viper.GetViper(), cfgFile)
}

// loadConfig reads the effective configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if f := viper.ConfigFileUsed(); f != "" {
		logging.Debug("using config file", "path", f)
	}
	return cfg, nil
}

// newClient builds a platform client with the configured cache and limiter.
func newClient(cfg *config.Config) (*platform.Client, error) {
	return platform.NewClient(cfg.Platform,
		platform.WithCache(cache.New(cfg.Cache), 0),
		platform.WithLimiter(worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst)),
	)
}
