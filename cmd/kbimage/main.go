package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/kbimage"
	"github.com/wippyai/kbimage/config"
	"github.com/wippyai/kbimage/image"
	"github.com/wippyai/kbimage/kinds"
)

var (
	// Global flags
	configPath string
	verbose    bool
	policy     string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kbimage",
	Short: "Inspect, verify and catalog binary knowledge-base images",
	Long: `kbimage works with binary knowledge-base images: snapshots of
modules, deffunctions, defgenerics, defglobals and definstances that load
without re-parsing source.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if policy != "" {
			cfg.Image.CapabilityPolicy = policy
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		if verbose {
			cfg.Logging.Level = zapcore.DebugLevel.String()
		}
		logger, err = cfg.NewLogger()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		image.SetLogger(logger.Named("image"))
		kinds.SetLogger(logger.Named("kinds"))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "kbimage.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&policy, "capability-policy", "", "override image.capability_policy (substitute, fail)")

	rootCmd.AddCommand(inspectCmd, manifestCmd, verifyCmd, browseCmd, sampleCmd, catalogCmd)
}

// newEngine returns an engine over an empty knowledge base with every
// standard item registered.
func newEngine() (*image.Engine, error) {
	return kbimage.NewEngine(newEnv(), cfg.EngineOptions(logger.Named("engine"))...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, paint(errorStyle, "Error: ")+err.Error())
		os.Exit(1)
	}
}
