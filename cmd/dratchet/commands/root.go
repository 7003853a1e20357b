package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TheusHen/DRatchet/internal/config"
)

// app holds the flags and loaded state of one root command.
type app struct {
	configPath   string
	identityPath string
	logLevel     string

	cfg    config.Config
	logger *zap.Logger
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:          "dratchet",
		Short:        "Double Ratchet sessions over QUIC",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if a.cfg, err = config.Load(a.configPath); err != nil {
				return err
			}
			if a.identityPath != "" {
				a.cfg.IdentityFile = a.identityPath
			}
			if a.logLevel != "" {
				a.cfg.LogLevel = a.logLevel
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			a.logger, err = a.cfg.Logger()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "dratchet.toml", "config file")
	root.PersistentFlags().StringVar(&a.identityPath, "identity", "", "identity file (overrides config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (overrides config)")

	root.AddCommand(a.keygenCmd(), a.listenCmd(), a.dialCmd(), a.demoCmd())
	return root
}
