package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/felixgeelhaar/offsync/internal/infrastructure/config"
	"github.com/felixgeelhaar/offsync/internal/infrastructure/wiring"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "offsync",
	Version: Version,
	Short:   "Mirror open QRadar offenses as Nextcloud Deck cards",
	Long: `offsync keeps a Nextcloud Deck board in step with QRadar:
every open offense gets exactly one card, and once an offense leaves
the OPEN state its card is archived to the done stack exactly once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "config file (.yaml or .toml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

// loadConfig reads --config. The default file may be absent, in which case the
// environment alone configures the run.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if !cmd.Root().PersistentFlags().Changed("config") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, MapError(err)
	}
	return cfg, nil
}

func loadServices(cmd *cobra.Command) (*wiring.AppServices, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	services, err := wiring.BuildAppServices(cfg, slog.Default())
	if err != nil {
		return nil, MapError(err)
	}
	return services, nil
}
