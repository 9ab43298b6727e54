package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/felixgeelhaar/offsync/internal/infrastructure/config"
	"github.com/felixgeelhaar/offsync/internal/infrastructure/watch"
	"github.com/felixgeelhaar/offsync/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/offsync/pkg/domain/events"
	"github.com/spf13/cobra"
)

var watchConfig bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile offenses and cards on a fixed interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := loadServices(cmd)
		if err != nil {
			return err
		}
		defer services.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if watchConfig {
			if services.Config.Path == "" {
				slog.Warn("--watch-config ignored: no config file in use")
			} else if err := startConfigWatcher(ctx, services); err != nil {
				return err
			}
		}

		if err := services.Poll.Run(ctx); err != nil {
			return MapError(err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&watchConfig, "watch-config", false, "reload the polling interval when the config file changes")
	RootCmd.AddCommand(runCmd)
}

// startConfigWatcher reloads the config file on change. The polling interval is applied
// live and triggers an immediate cycle; other changes need a restart.
func startConfigWatcher(ctx context.Context, services *wiring.AppServices) error {
	path := services.Config.Path
	files := []string{path, filepath.Join(filepath.Dir(path), ".env")}

	w, err := watch.NewFileWatcher(files, 0, func(c watch.Change) {
		reloadConfig(services, c)
	}, slog.Default())
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("config watcher stopped", "error", err)
		}
	}()
	slog.Info("watching config for changes", "path", path)
	return nil
}

func reloadConfig(services *wiring.AppServices, c watch.Change) {
	next, err := config.Load(services.Config.Path)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		slog.Warn("config reload rejected, keeping current settings", "path", c.Path, "error", err)
		return
	}

	if restartRequired(services.Config, next) {
		slog.Warn("config changed beyond sync.interval; restart offsync to apply", "path", c.Path)
	}
	services.Poll.SetInterval(next.Sync.Interval)
	services.Poll.Kick()
	slog.Info("config reloaded", "path", c.Path, "interval", next.Sync.Interval)
}

func restartRequired(current, next *config.Config) bool {
	return current.QRadar != next.QRadar ||
		current.Deck != next.Deck ||
		current.HTTP != next.HTTP ||
		current.Sync.MappingFile != next.Sync.MappingFile ||
		current.Sync.AuditFile != next.Sync.AuditFile ||
		current.Sync.DueWindow != next.Sync.DueWindow ||
		current.Sync.Comment != next.Sync.Comment ||
		!slices.EqualFunc(current.Webhooks, next.Webhooks, events.WebhookEndpoint.Equal)
}
