// Package wiring builds the offsync service graph from configuration.
package wiring

import (
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/offsync/internal/infrastructure/config"
	"github.com/felixgeelhaar/offsync/internal/infrastructure/webhook"
	"github.com/felixgeelhaar/offsync/pkg/application"
	"github.com/felixgeelhaar/offsync/pkg/deck"
	"github.com/felixgeelhaar/offsync/pkg/domain/events"
	"github.com/felixgeelhaar/offsync/pkg/qradar"
	"github.com/felixgeelhaar/offsync/pkg/storage"
)

// AppServices exposes the services wired together for one configuration.
type AppServices struct {
	Config     *config.Config
	Store      *storage.FileMappingStore
	QRadar     *qradar.Client
	Deck       *deck.Client
	Dispatcher *events.EventDispatcher
	Audit      *storage.FileEventStore // nil when sync.audit_file is unset
	Notifier   *webhook.Notifier       // nil when no webhook is configured
	Reconcile  *application.ReconcileService
	Poll       *application.PollService
}

// Option customizes the built services.
type Option func(*buildOptions)

type buildOptions struct {
	qradarOpts []qradar.Option
	deckOpts   []deck.Option
}

// WithQRadarOptions passes options to the tracker client.
func WithQRadarOptions(opts ...qradar.Option) Option {
	return func(o *buildOptions) { o.qradarOpts = append(o.qradarOpts, opts...) }
}

// WithDeckOptions passes options to the board client.
func WithDeckOptions(opts ...deck.Option) Option {
	return func(o *buildOptions) { o.deckOpts = append(o.deckOpts, opts...) }
}

// BuildAppServices validates cfg and constructs every service in dependency order.
func BuildAppServices(cfg *config.Config, logger *slog.Logger, opts ...Option) (*AppServices, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	tracker, err := qradar.NewClient(qradar.Config{
		BaseURL:            cfg.QRadar.URL,
		Token:              cfg.QRadar.Token,
		Username:           cfg.QRadar.Username,
		Password:           cfg.QRadar.Password,
		APIVersion:         cfg.QRadar.APIVersion,
		Range:              cfg.QRadar.Range,
		InsecureSkipVerify: cfg.QRadar.InsecureSkipVerify,
		Timeout:            cfg.HTTP.Timeout,
		MaxAttempts:        cfg.HTTP.MaxAttempts,
	}, append([]qradar.Option{qradar.WithLogger(logger)}, bo.qradarOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("qradar client: %w", err)
	}

	boardClient, err := deck.NewClient(deck.Config{
		BaseURL:     cfg.Deck.URL,
		Username:    cfg.Deck.Username,
		Password:    cfg.Deck.Password,
		BoardID:     cfg.Deck.BoardID,
		Timeout:     cfg.HTTP.Timeout,
		MaxAttempts: cfg.HTTP.MaxAttempts,
	}, append([]deck.Option{deck.WithLogger(logger)}, bo.deckOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("deck client: %w", err)
	}

	dispatcher := events.NewEventDispatcher()
	dispatcher.Register(events.NewLoggingHandler(logger).Registration())

	var audit *storage.FileEventStore
	if cfg.Sync.AuditFile != "" {
		audit, err = storage.NewFileEventStore(cfg.Sync.AuditFile)
		if err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
		dispatcher.Register(events.NewAuditHandler(audit).Registration())
	}

	var notifier *webhook.Notifier
	if len(cfg.Webhooks) > 0 {
		notifier = webhook.NewNotifier(cfg.Webhooks, webhook.NewDeadLetterStore(cfg.Sync.DeadLetterFile), logger)
		dispatcher.Register(events.NewNotifyHandler(notifier).Registration())
	}

	store := storage.NewFileMappingStore(cfg.Sync.MappingFile)
	reconcile := application.NewReconcileService(store, boardClient, tracker,
		application.ReconcileConfig{
			StackID:       cfg.Deck.StackID,
			DoneStackID:   cfg.Deck.DoneStackID,
			ActionLabel:   cfg.Deck.ActionLabel,
			FinishedLabel: cfg.Deck.FinishedLabel,
			DueWindow:     cfg.Sync.DueWindow,
			Comment:       cfg.Sync.Comment,
		},
		application.WithPublisher(dispatcher),
		application.WithLogger(logger),
	)

	return &AppServices{
		Config:     cfg,
		Store:      store,
		QRadar:     tracker,
		Deck:       boardClient,
		Dispatcher: dispatcher,
		Audit:      audit,
		Notifier:   notifier,
		Reconcile:  reconcile,
		Poll:       application.NewPollService(tracker, reconcile, cfg.Sync.Interval, logger),
	}, nil
}

// Close waits for in-flight webhook deliveries.
func (s *AppServices) Close() {
	if s.Notifier != nil {
		s.Notifier.Wait()
	}
}
