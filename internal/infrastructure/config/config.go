// Package config loads offsync settings from a YAML or TOML file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/offsync/pkg/domain/events"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "offsync.yaml"

// Environment variables that fill credentials and endpoints left blank in the file.
const (
	EnvQRadarURL      = "OFFSYNC_QRADAR_URL"
	EnvQRadarToken    = "OFFSYNC_QRADAR_TOKEN"
	EnvQRadarUsername = "OFFSYNC_QRADAR_USERNAME"
	EnvQRadarPassword = "OFFSYNC_QRADAR_PASSWORD"
	EnvDeckURL        = "OFFSYNC_DECK_URL"
	EnvDeckUsername   = "OFFSYNC_DECK_USERNAME"
	EnvDeckPassword   = "OFFSYNC_DECK_PASSWORD"
)

// Config is the full runtime configuration.
type Config struct {
	QRadar   QRadarConfig             `yaml:"qradar" toml:"qradar"`
	Deck     DeckConfig               `yaml:"deck" toml:"deck"`
	Sync     SyncConfig               `yaml:"sync" toml:"sync"`
	HTTP     HTTPConfig               `yaml:"http" toml:"http"`
	Webhooks []events.WebhookEndpoint `yaml:"webhooks,omitempty" toml:"webhooks"`

	// Path is the file the config was read from, empty for environment-only configs.
	Path string `yaml:"-" toml:"-"`
}

// QRadarConfig addresses the incident tracker.
type QRadarConfig struct {
	URL                string `yaml:"url" toml:"url"`
	Token              string `yaml:"token,omitempty" toml:"token"`
	Username           string `yaml:"username,omitempty" toml:"username"`
	Password           string `yaml:"password,omitempty" toml:"password"`
	APIVersion         string `yaml:"api_version,omitempty" toml:"api_version"`
	Range              string `yaml:"range,omitempty" toml:"range"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" toml:"insecure_skip_verify"`
}

// DeckConfig addresses the board.
type DeckConfig struct {
	URL           string `yaml:"url" toml:"url"`
	Username      string `yaml:"username,omitempty" toml:"username"`
	Password      string `yaml:"password,omitempty" toml:"password"`
	BoardID       int    `yaml:"board_id" toml:"board_id"`
	StackID       int    `yaml:"stack_id" toml:"stack_id"`
	DoneStackID   int    `yaml:"done_stack_id" toml:"done_stack_id"`
	ActionLabel   string `yaml:"action_label,omitempty" toml:"action_label"`
	FinishedLabel string `yaml:"finished_label,omitempty" toml:"finished_label"`
}

// SyncConfig tunes the reconciliation loop.
type SyncConfig struct {
	Interval       time.Duration `yaml:"interval,omitempty" toml:"interval"`
	DueWindow      time.Duration `yaml:"due_window,omitempty" toml:"due_window"`
	Comment        string        `yaml:"comment,omitempty" toml:"comment"`
	MappingFile    string        `yaml:"mapping_file,omitempty" toml:"mapping_file"`
	AuditFile      string        `yaml:"audit_file,omitempty" toml:"audit_file"`
	DeadLetterFile string        `yaml:"dead_letter_file,omitempty" toml:"dead_letter_file"`
}

// HTTPConfig applies to both API clients.
type HTTPConfig struct {
	Timeout     time.Duration `yaml:"timeout,omitempty" toml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts,omitempty" toml:"max_attempts"`
}

// Default returns a config with every optional field set.
func Default() *Config {
	return &Config{
		QRadar: QRadarConfig{
			APIVersion: "12.0",
			Range:      "items=0-49",
		},
		Deck: DeckConfig{
			ActionLabel:   "Action needed",
			FinishedLabel: "Finished",
		},
		Sync: SyncConfig{
			Interval:       20 * time.Second,
			DueWindow:      5 * time.Hour,
			Comment:        "Working on progress... Will update you with the results",
			MappingFile:    "processed_offenses.txt",
			DeadLetterFile: "webhook_dead_letters.jsonl",
		},
		HTTP: HTTPConfig{
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
		},
	}
}

// Load reads path, merges .env and environment values, and fills defaults.
// An empty path builds the config from the environment alone.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
		cfg.Path = path
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	}
	return nil
}

// loadDotEnv reads .env next to the config file and in the working directory.
// Variables already set in the process win. A file that cannot be parsed is logged and skipped.
func loadDotEnv(path string) {
	candidates := []string{".env"}
	if path != "" {
		if local := filepath.Join(filepath.Dir(path), ".env"); local != ".env" {
			candidates = append([]string{local}, candidates...)
		}
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("ignoring unreadable .env file", "path", f, "error", err)
			}
		}
	}
}

func (c *Config) applyEnv() {
	fill(&c.QRadar.URL, EnvQRadarURL)
	fill(&c.QRadar.Token, EnvQRadarToken)
	fill(&c.QRadar.Username, EnvQRadarUsername)
	fill(&c.QRadar.Password, EnvQRadarPassword)
	fill(&c.Deck.URL, EnvDeckURL)
	fill(&c.Deck.Username, EnvDeckUsername)
	fill(&c.Deck.Password, EnvDeckPassword)
}

func fill(dst *string, key string) {
	if *dst != "" {
		return
	}
	*dst = strings.TrimSpace(os.Getenv(key))
}

// applyDefaults restores defaults the file explicitly blanked.
func (c *Config) applyDefaults() {
	d := Default()
	if c.QRadar.APIVersion == "" {
		c.QRadar.APIVersion = d.QRadar.APIVersion
	}
	if c.QRadar.Range == "" {
		c.QRadar.Range = d.QRadar.Range
	}
	if c.Deck.ActionLabel == "" {
		c.Deck.ActionLabel = d.Deck.ActionLabel
	}
	if c.Deck.FinishedLabel == "" {
		c.Deck.FinishedLabel = d.Deck.FinishedLabel
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = d.Sync.Interval
	}
	if c.Sync.DueWindow <= 0 {
		c.Sync.DueWindow = d.Sync.DueWindow
	}
	if c.Sync.Comment == "" {
		c.Sync.Comment = d.Sync.Comment
	}
	if c.Sync.MappingFile == "" {
		c.Sync.MappingFile = d.Sync.MappingFile
	}
	if c.Sync.DeadLetterFile == "" {
		c.Sync.DeadLetterFile = d.Sync.DeadLetterFile
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = d.HTTP.Timeout
	}
	if c.HTTP.MaxAttempts <= 0 {
		c.HTTP.MaxAttempts = d.HTTP.MaxAttempts
	}
}

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid configuration")

// Is allows errors.Is(err, ErrInvalid).
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Validate reports all missing or inconsistent fields at once.
func (c *Config) Validate() error {
	var problems []string
	missing := func(ok bool, name string) {
		if !ok {
			problems = append(problems, name+" is required")
		}
	}

	missing(c.QRadar.URL != "", "qradar.url")
	if c.QRadar.Token == "" && c.QRadar.Username == "" {
		problems = append(problems, "qradar.token or qradar.username is required")
	}
	missing(c.Deck.URL != "", "deck.url")
	missing(c.Deck.Username != "", "deck.username")
	missing(c.Deck.BoardID > 0, "deck.board_id")
	missing(c.Deck.StackID > 0, "deck.stack_id")
	missing(c.Deck.DoneStackID > 0, "deck.done_stack_id")
	if c.Deck.StackID > 0 && c.Deck.StackID == c.Deck.DoneStackID {
		problems = append(problems, "deck.done_stack_id must differ from deck.stack_id")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			problems = append(problems, fmt.Sprintf("webhooks[%d].url is required", i))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
