// Command warebridge maintains the realtime session with a warehouse
// management backend: it authenticates, keeps the connection healed with
// bounded backoff, and streams translated backend notices to the log.
//
// Usage:
//
//	warebridge --user-id <user_id> [--entity <name>]
//
// Environment variables:
//
//	WAREBRIDGE_ENDPOINT       - WebSocket URL of the backend (required)
//	WAREBRIDGE_TOKEN          - credential token for the auth handshake (required)
//	WAREBRIDGE_LOCALE         - notice locale (default: en)
//	WAREBRIDGE_MESSAGES_DIR   - directory with the message catalogs
//	WAREBRIDGE_MAX_RECONNECTS - reconnect attempt budget (default: 100)
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warebridge/warebridge/client"
	"github.com/warebridge/warebridge/config"
	"github.com/warebridge/warebridge/dispatch"
	"github.com/warebridge/warebridge/entity"
	"github.com/warebridge/warebridge/notice"
	"github.com/warebridge/warebridge/session"
)

var (
	version = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	userID := flag.String("user-id", "", "Acting user id (required)")
	entityName := flag.String("entity", "", "Entity to list once connected (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("warebridge version %s\n", version)
		return nil
	}

	if *userID == "" {
		return fmt.Errorf("--user-id is required")
	}

	logger, err := newLogger(*debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.New(*userID)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Info("starting warebridge",
		zap.String("version", version),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("user_id", cfg.UserID),
		zap.String("locale", cfg.Locale),
	)

	tables, err := loadTables(cfg.MessagesDir, logger)
	if err != nil {
		return err
	}

	store := session.New(logger.Named("session"))
	translator := notice.NewTranslator(tables, logger.Named("notice"))
	router := dispatch.NewRouter(store, translator, cfg.Locale, logger.Named("dispatch"))

	manager, err := client.New(client.Options{
		Endpoint:      cfg.Endpoint,
		UserID:        cfg.UserID,
		Token:         cfg.Token,
		Store:         store,
		Handler:       router,
		Logger:        logger.Named("client"),
		MaxReconnects: cfg.MaxReconnects,
		ReconnectBase: cfg.ReconnectBase,
		ReconnectCap:  cfg.ReconnectCap,
	})
	if err != nil {
		return fmt.Errorf("failed to create connection manager: %w", err)
	}

	unsubscribe := store.Subscribe(watchSession(logger.Named("session")))
	defer unsubscribe()

	if *entityName != "" {
		entStore, err := entity.New(entity.Options{
			Name:    *entityName,
			UserID:  cfg.UserID,
			Sender:  manager,
			Session: store,
			Logger:  logger.Named("entity"),
		})
		if err != nil {
			return fmt.Errorf("failed to create entity store: %w", err)
		}
		defer entStore.Close()

		defer store.Subscribe(fetchOnceConnected(entStore))()
	}

	manager.Connect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	return manager.Close()
}

// watchSession logs connection transitions and every new notice.
func watchSession(logger *zap.Logger) func(session.Snapshot) {
	var wasConnected bool
	var lastNotice *session.Notice

	return func(s session.Snapshot) {
		if s.Connected != wasConnected {
			wasConnected = s.Connected
			logger.Info("connection status changed", zap.Bool("connected", s.Connected))
		}
		if s.Notice != nil && s.Notice != lastNotice {
			lastNotice = s.Notice
			logger.Info("notice",
				zap.String("severity", string(s.Notice.Severity)),
				zap.String("message", s.Notice.Message),
			)
		}
	}
}

// fetchOnceConnected issues one list request the first time the session
// reports a live connection.
func fetchOnceConnected(store *entity.Store) func(session.Snapshot) {
	fetched := false
	return func(s session.Snapshot) {
		if s.Connected && !fetched {
			fetched = true
			store.FetchAttributes()
			store.Fetch(entity.Query{})
		}
	}
}

// loadTables reads the three message catalogs from dir. An empty dir is
// allowed: translation then degrades to placeholder text.
func loadTables(dir string, logger *zap.Logger) (notice.Tables, error) {
	if dir == "" {
		logger.Warn("no messages directory configured, notices degrade to placeholders")
		return notice.Tables{}, nil
	}

	var tables notice.Tables
	for _, entry := range []struct {
		file    string
		catalog *notice.Catalog
	}{
		{"successMessages.json", &tables.Success},
		{"errorMessages.json", &tables.Error},
		{"warningMessages.json", &tables.Warning},
	} {
		path := filepath.Join(dir, entry.file)
		data, err := os.ReadFile(path)
		if err != nil {
			return notice.Tables{}, fmt.Errorf("read message catalog %s: %w", path, err)
		}
		catalog, err := notice.ParseCatalog(data)
		if err != nil {
			return notice.Tables{}, fmt.Errorf("parse message catalog %s: %w", path, err)
		}
		*entry.catalog = catalog
	}
	return tables, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: debug,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return cfg.Build()
}
