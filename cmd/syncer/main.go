package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/eddiefleurent/position_sync/internal/config"
	"github.com/eddiefleurent/position_sync/internal/storage"
	"github.com/eddiefleurent/position_sync/internal/syncer"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	envFile    string
	userID     string
	logLevel   string

	once       bool
	list       bool
	accounts   bool
	audit      bool
	regenerate bool
	lockID     string
	unlockID   string
	strategy   string
	idea       string
	notes      string
}

func newFlagSet(o *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("syncer", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVarP(&o.configPath, "config", "c", "config.yaml", "Path to configuration file")
	fs.StringVar(&o.envFile, "env-file", ".env", "Optional dotenv file loaded before the config is expanded")
	fs.StringVarP(&o.userID, "user", "u", "", "User to sync (overrides sync.user_id)")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level (overrides environment.log_level)")

	fs.BoolVar(&o.once, "once", false, "Run a single sync and exit")
	fs.BoolVar(&o.list, "list", false, "List stored positions and exit")
	fs.BoolVar(&o.accounts, "accounts", false, "List account snapshots and exit")
	fs.BoolVar(&o.audit, "audit", false, "Check stored positions for inconsistencies and exit")
	fs.BoolVar(&o.regenerate, "regenerate-signatures", false, "Recompute stored position signatures and exit")
	fs.StringVar(&o.lockID, "lock", "", "Lock the position with this ID to --strategy")
	fs.StringVar(&o.unlockID, "unlock", "", "Release the manual strategy lock of the position with this ID")
	fs.StringVar(&o.strategy, "strategy", "", "Strategy type for --lock or --idea")
	fs.StringVar(&o.idea, "idea", "", "Record a trade idea on this underlying")
	fs.StringVar(&o.notes, "notes", "", "Notes for --idea")
	return fs
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without the exit, returning the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet(&opts)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.lockID != "" && opts.strategy == "" {
		_, _ = fmt.Fprintln(stderr, "--lock requires --strategy")
		return 2
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		_, _ = fmt.Fprintf(stderr, "Failed to load %s: %v\n", opts.envFile, err)
		return 1
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if opts.logLevel != "" {
		cfg.Environment.LogLevel = opts.logLevel
	}
	userID := cfg.Sync.UserID
	if opts.userID != "" {
		userID = opts.userID
	}

	logger := newLogger(cfg, stderr)
	log := logger.WithField("user", userID)

	store, err := storage.NewStorage(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		log.WithError(err).Error("failed to open storage")
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close storage")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Info("shutdown signal received, stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	cli := &app{cfg: cfg, store: store, logger: logger, userID: userID, out: stdout}
	if err := cli.dispatch(ctx, opts); err != nil {
		log.WithError(err).Error("command failed")
		return 1
	}
	return 0
}

func newLogger(cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(cfg.LogLevel())
	if cfg.Environment.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// newService connects the configured provider and builds the sync service.
// The returned close function disconnects the provider.
func (a *app) newService(ctx context.Context) (*syncer.Service, func(), error) {
	provider, err := buildProvider(a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	if err := provider.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connecting to broker: %w", err)
	}
	closeFn := func() {
		if err := provider.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close broker provider")
		}
	}

	svc, err := syncer.New(provider, a.store, a.logger, syncer.Options{
		AccountHashes:         a.cfg.Broker.AccountHashes,
		MaxConcurrentAccounts: a.cfg.Sync.MaxConcurrentAccounts,
		Detector:              a.cfg.StrategyConfig(),
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}
