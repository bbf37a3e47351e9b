package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/oetiker/auto-ssl/pkg/common"
	"github.com/oetiker/auto-ssl/pkg/manager"
)

// Config holds process settings. Environment variables provide the
// defaults, command line flags override them.
type Config struct {
	ConfigPath  string `env:"AUTO_SSL_CONFIG" envDefault:"config.json"`
	AccountDir  string `env:"AUTO_SSL_ACCOUNT_DIR" envDefault:"account"`
	Environment string `env:"AUTO_SSL_ENV" envDefault:"staging"`
	ACMEServer  string `env:"AUTO_SSL_ACME_SERVER"`
	Email       string `env:"AUTO_SSL_EMAIL"`
	LogLevel    string `env:"AUTO_SSL_LOG_LEVEL"`
	LogFormat   string `env:"AUTO_SSL_LOG_FORMAT"`
	LogFile     string `env:"AUTO_SSL_LOG_FILE"`
	DebugMode   bool   `env:"AUTO_SSL_DEBUG"`

	PrintConfigTemplate bool
	ShowVersion         bool
	Version             string
}

// Application represents the main application with dependency injection
type Application struct {
	config       *Config
	logger       *manager.Logger
	logFile      io.Closer
	deps         *Dependencies
	outcomes     []EntryOutcome
	stdout       io.Writer
	cancelFunc   context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// Defaults used when neither the environment nor a flag sets a value
const (
	DefaultConfigPath = "config.json"
	DefaultAccountDir = "account"
)

// NewApplication creates a new application instance
func NewApplication(version string) *Application {
	return &Application{
		config: &Config{
			ConfigPath:  DefaultConfigPath,
			AccountDir:  DefaultAccountDir,
			Environment: manager.EnvironmentStaging,
			Version:     version,
		},
		stdout: os.Stdout,
		done:   make(chan struct{}),
	}
}

// Config returns the effective settings
func (app *Application) Config() *Config {
	return app.config
}

// SetDependencies replaces the production collaborators (mainly for testing)
func (app *Application) SetDependencies(deps Dependencies) {
	app.deps = &deps
}

// SetOutput redirects template and version output
func (app *Application) SetOutput(w io.Writer) {
	app.stdout = w
}

// Outcomes returns the per-entry results of the last run
func (app *Application) Outcomes() []EntryOutcome {
	return app.outcomes
}

// LoadEnvironment reads an optional .env file and the AUTO_SSL_* variables
func (app *Application) LoadEnvironment(dotenvFiles ...string) error {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return common.WrapError(err, common.ErrorTypeConfig, "load .env", "cannot parse .env file")
	}
	if err := env.Parse(app.config); err != nil {
		return common.WrapError(err, common.ErrorTypeConfig, "load environment", "invalid AUTO_SSL_* environment variable")
	}
	return nil
}

// ParseFlags registers the command line flags on fs, using the current
// settings as defaults, and parses args
func (app *Application) ParseFlags(fs *flag.FlagSet, args []string) error {
	c := app.config
	fs.StringVar(&c.ConfigPath, "config", c.ConfigPath, "Path to the domain configuration file (AUTO_SSL_CONFIG)")
	fs.StringVar(&c.AccountDir, "account-dir", c.AccountDir, "Directory holding ACME accounts, issued certificates and backups (AUTO_SSL_ACCOUNT_DIR)")
	fs.StringVar(&c.Environment, "env", c.Environment, "ACME environment: staging|production (AUTO_SSL_ENV)")
	fs.StringVar(&c.ACMEServer, "acme-server", c.ACMEServer, "Override the ACME directory URL (AUTO_SSL_ACME_SERVER)")
	fs.StringVar(&c.Email, "email", c.Email, "Contact email for new ACME accounts (AUTO_SSL_EMAIL)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Set logging level (debug|info|warn|error|quiet), overrides -debug flag if specified")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Set logging format (go|emoji|color|ascii)")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Append a debug level log to this file (AUTO_SSL_LOG_FILE)")
	fs.BoolVar(&c.DebugMode, "debug", c.DebugMode, "Enable debug logging")
	fs.BoolVar(&c.PrintConfigTemplate, "print-config-template", false, "Print a configuration template to stdout and exit")
	fs.BoolVar(&c.ShowVersion, "version", false, "Show version information and exit")

	fs.Usage = func() { app.printUsage(fs) }
	return fs.Parse(args)
}

func (app *Application) printUsage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintf(out, "Usage: %s [flags]\n", fs.Name())
	fmt.Fprintf(out, "  Renews TLS certificates that are about to expire and deploys them\n")
	fmt.Fprintf(out, "  to Aliyun CDN or a local nginx, as listed in the configuration file.\n\n")
	fmt.Fprintf(out, "Flags:\n")
	fs.PrintDefaults()
}

// HandleVersionFlag handles the version display flag
func (app *Application) HandleVersionFlag() bool {
	if !app.config.ShowVersion {
		return false
	}
	fmt.Fprintf(app.stdout, "auto-ssl %s\n", app.config.Version)
	fmt.Fprintf(app.stdout, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(app.stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return true
}

// HandleConfigTemplate handles the config template printing
func (app *Application) HandleConfigTemplate() (bool, error) {
	if !app.config.PrintConfigTemplate {
		return false, nil
	}
	return true, manager.GenerateDefaultConfig(app.stdout)
}

// ParseLogLevel maps a flag value to a log level
func ParseLogLevel(value string, debug bool) (manager.LogLevel, error) {
	switch strings.ToLower(value) {
	case "":
		if debug {
			return manager.LogLevelDebug, nil
		}
		return manager.LogLevelInfo, nil
	case "debug":
		return manager.LogLevelDebug, nil
	case "info":
		return manager.LogLevelInfo, nil
	case "warn", "warning":
		return manager.LogLevelWarn, nil
	case "error":
		return manager.LogLevelError, nil
	case "quiet":
		return manager.LogLevelQuiet, nil
	default:
		return manager.LogLevelInfo, fmt.Errorf("invalid log level %q", value)
	}
}

// ParseLogFormat maps a flag value to a log format
func ParseLogFormat(value string) (manager.LogFormat, error) {
	switch strings.ToLower(value) {
	case "":
		return manager.LogFormatDefault, nil
	case "go":
		return manager.LogFormatGo, nil
	case "emoji":
		return manager.LogFormatEmoji, nil
	case "color":
		return manager.LogFormatColor, nil
	case "ascii":
		return manager.LogFormatASCII, nil
	default:
		return manager.LogFormatDefault, fmt.Errorf("invalid log format %q", value)
	}
}

// SetupLogger configures the application logger
func (app *Application) SetupLogger() error {
	level, err := ParseLogLevel(app.config.LogLevel, app.config.DebugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v. Using default (info).\n", err)
	}
	format, err := ParseLogFormat(app.config.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v. Using default.\n", err)
	}

	logger := manager.SetupDefaultLogger(level, format)
	if app.config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(app.config.LogFile), manager.DirPermissions); err != nil {
			return common.NewStorageError(err, "create log directory", filepath.Dir(app.config.LogFile))
		}
		// #nosec G302 G304 -- operator chosen log file
		f, err := os.OpenFile(app.config.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
		if err != nil {
			return common.NewStorageError(err, "open log file", app.config.LogFile)
		}
		app.logFile = f
		logger = logger.WithFileSink(f)
	}
	app.logger = logger
	return nil
}

// ValidateSettings checks the process settings that are not part of the
// configuration file
func (app *Application) ValidateSettings() error {
	switch app.config.Environment {
	case manager.EnvironmentStaging, manager.EnvironmentProduction:
		return nil
	default:
		return common.NewValidationError("validate settings",
			fmt.Sprintf("unknown environment %q", app.config.Environment)).
			AddSuggestion("Use -env staging or -env production")
	}
}

// LoadConfiguration loads and validates the domain configuration file
func (app *Application) LoadConfiguration(ctx context.Context) ([]*manager.DomainConfig, error) {
	if common.IsContextCanceled(ctx) {
		return nil, common.GetContextError(ctx, "load configuration")
	}

	absConfigPath, err := filepath.Abs(app.config.ConfigPath)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeConfig, "resolve config path",
			"Failed to resolve absolute path for configuration file").
			AddContext("config_path", app.config.ConfigPath).
			AddSuggestion("Check that the config path is valid and accessible")
	}
	app.config.ConfigPath = absConfigPath

	app.logger.Infof("Loading configuration from %s... (run: %s)", app.config.ConfigPath, common.GetRunID(ctx))
	entries, err := manager.LoadConfig(app.config.ConfigPath)
	if err != nil {
		return nil, err
	}
	app.logger.Infof("Configuration loaded: %d entr%s", len(entries), plural(len(entries), "y", "ies"))
	return entries, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// productionDependencies wires the real prober, issuer and API clients
func (app *Application) productionDependencies() Dependencies {
	registry := manager.NewClientRegistry(nil)
	prober := manager.NewTLSProber()
	return Dependencies{
		Factory: NewComponentFactory(registry, app.logger),
		Prober:  prober,
		Verifier: &manager.Verifier{
			Prober: prober,
			Policy: manager.DefaultVerifyPolicy,
			Logger: app.logger,
		},
		Issuer: &manager.LegoIssuer{
			DirectoryURL: app.config.ACMEServer,
			Email:        app.config.Email,
			Logger:       app.logger,
		},
		Accounts: manager.NewAccountStore(app.config.AccountDir, app.logger),
		Logger:   app.logger,
	}
}

// setupGracefulShutdown sets up signal handling for graceful shutdown
func (app *Application) setupGracefulShutdown(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	app.cancelFunc = cancel

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			if app.logger != nil {
				app.logger.Infof("Received signal %v, finishing after the current step...", sig)
			}
			app.Shutdown()
		case <-ctx.Done():
			app.Shutdown()
		}
	}()

	return ctx
}

// Shutdown gracefully shuts down the application
// This method is safe to call multiple times
func (app *Application) Shutdown() {
	app.shutdownOnce.Do(func() {
		if app.cancelFunc != nil {
			app.cancelFunc()
		}
		if app.logFile != nil {
			_ = app.logFile.Close()
		}
		close(app.done)
	})
}

// WaitForShutdown waits for the application to shutdown
func (app *Application) WaitForShutdown() {
	<-app.done
}

// Run executes one renewal pass. It returns an error only when the run
// could not start, failed entries are reported through Outcomes.
func (app *Application) Run(ctx context.Context) error {
	ctx = app.setupGracefulShutdown(ctx)
	defer app.Shutdown()

	ctx = common.WithRunID(ctx)
	ctx = common.WithOperation(ctx, "renewal_run")

	if app.HandleVersionFlag() {
		return nil
	}
	if handled, err := app.HandleConfigTemplate(); handled {
		return err
	}

	if err := app.SetupLogger(); err != nil {
		return err
	}
	app.logger.Infof("auto-ssl %s", app.config.Version)
	app.logger.Debugf("Starting run %s", common.GetRunID(ctx))

	if err := app.ValidateSettings(); err != nil {
		return err
	}

	entries, err := app.LoadConfiguration(ctx)
	if err != nil {
		return err
	}

	deps := app.productionDependencies()
	if app.deps != nil {
		deps = *app.deps
		if deps.Logger == nil {
			deps.Logger = app.logger
		}
	}

	app.logger.Infof("Using %s environment, accounts in %s", app.config.Environment, app.config.AccountDir)
	app.outcomes = NewRenewalManager(entries, app.config.Environment, deps).Run(ctx)
	return nil
}
