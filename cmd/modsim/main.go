// Modbus field-device simulator.
//
// modsim serves one simulated device over a Modbus transport (serial, tcp,
// udp or tls) and exposes an HTTP server for inspection and control. The
// server and device are selected by name from a setup document.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-modsim/internal/journal"
	"github.com/nerrad567/gray-logic-modsim/internal/simulator"
	"github.com/nerrad567/gray-logic-modsim/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is used when it exists and no path is given.
const defaultConfigPath = "configs/modsim.yaml"

// options are the command line flags.
type options struct {
	configPath    string
	setupFile     string
	server        string
	device        string
	customActions string
	httpHost      string
	httpPort      int
	logFile       string
	logLevel      string

	// changed reports whether a flag was set explicitly.
	changed func(name string) bool
}

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "modsim",
		Short:         "Simulate a Modbus field device",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.changed = cmd.Flags().Changed
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "application config file (env MODSIM_CONFIG, default "+defaultConfigPath+" if present)")
	f.StringVar(&opts.setupFile, "setup", "setup.json", "setup document with server_list and device_list")
	f.StringVar(&opts.server, "server", "server", "server profile to run")
	f.StringVar(&opts.device, "device", "device", "device profile to simulate")
	f.StringVar(&opts.customActions, "custom-actions", "", "registered custom action table")
	f.StringVar(&opts.httpHost, "http-host", "localhost", "HTTP listen host")
	f.IntVar(&opts.httpPort, "http-port", 8080, "HTTP listen port")
	f.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stdout")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modsim %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command line flags
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts *options) error {
	configPath := resolveConfigPath(opts.configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}

	log, err := logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("opening log output: %w", err)
	}
	defer log.Close() //nolint:errcheck // Nothing left to log to
	log.Info("starting modsim",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	instance := cfg.Simulator.ID
	if instance == "" {
		instance = uuid.NewString()
	}
	// The setup document is validated before any sink connects.
	sim, err := simulator.New(simulator.Options{
		Config:   cfg,
		Logger:   log,
		Instance: instance,
		Version:  version,
	})
	if err != nil {
		return err
	}
	var sinks simulator.Attachments

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, instance)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		client.SetLogger(log)
		client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
		sinks.MQTT = client
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB, instance)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := client.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		client.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		sinks.Influx = client
	}

	if cfg.Journal.Enabled {
		repo, closeJournal, err := openJournal(ctx, cfg.Journal)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := closeJournal(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		log.Info("journal opened", "path", cfg.Journal.Path)
		sinks.Journal = repo
	}

	if err := sim.Attach(sinks); err != nil {
		return err
	}
	err = sim.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("modsim stopped")
	return err
}

// openJournal opens and migrates the journal database.
func openJournal(ctx context.Context, cfg config.JournalConfig) (journal.Repository, func() error, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Migration error is reported
		return nil, nil, fmt.Errorf("migrating journal: %w", err)
	}
	return journal.NewSQLiteRepository(db.DB), db.Close, nil
}

// resolveConfigPath returns the config file to load: the flag, then
// MODSIM_CONFIG, then the default path if it exists. "" means defaults only.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("MODSIM_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// applyFlags overrides config values with flags that were set explicitly.
func applyFlags(cfg *config.Config, opts *options) {
	changed := opts.changed
	if changed == nil {
		changed = func(string) bool { return false }
	}
	if changed("setup") {
		cfg.Simulator.SetupFile = opts.setupFile
	}
	if changed("server") {
		cfg.Simulator.Server = opts.server
	}
	if changed("device") {
		cfg.Simulator.Device = opts.device
	}
	if changed("custom-actions") {
		cfg.Simulator.CustomActions = opts.customActions
	}
	if changed("http-host") {
		cfg.HTTP.Host = opts.httpHost
	}
	if changed("http-port") {
		cfg.HTTP.Port = opts.httpPort
	}
	if changed("log-file") {
		cfg.Logging.Output = "file"
		cfg.Logging.File.Path = opts.logFile
	}
	if changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
}
