// Gray Logic Comm - field-device communication engine
//
// This is the main entry point of the Gray Logic Comm service. It runs one
// poller per configured field link (KNX via knxd, NTCIP-style signs,
// smart sensors), publishes events, state and health on MQTT, records the
// comm event log in SQLite and serves a read-only status API. An optional
// importer puts automated warning system message files on the signs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-comm/internal/api"
	"github.com/nerrad567/gray-logic-comm/internal/comm"
	"github.com/nerrad567/gray-logic-comm/internal/commands"
	"github.com/nerrad567/gray-logic-comm/internal/events"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-comm/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-comm/internal/jobs"
	"github.com/nerrad567/gray-logic-comm/internal/metrics"
	"github.com/nerrad567/gray-logic-comm/internal/protocols/awsmsg"
	"github.com/nerrad567/gray-logic-comm/internal/protocols/knx"
	"github.com/nerrad567/gray-logic-comm/internal/protocols/ntcip"
	"github.com/nerrad567/gray-logic-comm/internal/protocols/smartsensor"
	"github.com/nerrad567/gray-logic-comm/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds how long pollers get to finish their current
// operation on shutdown.
const shutdownTimeout = 15 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Components are stopped in reverse start order by the deferred calls.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Comm",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.Source()); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// InfluxDB is optional; without it throughput is only kept in memory.
	var influxClient *influxdb.Client
	var metricsWriter metrics.Writer
	var linkMetrics events.LinkMetrics
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metricsWriter, linkMetrics = influxClient, influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	collector := metrics.NewCollector(metricsWriter)
	store := events.NewStore(db)

	recorder := events.NewRecorder(store, 0, log.Component("events"))
	recorder.Start(ctx)
	defer func() {
		log.Info("flushing event log")
		recorder.Stop()
	}()

	publisher := events.NewPublisher(mqttClient, 0, log.Component("publisher"))
	publisher.Start(ctx)
	defer func() {
		log.Info("flushing bus publisher")
		publisher.Stop()
	}()

	hub := api.NewHub(cfg.API.WebSocket, log)
	go hub.Run(ctx)

	manager := comm.NewManager(comm.ManagerDeps{
		Logger:  log.Component("comm"),
		Metrics: collector,
		Events: events.Fanout{
			recorder,
			publisher,
			hub,
			events.LogSink{Logger: log.Component("comm")},
		},
	})
	knxDriver := knx.NewDriver(publisher)
	knxDriver.SetLogger(log.Component("knx"))
	manager.RegisterDriver(knxDriver)
	manager.RegisterDriver(ntcip.NewDriver(publisher))
	manager.RegisterDriver(smartsensor.NewDriver(publisher))
	manager.Start(ctx)
	defer func() {
		log.Info("stopping link pollers")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if stopErr := manager.Shutdown(shutdownCtx); stopErr != nil {
			log.Error("error stopping link pollers", "error", stopErr)
		}
	}()

	if applyErr := manager.Apply(cfg.Comm.LinkSpecs()); applyErr != nil {
		return fmt.Errorf("starting links: %w", applyErr)
	}
	log.Info("links started", "links", len(manager.Links()))

	scheduler := jobs.New(jobs.Config{
		Links:     manager,
		Pruner:    store,
		Retention: cfg.Comm.EventRetention,
		Logger:    log.Component("jobs"),
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if cfg.AWS.Enabled {
		importer := awsmsg.NewImporter(awsmsg.Config{
			Path:       cfg.AWS.Path,
			Interval:   cfg.AWS.Interval,
			ReportPath: cfg.AWS.ReportPath,
			Fonts: awsmsg.Fonts{
				SingleStroke: cfg.AWS.SingleStrokeFont,
				DoubleStroke: cfg.AWS.DoubleStrokeFont,
			},
			Links:  manager,
			Logger: log.Component("aws"),
		})
		importer.Start(ctx)
		defer importer.Stop()
		log.Info("aws message import started", "path", cfg.AWS.Path, "interval", cfg.AWS.Interval.String())
	}

	reporter := events.NewStatusReporter(events.ReporterConfig{
		Interval:  cfg.Comm.StatusInterval,
		Links:     manager,
		Publisher: publisher,
		Snapshots: store,
		Metrics:   linkMetrics,
		Logger:    log.Component("reporter"),
	})
	reporter.Start(ctx)
	defer reporter.Stop()

	cmdHandler := commands.NewHandler(manager, mqttClient, log.Component("commands"))
	if subErr := cmdHandler.Subscribe(); subErr != nil {
		return fmt.Errorf("subscribing to commands: %w", subErr)
	}
	defer func() {
		if unsubErr := cmdHandler.Unsubscribe(); unsubErr != nil {
			log.Warn("error unsubscribing from commands", "error", unsubErr)
		}
	}()

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:    cfg.API,
			Logger:    log,
			Links:     manager,
			Events:    store,
			Metrics:   collector,
			Checks:    checks,
			DB:        db,
			Publisher: publisher,
			Recorder:  recorder,
			Hub:       hub,
			Version:   version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	watchReload(ctx, configPath, log, manager)

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// watchReload blocks until ctx is done, re-reading the configuration on
// every SIGHUP. Only the log level and the links are reloaded; other
// sections need a restart.
func watchReload(ctx context.Context, path string, log *logging.Logger, manager *comm.Manager) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reload(path, log, manager); err != nil {
				log.Error("configuration reload failed", "path", path, "error", err)
				continue
			}
			log.Info("configuration reloaded", "path", path, "links", len(manager.Links()))
		}
	}
}

// reload applies the log level and link set from the configuration file. An
// invalid file leaves everything running as it was.
func reload(path string, log *logging.Logger, manager *comm.Manager) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	log.SetLevel(cfg.Logging.Level)
	return manager.Apply(cfg.Comm.LinkSpecs())
}

func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck checks every component once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	var errs []error
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
