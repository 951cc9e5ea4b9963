// Package cli provides the workspace engine daemon's command-line
// entry point: configuration loading, service construction, and
// lifecycle management for the DVU coordinator and action scheduler.
//
// Grounded on cli/root.go's cobra+viper bootstrap shape (persistent
// flags bound to viper keys, config-file discovery, background server
// goroutine with signal-driven graceful shutdown), retargeted from the
// teacher's RabbitMQ/CouchDB/JWT/echo-API wiring to this engine's own
// bus/relstore/coordinator/scheduler/executor stack — the user-facing
// HTTP API is out of scope per spec.md §1, so the echo server here only
// serves operational health checks.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/systeminit/workspace-engine/bus"
	"github.com/systeminit/workspace-engine/config"
	"github.com/systeminit/workspace-engine/coordinator"
	"github.com/systeminit/workspace-engine/engine"
	"github.com/systeminit/workspace-engine/executor"
	"github.com/systeminit/workspace-engine/relstore"
	"github.com/systeminit/workspace-engine/scheduler"
	"github.com/systeminit/workspace-engine/snapshot"
)

// cfgFile holds the path to the configuration file specified via the
// --config flag; empty means search the default locations.
var cfgFile string

// RootCmd is the workspace engine daemon's entry point: it loads
// configuration, wires the coordinator and scheduler against a
// relstore-backed Postgres connection and an AMQP bus, and runs until a
// shutdown signal arrives.
var RootCmd = &cobra.Command{
	Use:   "workspace-engined",
	Short: "runs the workspace modeling engine's DVU coordinator and action scheduler",
	Long: `workspace-engined hosts the System Initiative workspace engine's
runtime: the dependent-value-update coordinator that propagates derived
attribute values through a change set's snapshot graph, and the action
scheduler that executes side-effecting operations in dependency order.

Configuration is read from environment variables (WORKSPACE_ENGINE_*);
the command-line flags override their matching variables. A YAML
configuration file, if found, is loaded by viper but its values are not
used.`,
	Run: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.workspace-engine.yaml)")
	RootCmd.PersistentFlags().String("port", "", "operational HTTP server port")
	RootCmd.PersistentFlags().String("postgres-conn-string", "", "Postgres connection string")
	RootCmd.PersistentFlags().String("bus-url", "", "AMQP bus connection URL")
	RootCmd.PersistentFlags().String("executor-transport", "", "function executor transport (http|command)")
}

// flagOverrides maps each persistent flag to the environment variable
// config.ConfigLoader reads, so a flag set on the command line takes
// precedence over an already-exported environment variable without
// config/config.go needing to know about viper or cobra.
var flagOverrides = map[string]string{
	"port":                 "WORKSPACE_ENGINE_PORT",
	"postgres-conn-string": "WORKSPACE_ENGINE_POSTGRES_CONN_STRING",
	"bus-url":              "WORKSPACE_ENGINE_BUS_URL",
	"executor-transport":   "WORKSPACE_ENGINE_EXECUTOR_TRANSPORT",
}

func applyFlagOverrides(cmd *cobra.Command) {
	for flag, envVar := range flagOverrides {
		if value, err := cmd.Flags().GetString(flag); err == nil && value != "" {
			os.Setenv(envVar, value)
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".workspace-engine")
	}

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// runServer loads configuration, constructs every daemon collaborator,
// starts the coordinator and dispatch loop, and blocks until SIGINT or
// SIGTERM triggers a graceful shutdown.
func runServer(cmd *cobra.Command, args []string) {
	applyFlagOverrides(cmd)

	cfg, err := config.NewConfigLoader("WORKSPACE_ENGINE").LoadAll()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}

	logger := newLogger(*cfg)

	store, err := relstore.New(context.Background(), cfg.Postgres.ConnString)
	if err != nil {
		logger.WithError(err).Fatal("connect to postgres")
	}
	defer store.Close()

	b, err := bus.NewAMQPBus(cfg.Bus.URL, cfg.Bus.Exchange)
	if err != nil {
		logger.WithError(err).Fatal("connect to bus")
	}
	defer b.Close()

	coord := coordinator.New(coordinator.Config{
		Bus:         b,
		Logger:      logger.WithField("component", "coordinator"),
		IdleTimeout: cfg.Coordinator.IdleTimeout,
	})

	// snapshotStoreLabel identifies the daemon's single shared snapshot
	// graph in the bbolt-backed quad store; every change set's apply
	// checkpoints the same label since this process operates one
	// in-memory graph rather than one per change set.
	const snapshotStoreLabel = "workspace"

	snapStore, err := snapshot.OpenStore(cfg.SnapshotStore.Path)
	if err != nil {
		logger.WithError(err).Fatal("open snapshot store")
	}
	defer snapStore.Close()

	// The snapshot graph the daemon dispatches actions against, hydrated
	// from the durable quad store on startup (spec.md §4.2's durability
	// guarantee) and checkpointed back to it every time a change set's
	// apply completes.
	graph, err := snapStore.Load(snapshotStoreLabel)
	if err != nil {
		logger.WithError(err).Fatal("hydrate snapshot graph")
	}

	coord.Phases().OnPhaseChanged(func(state *coordinator.PhaseState) {
		if state.Phase != coordinator.PhaseApplied {
			return
		}
		if err := snapStore.Save(snapshotStoreLabel, graph); err != nil {
			logger.WithError(err).WithField("change_set", state.ChangeSetID).Warn("checkpoint snapshot after apply")
		}
	})

	transport, err := newExecutorTransport(cfg.Executor)
	if err != nil {
		logger.WithError(err).Fatal("configure function executor transport")
	}
	exec := executor.New(transport)

	registry := scheduler.NewRegistry()
	handler := engine.NewActionHandler(graph, exec)
	for _, kind := range []scheduler.Kind{scheduler.KindCreate, scheduler.KindUpdate, scheduler.KindRefresh, scheduler.KindDestroy} {
		registry.MustRegister(kind, handler)
	}

	graphArgs := engine.NewGraphArgs(graph)
	sched := scheduler.New(store, registry, graphArgs.ArgsFor, graphArgs, logger.WithField("component", "scheduler"))

	coordCtx, cancelCoord := context.WithCancel(context.Background())
	go func() {
		if err := coord.Run(coordCtx); err != nil {
			logger.WithError(err).Error("coordinator run loop exited")
		}
	}()

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	go engine.DispatchLoop(dispatchCtx, sched, store, cfg.Scheduler.Concurrency, logger.WithField("component", "dispatch"))

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.WithField("addr", addr).Info("operational server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("operational server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("operational server shutdown")
	}

	cancelDispatch()
	coord.Shutdown()
	cancelCoord()
	exec.CancelAll()

	if err := snapStore.Save(snapshotStoreLabel, graph); err != nil {
		logger.WithError(err).Warn("final snapshot checkpoint")
	}
}

func newExecutorTransport(cfg config.ExecutorConfig) (executor.Transport, error) {
	switch cfg.Transport {
	case "command":
		return executor.NewCommandTransport(cfg.CommandPath), nil
	case "http", "":
		return executor.NewHTTPTransport(cfg.HTTPURL), nil
	default:
		return nil, fmt.Errorf("unknown executor transport %q", cfg.Transport)
	}
}

func newLogger(cfg config.AllConfig) *logrus.Entry {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Service.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.Service.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log.WithField("service", cfg.Service.Name)
}
