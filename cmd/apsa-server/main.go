package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/apsa/backend/internal/config"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/database"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/journal"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/apsa/backend/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "apsa-server",
		Short: "Presence and shared activity server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newWatchCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.Flags().String("http-address", defaults.GetString("http.address"), "HTTP and websocket listen address")
	cmd.Flags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.Flags().Duration("sweep-interval", defaults.GetDuration("presence.sweep_interval"), "Heartbeat sweep period")
	cmd.Flags().Duration("heartbeat-timeout", defaults.GetDuration("presence.heartbeat_timeout"), "Silence after which a connection is evicted")
	cmd.Flags().String("journal-path", defaults.GetString("journal.database_path"), "SQLite file for the event journal (empty keeps it in memory)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "presence.sweep_interval", "sweep-interval")
	bindFlag(cmd, "presence.heartbeat_timeout", "heartbeat-timeout")
	bindFlag(cmd, "journal.database_path", "journal-path")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("apsa")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	pool, err := appConfig.IdentityPool()
	if err != nil {
		return err
	}

	db, err := database.OpenSQLite(appConfig.JournalPath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	journalService, err := journal.NewService(journal.ServiceConfig{
		Database:   db,
		IDProvider: journal.NewUUIDProvider(),
		Clock:      time.Now,
		Logger:     logger,
		Buffer:     appConfig.JournalBuffer,
	})
	if err != nil {
		return err
	}
	defer journalService.Close()

	metrics := server.NewMetrics()
	hub, err := server.NewHub(server.HubConfig{
		Identities:     pool,
		Tracker:        presence.NewTracker(appConfig.SweepInterval, appConfig.HeartbeatTimeout),
		Clock:          time.Now,
		Logger:         logger,
		Metrics:        metrics,
		Journal:        journalService,
		OutboundBuffer: appConfig.OutboundBuffer,
		WriteTimeout:   appConfig.WriteTimeout,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Hub:     hub,
		Journal: journalService,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = hub.Run(hubCtx)
	}()
	defer func() {
		stopHub()
		<-hubDone
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
