package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/interconnecthub/console/internal/auth"
	"github.com/interconnecthub/console/internal/blobstore"
	"github.com/interconnecthub/console/internal/config"
	"github.com/interconnecthub/console/internal/database"
	"github.com/interconnecthub/console/internal/formats"
	"github.com/interconnecthub/console/internal/identity"
	"github.com/interconnecthub/console/internal/logging"
	"github.com/interconnecthub/console/internal/mappings"
	"github.com/interconnecthub/console/internal/pipeline"
	"github.com/interconnecthub/console/internal/scripts"
	"github.com/interconnecthub/console/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hub-api",
		Short: "InterconnectHub management API service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().Int("log-retention-days", defaults.GetInt("pipeline.log_retention_days"), "Pipeline execution log retention in days")
	cmd.PersistentFlags().String("transform-function", defaults.GetString("pipeline.transform_function"), "Schema transform processor function")
	cmd.PersistentFlags().String("billing-queue", defaults.GetString("pipeline.billing_queue"), "Billing message queue")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "pipeline.log_retention_days", "log-retention-days")
	bindFlag(cmd, "pipeline.transform_function", "transform-function")
	bindFlag(cmd, "pipeline.billing_queue", "billing-queue")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        "hub-auth",
		Audience:      "hub-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	identityService, err := identity.NewService(identity.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	contentStore, err := blobstore.NewSQLStore(blobstore.SQLStoreConfig{Database: db})
	if err != nil {
		return err
	}

	scriptRecords, err := scripts.NewSQLRecordStore(db)
	if err != nil {
		return err
	}
	scriptService, err := scripts.NewService(scripts.ServiceConfig{
		Records:    scriptRecords,
		Content:    contentStore,
		Clock:      time.Now,
		IDProvider: scripts.NewShortIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	formatRegistry, err := formats.NewRegistry(formats.RegistryConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	compiler, err := pipeline.NewCompiler(pipeline.CompilerConfig{
		Formats:           formatRegistry,
		TransformFunction: appConfig.TransformFunction,
		BillingQueue:      appConfig.BillingQueue,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	workflowEngine, err := pipeline.NewSQLEngine(db, time.Now)
	if err != nil {
		return err
	}
	deployer, err := pipeline.NewDeployer(pipeline.DeployerConfig{
		Compiler:      compiler,
		Engine:        workflowEngine,
		Logs:          workflowEngine,
		RetentionDays: appConfig.LogRetentionDays,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	mappingRecords, err := mappings.NewSQLRecordStore(db)
	if err != nil {
		return err
	}
	mappingService, err := mappings.NewService(mappings.ServiceConfig{
		Records:  mappingRecords,
		Deployer: deployer,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:   tokenIssuer,
		Identity: identityService,
		Scripts:  scriptService,
		Mappings: mappingService,
		Formats:  formatRegistry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
