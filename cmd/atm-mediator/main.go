// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Command atm-mediator runs the DIDComm v2 mediator process: it composes
// the envelope engine, routing, pickup, live delivery, authentication, and
// admin packages into one HTTP/WS listener.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/didcomm-mediator/atm/acl"
	"github.com/didcomm-mediator/atm/admin"
	"github.com/didcomm-mediator/atm/auth"
	"github.com/didcomm-mediator/atm/config"
	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/health"
	"github.com/didcomm-mediator/atm/internal/logger"
	"github.com/didcomm-mediator/atm/internal/metrics"
	"github.com/didcomm-mediator/atm/keyregistry"
	"github.com/didcomm-mediator/atm/live"
	"github.com/didcomm-mediator/atm/pickup"
	"github.com/didcomm-mediator/atm/router"
	"github.com/didcomm-mediator/atm/stats"
	"github.com/didcomm-mediator/atm/transport/ws"
)

var rootCmd = &cobra.Command{
	Use:   "atm-mediator",
	Short: "DIDComm v2 mediator",
}

var (
	serveConfigPath   string
	serveIdentityPath string
	serveEnvPath      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mediator's HTTP/WS listener until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), serveConfigPath, serveIdentityPath, serveEnvPath)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config.yaml", "path to the mediator config file")
	serveCmd.Flags().StringVar(&serveIdentityPath, "identity", "identity.json", "path to this mediator's identity file")
	serveCmd.Flags().StringVar(&serveEnvPath, "env-file", "", "optional .env file to load before reading --config")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath, identityPath, envPath string) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.Logging)
	logger.SetDefaultLogger(log)

	id, err := loadIdentity(identityPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	network := newHTTPResolver(cfg.DIDResolver, log)
	resolver := &selfResolver{selfDID: id.did, selfDoc: id.doc, fallback: network}
	registry := keyregistry.New(resolver)

	engine := &envelope.Engine{
		Registry:                registry,
		Secrets:                 id,
		CryptoOperationsLimit:   cfg.Limits.CryptoOperationsPerMessage,
		ToKeysPerRecipientLimit: cfg.Limits.ToKeysPerRecipient,
	}
	rt := &router.Router{Engine: engine, LocalDID: id.did}
	engine.Forward = rt
	engine.Builder = rt

	queueStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	aclMode := acl.ModeExplicitAllow
	if cfg.Security.ACLMode == config.ACLModeExplicitDeny {
		aclMode = acl.ModeExplicitDeny
	}
	adminSvc := &admin.Service{
		Accounts:    admin.NewMemoryStore(),
		Queue:       queueStore,
		Mode:        aclMode,
		LocalMaxACL: cfg.Limits.LocalMaxACL,
	}
	if cfg.Server.AdminDID != "" {
		bootstrapRootAdmin(ctx, adminSvc, cfg.Server.AdminDID)
	}

	liveManager := live.NewManager(cfg.Streaming.UUID)

	sessionAuth := auth.NewSessionAuth(engine, id.did, cfg.Security.JWTAuthorizationSecret,
		cfg.Security.JWTAccessExpiry, cfg.Security.JWTRefreshExpiry)

	pickupHandler := &pickup.Handler{
		Store:        queueStore,
		MediatorDID:  id.did,
		ListedLimit:  cfg.Limits.ListedMessages,
		LiveDelivery: liveManager,
	}

	dispatcher := NewDispatcher()
	dispatcher.Engine = engine
	dispatcher.Pickup = pickupHandler
	dispatcher.Admin = adminSvc
	dispatcher.Live = liveManager
	dispatcher.MediatorDID = id.did
	dispatcher.Logger = log
	if cfg.Limits.MessageExpiryMinutes > 0 {
		dispatcher.MessageExpiry = time.Duration(cfg.Limits.MessageExpiryMinutes) * time.Minute
	}

	wsServer := &ws.Server{
		Dispatcher:   dispatcher,
		OnConnect:    dispatcher.OnConnect,
		MaxFrameSize: int64(cfg.Limits.WSSize),
		Logger:       log,
	}

	collector := metrics.NewCollector()
	statsTask := &stats.Task{
		Collector: collector,
		Queue:     queueStore,
		Logger:    log,
	}
	checker := health.NewHealthChecker(5 * time.Second)
	checker.SetLogger(log)
	statsServer := &stats.Server{Task: statsTask, Checker: checker}

	restAPI := &restAPI{
		Auth:       sessionAuth,
		Admin:      adminSvc,
		Dispatcher: dispatcher,
		WS:         wsServer,
		ACLMode:    aclMode,
		Logger:     log,
	}

	mux := http.NewServeMux()
	prefix := cfg.Server.APIPrefix
	restAPI.Mount(mux, prefix)
	mux.Handle("/", statsServer.Handler())

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: mux,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go statsTask.Run(runCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("mediator: listening", logger.String("address", cfg.Server.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-runCtx.Done():
		log.Info("mediator: shutting down")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// bootstrapRootAdmin ensures cfg.Server.AdminDID has a RootAdmin account on
// process start, the way operators normally only get in by already holding
// one: without this the first RootAdmin would have no actor account to
// authorize its own creation through admin.Service's role checks.
func bootstrapRootAdmin(ctx context.Context, svc *admin.Service, adminDID string) {
	didHash := acl.DIDHash(adminDID)
	if _, ok, _ := svc.Accounts.Get(ctx, didHash); ok {
		return
	}
	_ = svc.Accounts.Put(ctx, admin.Account{DIDHash: didHash, Type: admin.AccountTypeRootAdmin})
}

func newLogger(cfg config.LoggingConfig) *logger.StructuredLogger {
	level := logger.InfoLevel
	switch cfg.Level {
	case "debug", "DEBUG":
		level = logger.DebugLevel
	case "warn", "WARN":
		level = logger.WarnLevel
	case "error", "ERROR":
		level = logger.ErrorLevel
	}
	output := os.Stdout
	return logger.NewLogger(output, level)
}
