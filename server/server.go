// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the sidecar's management API: analysis, rule
// and tool administration, cost and budget queries, settings and proxy
// control.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"sentryvolt/sidecar/analyzer"
	"sentryvolt/sidecar/cost"
	"sentryvolt/sidecar/events"
	"sentryvolt/sidecar/metrics"
	"sentryvolt/sidecar/proxy"
	"sentryvolt/sidecar/settings"
	"sentryvolt/sidecar/shared/logger"
	"sentryvolt/sidecar/shared/paths"
	"sentryvolt/sidecar/store"
	"sentryvolt/sidecar/tools"
)

// Version is stamped at build time.
var Version = "dev"

// Server wires every component behind the management API.
type Server struct {
	store      *store.Store
	analyzer   *analyzer.Analyzer
	rules      *analyzer.RulesRepository
	tools      *tools.Repository
	engine     *tools.Engine
	events     *events.Repository
	costs      *cost.Repository
	guardian   *cost.Guardian
	recorder   *cost.Recorder
	pricing    *cost.PricingCache
	settings   *settings.Repository
	configFile *settings.FileManager
	controller *proxy.Controller
	writer     *proxy.Writer
	cloud      *CloudClient
	log        *logger.Logger
}

// New assembles a server over an open store. rulesDir points at the
// bundled community rules; cfg carries the file-level sections that are
// not persisted in the settings table.
func New(s *store.Store, rulesDir string, cfg settings.Config, configFile *settings.FileManager) *Server {
	rulesRepo := analyzer.NewRulesRepository(s)
	az := analyzer.New(rulesRepo, rulesDir)
	toolsRepo := tools.NewRepository(s)
	costRepo := cost.NewRepository(s)
	pricingCache := cost.NewPricingCache(costRepo)
	recorder := cost.NewRecorder(costRepo, pricingCache)
	guardian := cost.NewGuardian(costRepo)
	eventRepo := events.NewRepository(s)
	settingsRepo := settings.NewRepository(s)
	writer := proxy.NewWriter(256)
	engine := tools.NewEngine(toolsRepo)

	settingsRow, err := settingsRepo.Get(context.Background())
	storeText := true
	if err == nil {
		storeText = settingsRow.StoreText
	}

	p := proxy.New(proxy.Options{
		BlockMode:     cfg.Security.BlockMode,
		ScanRequests:  true,
		ScanResponses: cfg.Security.OutputScan,
		StoreText:     storeText,
	}, az, engine, guardian, recorder, eventRepo, writer)

	return &Server{
		store:      s,
		analyzer:   az,
		rules:      rulesRepo,
		tools:      toolsRepo,
		engine:     engine,
		events:     eventRepo,
		costs:      costRepo,
		guardian:   guardian,
		recorder:   recorder,
		pricing:    pricingCache,
		settings:   settingsRepo,
		configFile: configFile,
		controller: proxy.NewController(p),
		writer:     writer,
		cloud:      NewCloudClient(settingsRepo),
		log:        logger.New("server"),
	}
}

// Routes builds the management router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	r.HandleFunc("/api/threat-analytics/", s.handleThreatAnalytics).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/threat-intel", s.handleListEvents).Methods("GET")
	r.HandleFunc("/api/threat-intel/{id}", s.handleGetEvent).Methods("GET")
	r.HandleFunc("/api/threat-intel/{id}/review", s.handleReviewEvent).Methods("POST")

	r.HandleFunc("/api/rules", s.handleListRules).Methods("GET")
	r.HandleFunc("/api/rules", s.handleCreateRule).Methods("POST")
	r.HandleFunc("/api/rules/generate", s.handleGenerateRule).Methods("POST")
	r.HandleFunc("/api/rules/{id}", s.handleGetRule).Methods("GET")
	r.HandleFunc("/api/rules/{id}", s.handleUpdateRule).Methods("PUT")
	r.HandleFunc("/api/rules/{id}", s.handleDeleteRule).Methods("DELETE")
	r.HandleFunc("/api/rules/{id}/override", s.handleUpsertRuleOverride).Methods("PUT")
	r.HandleFunc("/api/rules/{id}/override", s.handleDeleteRuleOverride).Methods("DELETE")

	r.HandleFunc("/api/tools", s.handleListTools).Methods("GET")
	r.HandleFunc("/api/tools/custom", s.handleListCustomTools).Methods("GET")
	r.HandleFunc("/api/tools/custom", s.handleCreateCustomTool).Methods("POST")
	r.HandleFunc("/api/tools/custom/{id}", s.handleDeleteCustomTool).Methods("DELETE")
	r.HandleFunc("/api/tools/{id}/override", s.handleUpsertToolOverride).Methods("PUT")
	r.HandleFunc("/api/tools/{id}/override", s.handleDeleteToolOverride).Methods("DELETE")

	r.HandleFunc("/api/pricing", s.handleListPricing).Methods("GET")
	r.HandleFunc("/api/pricing", s.handleUpsertPricing).Methods("PUT")
	r.HandleFunc("/api/pricing/{provider}/{model}", s.handleDeletePricing).Methods("DELETE")

	r.HandleFunc("/api/budgets", s.handleListBudgets).Methods("GET")
	r.HandleFunc("/api/budgets/{scope}", s.handleGetBudget).Methods("GET")
	r.HandleFunc("/api/budgets/{scope}", s.handleUpsertBudget).Methods("PUT")
	r.HandleFunc("/api/budgets/{scope}", s.handleDeleteBudget).Methods("DELETE")

	r.HandleFunc("/api/costs", s.handleListCosts).Methods("GET")
	r.HandleFunc("/api/costs/summary", s.handleCostSummary).Methods("GET")

	r.HandleFunc("/api/settings", s.handleGetSettings).Methods("GET")
	r.HandleFunc("/api/settings", s.handleUpdateSettings).Methods("PUT")
	r.HandleFunc("/api/settings/cloud/credentials", s.handleCloudCredentials).Methods("POST")

	r.HandleFunc("/proxy/status", s.handleProxyStatus).Methods("GET")
	r.HandleFunc("/proxy/start", s.handleProxyStart).Methods("POST")
	r.HandleFunc("/proxy/stop", s.handleProxyStop).Methods("POST", "DELETE")
	r.HandleFunc("/proxy/providers", s.handleProxyProviders).Methods("GET")

	return r
}

// Handler wraps the router with CORS restricted to the configured
// local origin. The sidecar serves a single trusted local user; no
// other browser origin may call the API.
func (s *Server) Handler(host string, port int) http.Handler {
	origin := fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	c := cors.New(cors.Options{
		AllowedOrigins: []string{origin, "http://localhost:" + fmt.Sprintf("%d", port)},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.Routes())
}

// Run is the sidecar entry point: open the store, reconcile config,
// start the janitor, proxy and management listener, and block until a
// shutdown signal.
func Run() error {
	metrics.Register()
	log := logger.New("sidecar")

	if envPath, err := paths.EnvPath(); err == nil {
		_ = godotenv.Load(envPath)
	}

	dbPath, err := paths.DatabasePath()
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	configPath, err := paths.ConfigPath()
	if err != nil {
		return err
	}
	settingsRepo := settings.NewRepository(st)
	costRepo := cost.NewRepository(st)
	configFile := settings.NewFileManager(configPath, settingsRepo, costRepo)
	cfg, err := configFile.Sync(context.Background())
	if err != nil {
		return fmt.Errorf("failed to reconcile config file: %w", err)
	}

	rulesDir, err := paths.RulesDir()
	if err != nil {
		return err
	}
	srv := New(st, rulesDir, *cfg, configFile)
	if err := srv.analyzer.EnsureLoaded(context.Background()); err != nil {
		log.Errorf("", "", "Rule bootstrap failed, continuing with empty rule set", err, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := settings.NewWatcher(configFile, nil)
	if err != nil {
		log.Errorf("", "", "Config watcher unavailable", err, nil)
	} else {
		go watcher.Run(ctx)
	}
	go srv.runJanitor(ctx)

	if cfg.Proxy.Integration {
		if err := srv.controller.Start(cfg.Proxy.Host, cfg.Proxy.Port); err != nil {
			log.Errorf("", "", "Proxy failed to start", err, nil)
		}
	}

	row, err := settingsRepo.Get(ctx)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(row.Host, fmt.Sprintf("%d", row.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(row.Host, row.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("", "", "Management API listening", map[string]interface{}{"addr": addr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.controller.Stop(shutdownCtx)
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.writer.Close(5 * time.Second)
	return nil
}

// --- response helpers ---

func respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

func respondError(w http.ResponseWriter, status int, kind, message string, detail interface{}) {
	respond(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message, Detail: detail}})
}

func contentDigest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON", err.Error())
		return false
	}
	return true
}

// decodeOptionalBody tolerates an empty body.
func decodeOptionalBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}
