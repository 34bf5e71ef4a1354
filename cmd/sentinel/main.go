// Sentinel - Fraud detection for fuel retail operations.
// Copyright (c) 2025 FuelOps
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fuelops/sentinel/internal/accuracy"
	"github.com/fuelops/sentinel/internal/alert"
	"github.com/fuelops/sentinel/internal/analyzer"
	"github.com/fuelops/sentinel/internal/api"
	"github.com/fuelops/sentinel/internal/bus"
	"github.com/fuelops/sentinel/internal/cache"
	"github.com/fuelops/sentinel/internal/cases"
	"github.com/fuelops/sentinel/internal/combiner"
	"github.com/fuelops/sentinel/internal/domain"
	"github.com/fuelops/sentinel/internal/engine"
	"github.com/fuelops/sentinel/internal/feature"
	"github.com/fuelops/sentinel/internal/monitor"
	"github.com/fuelops/sentinel/internal/provider"
	"github.com/fuelops/sentinel/internal/repository"
	"github.com/fuelops/sentinel/internal/velocity"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("SENTINEL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("SENTINEL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(cacheImpl, velocity.DefaultWindow, logger)
	slog.Info("velocity service initialized", "window", velocitySvc.Window())

	// Initialize Rule Provider with velocity getter
	ruleProvider, err := provider.NewRuleProvider(velocitySvc.CandidateCount)
	if err != nil {
		slog.Error("failed to initialize rule provider", "error", err)
		os.Exit(1)
	}

	// Load rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, ruleProvider); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule provider initialized", "rules_count", ruleProvider.RulesCount())

	// Initialize Pattern Provider
	patternProvider := provider.NewPatternProvider()

	// Load known fraud patterns from database (no hardcoded defaults)
	if err := loadPatternsFromDatabase(ctx, repo, patternProvider); err != nil {
		slog.Error("failed to load patterns", "error", err)
		os.Exit(1)
	}
	slog.Info("pattern provider initialized", "pattern_count", patternProvider.PatternCount())

	// Initialize Provider Registry with the per-domain signal stacks
	registry := provider.NewRegistry()
	registerProviders(registry, ruleProvider, patternProvider, velocitySvc, cacheImpl)
	slog.Info("signal providers registered", "providers", len(registry.Status()))

	// Initialize Case Manager
	caseMgr := cases.NewManager(repo, cfg.Detection.Thresholds, logger)

	// Initialize Alert Dispatcher
	dispatcher := alert.NewDispatcher(busImpl, logger)

	// Initialize Detection Engine
	eng := engine.New(
		feature.NewExtractor(),
		registry,
		combiner.New(),
		caseMgr,
		dispatcher,
		cfg.Detection.ProviderTimeout,
		logger,
	)

	// Initialize Accuracy Tracker
	tracker := accuracy.NewTracker(repo, cfg.Detection.AccuracyWindow, logger)
	go tracker.Run(ctx, 5*time.Minute)

	// Initialize monitoring scheduler over the event bus sources
	scheduler := monitor.NewScheduler(eng, logger)
	if err := addBusSources(ctx, scheduler, busImpl, cfg.Monitor); err != nil {
		slog.Error("failed to wire monitoring sources", "error", err)
		os.Exit(1)
	}
	scheduler.Start(ctx)
	slog.Info("monitoring scheduler started",
		"pump_interval", cfg.Monitor.PumpInterval,
		"driver_interval", cfg.Monitor.DriverInterval,
		"inventory_interval", cfg.Monitor.InventoryInterval,
	)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, caseMgr, registry, tracker, ruleProvider, patternProvider, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("sentinel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop polling before the server so in-flight evaluations drain
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("sentinel shutdown complete")
}

// registerProviders wires the per-domain signal stacks. The rule and
// pattern providers are shared (they select by candidate domain); the
// statistical and ensemble scorers carry per-domain baselines.
func registerProviders(
	registry *provider.Registry,
	ruleProvider *provider.RuleProvider,
	patternProvider *provider.PatternProvider,
	velocitySvc *velocity.Service,
	cacheImpl domain.Cache,
) {
	for _, d := range domain.AllDomains() {
		registry.Register(d, ruleProvider)
	}

	// Pump tampering
	registry.Register(domain.DomainPumpTampering, statisticalFor(domain.DomainPumpTampering))
	registry.Register(domain.DomainPumpTampering, patternProvider)
	registry.Register(domain.DomainPumpTampering, analyzer.NewPumpBehaviorAnalyzer())
	registry.Register(domain.DomainPumpTampering, ensembleFor(domain.DomainPumpTampering))

	// Driver diversion
	registry.Register(domain.DomainDriverDiversion, analyzer.NewRouteDeviationAnalyzer())
	registry.Register(domain.DomainDriverDiversion, analyzer.NewTimeAnomalyAnalyzer())
	registry.Register(domain.DomainDriverDiversion, analyzer.NewFuelIrregularityAnalyzer())
	registry.Register(domain.DomainDriverDiversion, provider.Named("knownSchemes", patternProvider))
	registry.Register(domain.DomainDriverDiversion, analyzer.NewGPSTamperAnalyzer())

	// Inventory theft
	registry.Register(domain.DomainInventoryTheft, statisticalFor(domain.DomainInventoryTheft))
	registry.Register(domain.DomainInventoryTheft, patternProvider)
	registry.Register(domain.DomainInventoryTheft, analyzer.NewInventoryBehaviorAnalyzer())
	registry.Register(domain.DomainInventoryTheft, ensembleFor(domain.DomainInventoryTheft))

	// Transaction fraud
	registry.Register(domain.DomainTransactionFraud, statisticalFor(domain.DomainTransactionFraud))
	registry.Register(domain.DomainTransactionFraud, patternProvider)
	registry.Register(domain.DomainTransactionFraud, analyzer.NewVelocityAnalyzer(velocitySvc))
	registry.Register(domain.DomainTransactionFraud, analyzer.NewBenfordAnalyzer(cacheImpl, 0, 0))
	registry.Register(domain.DomainTransactionFraud, ensembleFor(domain.DomainTransactionFraud))

	// Price manipulation
	registry.Register(domain.DomainPriceManipulation, analyzer.NewNPAComplianceAnalyzer())
	registry.Register(domain.DomainPriceManipulation, analyzer.NewMarginAnalyzer())
	registry.Register(domain.DomainPriceManipulation, patternProvider)

	// Document forgery
	registry.Register(domain.DomainDocumentForgery, analyzer.NewDocumentIntegrityAnalyzer())
	registry.Register(domain.DomainDocumentForgery, patternProvider)
	registry.Register(domain.DomainDocumentForgery, ensembleFor(domain.DomainDocumentForgery))
}

// modelParams holds per-domain scorer coefficients, aligned with the
// feature field order for the domain. Values come from the offline
// training job over anonymized operator data.
type modelParams struct {
	means       []float64
	stds        []float64
	logitWeight []float64
	logitBias   float64
}

var domainModels = map[domain.DomainType]modelParams{
	// quantity, amount, unit_price, flow_rate, duration, temperature,
	// pressure, hour_of_day, price_variance
	domain.DomainPumpTampering: {
		means:       []float64{40, 600, 15, 35, 90, 25, 2.5, 13, 0},
		stds:        []float64{25, 450, 3, 10, 60, 6, 1.0, 5, 0.01},
		logitWeight: []float64{0.005, 0.0008, 0.02, 0.03, 0.003, 0.01, 0.1, 0.02, 8.0},
		logitBias:   -4.0,
	},
	// route_deviation_km, planned_minutes, actual_minutes,
	// time_overrun_ratio, fuel_consumed, fuel_expected,
	// fuel_excess_ratio, gps_gap_minutes, unplanned_stops
	domain.DomainDriverDiversion: {
		means:       []float64{0.5, 240, 250, 0.05, 85, 80, 0.03, 1, 0},
		stds:        []float64{1.5, 120, 130, 0.1, 40, 38, 0.06, 3, 0.8},
		logitWeight: []float64{0.35, 0.001, 0.001, 2.0, 0.004, -0.004, 4.0, 0.08, 0.5},
		logitBias:   -3.5,
	},
	// book_stock, measured_stock, variance, variance_ratio, deliveries,
	// sales, unit_price, loss_estimate
	domain.DomainInventoryTheft: {
		means:       []float64{20000, 19980, 20, 0.002, 9000, 8500, 15, 300},
		stds:        []float64{12000, 12000, 80, 0.004, 6000, 5800, 3, 1200},
		logitWeight: []float64{0.00001, -0.00001, 0.004, 60.0, 0.00002, 0.00002, 0.01, 0.0008},
		logitBias:   -3.2,
	},
	// amount, amount_log, hour_of_day, is_night, is_refund, is_void, is_cash
	domain.DomainTransactionFraud: {
		means:       []float64{600, 6.0, 13, 0.1, 0.02, 0.01, 0.6},
		stds:        []float64{450, 1.2, 5, 0.3, 0.14, 0.1, 0.49},
		logitWeight: []float64{0.0006, 0.25, 0.02, 0.9, 1.5, 1.8, 0.4},
		logitBias:   -4.0,
	},
	// old_price, new_price, price_delta_pct, crude_delta_pct,
	// volatility_pct, ceiling_price, over_ceiling
	domain.DomainPriceManipulation: {
		means:       []float64{15, 15.2, 1.5, 1.2, 6, 16.5, 0},
		stds:        []float64{3, 3, 3, 2.5, 4, 3, 0.05},
		logitWeight: []float64{0.01, 0.02, 0.15, -0.1, 0.05, -0.01, 3.0},
		logitBias:   -3.5,
	},
	// ocr_confidence, signature_score, has_signature, metadata_tampered,
	// hash_mismatch, amount
	domain.DomainDocumentForgery: {
		means:       []float64{0.92, 0.85, 0.95, 0, 0, 5000},
		stds:        []float64{0.08, 0.12, 0.2, 0.05, 0.05, 9000},
		logitWeight: []float64{-2.5, -1.8, -0.8, 2.8, 3.5, 0.00005},
		logitBias:   -0.5,
	},
}

func statisticalFor(d domain.DomainType) *provider.StatisticalProvider {
	m := domainModels[d]
	return provider.NewStatisticalProvider(provider.NewZScoreScorer(m.means, m.stds))
}

// ensembleFor blends the trained classifier with a drift scorer over the
// same baseline. The drift member deliberately differs from the worst-field
// scorer behind the standalone anomaly signal, so the two signals do not
// move in lockstep.
func ensembleFor(d domain.DomainType) *provider.EnsembleProvider {
	m := domainModels[d]
	return provider.NewEnsembleProvider([]provider.EnsembleMember{
		{Scorer: provider.NewDriftScorer(m.means, m.stds), Weight: 0.45},
		{Scorer: provider.NewLogisticScorer(m.logitWeight, m.logitBias, ""), Weight: 0.55},
	})
}

// addBusSources subscribes the scheduler to the raw event topics for the
// continuously monitored domains. API-driven domains (transactions,
// pricing, documents) are evaluated synchronously via POST /detect.
func addBusSources(ctx context.Context, scheduler *monitor.Scheduler, b domain.EventBus, cfg domain.MonitorConfig) error {
	sources := []struct {
		d        domain.DomainType
		interval time.Duration
	}{
		{domain.DomainPumpTampering, cfg.PumpInterval},
		{domain.DomainDriverDiversion, cfg.DriverInterval},
		{domain.DomainInventoryTheft, cfg.InventoryInterval},
	}

	for _, s := range sources {
		src, err := monitor.NewBusSource(ctx, b, s.d)
		if err != nil {
			return err
		}
		scheduler.AddSource(src, s.interval)
	}
	return nil
}

// loadRulesFromDatabase loads rule configs into the CEL provider.
// All rules must be configured via POST /rules API - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, p *provider.RuleProvider) error {
	dbRules, err := repo.ListRules(ctx, "")
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return p.LoadRules(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

// loadPatternsFromDatabase loads known fraud patterns into the matcher.
// All patterns must be configured via POST /patterns API - no hardcoded defaults.
func loadPatternsFromDatabase(ctx context.Context, repo domain.Repository, p *provider.PatternProvider) error {
	dbPatterns, err := repo.ListPatterns(ctx, "")
	if err != nil {
		slog.Warn("failed to list patterns from database", "error", err)
		return nil // Start with empty patterns - they can be added via API
	}

	if len(dbPatterns) > 0 {
		slog.Info("loading patterns from database", "count", len(dbPatterns))
		p.LoadPatterns(dbPatterns)
		return nil
	}

	slog.Info("no patterns in database - configure via POST /patterns API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              🛡  SENTINEL                  ║")
	fmt.Println("  ║       Fuel Retail Fraud Detection         ║")
	fmt.Println("  ║       Every litre accounted for.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /detect/{domain}     - Evaluate a raw event")
	fmt.Println("    GET  /cases               - List fraud cases")
	fmt.Println("    GET  /cases/{id}          - Get a fraud case")
	fmt.Println("    POST /cases/{id}/status   - Advance case status")
	fmt.Println("    GET  /accuracy            - Rolling detection accuracy")
	fmt.Println("    GET  /providers           - Signal provider health")
	fmt.Println("    GET  /rules               - List detection rules")
	fmt.Println("    POST /rules               - Create a detection rule")
	fmt.Println("    POST /rules/reload        - Hot-reload rules from database")
	fmt.Println("    GET  /patterns            - List known fraud patterns")
	fmt.Println("    POST /patterns            - Create a fraud pattern")
	fmt.Println("    POST /patterns/reload     - Hot-reload patterns")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
