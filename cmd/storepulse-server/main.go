package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/samijaber1/storepulse/internal/api"
	"github.com/samijaber1/storepulse/internal/config"
	"github.com/samijaber1/storepulse/internal/engine"
	"github.com/samijaber1/storepulse/internal/ingest"
	"github.com/samijaber1/storepulse/internal/outreach"
	"github.com/samijaber1/storepulse/internal/rules"
	"github.com/samijaber1/storepulse/internal/storage/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	cfg := parseFlags()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting StorePulse server...")
	log.Printf("Config: port=%d, db=%s, rules-dir=%s, dialer=%s", cfg.Port, cfg.DatabasePath, cfg.RulesDirectory, cfg.DialerType)

	// Open storage
	store, err := sqlite.NewStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	// Create call dialer
	var dialer outreach.CallDialer
	switch cfg.DialerType {
	case "voice":
		dialerConfig := outreach.DefaultHTTPConfig(cfg.VoiceURL)
		dialerConfig.APIKey = cfg.VoiceAPIKey
		dialer = outreach.NewHTTPDialer(dialerConfig)
		log.Printf("Using voice provider: %s", cfg.VoiceURL)

	case "log":
		dialer = outreach.NewLogDialer()
		log.Printf("Using log dialer (no calls will be placed)")

	default:
		log.Fatalf("Unknown dialer type: %s", cfg.DialerType)
	}

	// Create engine and scheduler
	eng := engine.New(store, rules.NewEvaluator(nil), dialer, engine.Options{
		Organization: cfg.Organization,
		Parallelism:  cfg.Parallelism,
	})
	if cfg.CallbackURL != "" {
		eng.Outreach().SetCallbackURL(cfg.CallbackURL)
	}

	sched := engine.NewScheduler(eng, cfg.RulesDirectory, cfg.SchemaPath, cfg.PassInterval, cfg.SweepInterval)

	// Load escalation rules
	if err := sched.LoadRules(); err != nil {
		log.Fatalf("Failed to load rules: %v", err)
	}

	// Start scheduler
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Optional metrics feed consumer
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	var consumer *ingest.Consumer
	if cfg.KafkaEnabled() {
		reader := ingest.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		consumer = ingest.NewConsumer(reader, eng)
		go func() {
			if err := consumer.Run(consumerCtx); err != nil {
				log.Printf("Metrics consumer stopped: %v", err)
			}
		}()
		log.Printf("Consuming metrics from %s (topic %s)", strings.Join(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
	}

	// Create and start HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	apiServer := api.NewServer(store, eng, cfg.Organization, addr, sched.RuleCount)

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalf("Server error: %v", err)

	case sig := <-shutdown:
		log.Printf("Received signal: %v", sig)

		// Graceful shutdown
		ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
		defer cancel()

		log.Println("Shutting down server...")
		if err := apiServer.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}

		if consumer != nil {
			log.Println("Stopping metrics consumer...")
			stopConsumer()
			if err := consumer.Close(); err != nil {
				log.Printf("Error closing consumer: %v", err)
			}
		}

		log.Println("Stopping scheduler...")
		sched.Stop()

		log.Println("Shutdown complete")
	}
}

func parseFlags() config.Config {
	cfg := config.DefaultConfig()

	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "HTTP server host")
	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	flag.StringVar(&cfg.RulesDirectory, "rules-dir", cfg.RulesDirectory, "Directory containing escalation rule YAML files")
	flag.StringVar(&cfg.SchemaPath, "schema", cfg.SchemaPath, "JSON schema for rule validation")
	flag.StringVar(&cfg.Organization, "org", cfg.Organization, "Organization whose fleet this engine monitors")
	flag.StringVar(&cfg.DialerType, "dialer", cfg.DialerType, "Outreach dialer type (voice|log)")
	flag.StringVar(&cfg.VoiceURL, "voice-url", cfg.VoiceURL, "Voice provider URL (required for voice dialer)")
	flag.StringVar(&cfg.CallbackURL, "callback-url", cfg.CallbackURL, "Public base URL for provider webhooks")
	flag.DurationVar(&cfg.PassInterval, "pass-interval", cfg.PassInterval, "Interval between fleet evaluation passes")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Interval between stale alert sweeps")
	flag.IntVar(&cfg.Parallelism, "parallelism", cfg.Parallelism, "Concurrent stores per fleet pass")

	flag.Parse()

	return cfg
}
