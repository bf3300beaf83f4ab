package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"phasetrack/config"
	"phasetrack/coreapi"
	"phasetrack/livestate"
	"phasetrack/messaging"
	"phasetrack/protocol"
	"phasetrack/store"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "phasecore.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Println("phasecore", Version)
		return
	}
	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := config.LoadCore(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("phasecore: database open (%s)", db.Driver())

	// Redis mirror for dashboards; optional
	var mirror livestate.Mirror
	if cfg.Redis.Address != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("phasecore: redis not available (%v), running without mirror", err)
		} else {
			log.Printf("phasecore: redis connected (%s)", cfg.Redis.Address)
			mirror = livestate.NewRedisStore(redisClient)
		}
		cancel()
	}

	// Outbound events go through the outbox only when messaging is configured
	var (
		sessionEvents livestate.EventEmitter
		phaseEvents   coreapi.PhaseEmitter
	)
	var msgClient *messaging.Client
	if cfg.Messaging.Backend != "" {
		emitter := messaging.NewOutboxEmitter(db, cfg.Messaging.EventsTopic, cfg.Messaging.NodeID)
		sessionEvents, phaseEvents = emitter, emitter

		msgClient = messaging.NewClient(&cfg.Messaging)
		defer msgClient.Close()
		if err := msgClient.Connect(); err != nil {
			log.Printf("phasecore: messaging connect failed (%v), events stay queued in the outbox", err)
		} else {
			log.Printf("phasecore: messaging connected (%s)", cfg.Messaging.Backend)
		}
	}

	liveMgr := livestate.NewManager(db, mirror, sessionEvents)
	syncCtx, syncCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := liveMgr.SyncMirrorFromSQL(syncCtx); err != nil {
		log.Printf("phasecore: redis sync from SQL: %v", err)
	}
	syncCancel()

	if msgClient != nil {
		// Protocol ingestor (inbound from stations)
		coreHandler := messaging.NewCoreHandler(db)
		coreHandler.Start()
		defer coreHandler.Stop()
		if err := messaging.Listen(msgClient, cfg.Messaging.StationsTopic, protocol.RoleCore, cfg.Messaging.NodeID, coreHandler); err != nil {
			log.Printf("phasecore: protocol ingestor subscribe failed: %v", err)
		} else {
			log.Printf("phasecore: protocol ingestor listening on %s", cfg.Messaging.StationsTopic)
		}

		drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval)
		drainer.Start()
		defer drainer.Stop()
	}

	// Web server
	api := coreapi.NewServer(db, liveMgr, phaseEvents, cfg.Web.SessionSecret, cfg.Auth.SessionMaxAge)
	api.EnsureBootstrapOperator(cfg.Auth.BootstrapUser, cfg.Auth.BootstrapPassword)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("phasecore: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("phasecore: ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("phasecore: shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Printf("phasecore: stopped")
}
