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

	"phasetrack/config"
	"phasetrack/engine"
	"phasetrack/messaging"
	"phasetrack/protocol"
	"phasetrack/www"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "phasestation.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := config.LoadStation(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		LogFunc:    log.Printf,
		Debug:      *debug,
	})
	eng.Start()
	defer eng.Stop()

	if cfg.Messaging.Backend != "" {
		nodeID := cfg.NodeID()
		// The node ID doubles as MQTT client ID and Kafka group, so every
		// station receives every event.
		cfg.Messaging.NodeID = nodeID
		msgClient := messaging.NewClient(&cfg.Messaging)
		defer msgClient.Close()
		if err := msgClient.Connect(); err != nil {
			log.Printf("messaging connect: %v (running without push hints)", err)
		} else {
			handler := messaging.NewStationHandler(eng.NotifySessionChanged)
			if err := messaging.Listen(msgClient, cfg.Messaging.EventsTopic, protocol.RoleStation, nodeID, handler); err != nil {
				log.Printf("protocol ingestor subscribe: %v", err)
			} else {
				log.Printf("protocol ingestor listening on %s (station=%s)", cfg.Messaging.EventsTopic, nodeID)
			}

			hb := messaging.NewHeartbeater(msgClient, nodeID, cfg.Line, Version, cfg.Messaging.StationsTopic, cfg.Messaging.HeartbeatInterval, eng.Operators)
			hb.Start()
			defer hb.Stop()
		}
	}

	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("phasestation %s listening on %s (backend %s)", cfg.StationID, addr, cfg.Backend.URL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// Stop SSE event hub first so long-lived connections close
	stopWeb()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}
