package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/lumo/internal/bus"
	"github.com/dreamware/lumo/internal/config"
	"github.com/dreamware/lumo/internal/game"
	"github.com/dreamware/lumo/internal/orchestrator"
	"github.com/dreamware/lumo/internal/registry"
	"github.com/dreamware/lumo/internal/router"
	"github.com/dreamware/lumo/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open store %s: %v", cfg.DBPath, err)
	}
	defer st.Close()

	reg := registry.New(cfg.HeartbeatTimeout)
	gen := game.NewGenerator(rand.NewSource(time.Now().UnixNano()))

	client, err := bus.Dial(bus.Config{
		BrokerURL: cfg.BrokerURL,
		ClientID:  cfg.ClientID,
		Username:  cfg.BrokerUser,
		Password:  cfg.BrokerPass,
		Timeout:   cfg.BusTimeout,
	})
	if err != nil {
		log.Fatalf("connect to broker: %v", err)
	}
	defer client.Close()

	orch := orchestrator.New(orchestrator.Config{
		RoundCap:          cfg.RoundCap,
		MinSequenceLength: cfg.MinSequenceLength,
		MaxSequenceLength: cfg.MaxSequenceLength,
		CountdownDelay:    cfg.CountdownDelay,
		AnswerTimeout:     cfg.AnswerTimeout,
	}, reg, st, client, gen)

	if err := router.New(orch).Attach(client); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	srv := newServer(orch, reg, st)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", srv.handleLogin)
	mux.HandleFunc("/api/generate-sequence", srv.handleGenerateSequence)
	mux.HandleFunc("/api/controllers", srv.handleListControllers)
	mux.HandleFunc("/api/round-winner", srv.handleRoundWinner)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("lumo server listening on %s (broker %s)", cfg.HTTPAddr, cfg.BrokerURL)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Println("lumo server stopped")
}
