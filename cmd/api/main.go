package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/vox-agent/backend/internal/config"
	"github.com/zhouzirui/vox-agent/backend/internal/handler"
	"github.com/zhouzirui/vox-agent/backend/internal/handler/voice"
	"github.com/zhouzirui/vox-agent/backend/internal/model/persona"
	"github.com/zhouzirui/vox-agent/backend/internal/service/agent"
	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	registry := session.NewRegistry()
	emitter := voice.NewEmitter()

	agentService := agent.NewService(cfg.Agent, cfg.Voice, personaStore, emitter)

	defaults := cfg.Voice.DefaultCredentials(cfg.Agent)
	if defaults.Complete() {
		log.Println("server credentials configured, new sessions are usable immediately")
	} else {
		log.Println("server credentials incomplete, sessions must send configure_keys")
	}

	router := handler.NewRouter(personaStore, registry, agentService, emitter, defaults)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Vox Agent backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
