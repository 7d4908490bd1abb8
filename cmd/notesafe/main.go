package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/notesafe/notesafe/internal/config"
	"github.com/notesafe/notesafe/internal/logging"
	"github.com/notesafe/notesafe/internal/remote"
	"github.com/notesafe/notesafe/internal/session"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	userID := os.Getenv("NOTESAFE_USER")
	passphrase := os.Getenv("NOTESAFE_PASSPHRASE")
	if userID == "" || passphrase == "" {
		log.Fatal("NOTESAFE_USER and NOTESAFE_PASSPHRASE must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := session.Open(ctx, userID, []byte(passphrase), session.Options{
		DataDir: cfg.DataDir,
		Log:     logger,
	})
	if err != nil {
		log.Fatalf("opening session: %v", err)
	}
	defer sess.Close()

	client := remote.NewHTTPClient(cfg.ServerEndpointURL, cfg.RequestTimeout)
	if token := os.Getenv("NOTESAFE_TOKEN"); token != "" {
		client.SetToken(token)
	}
	defer client.Close()

	engine := sess.NewEngine(client, cfg.ServerEndpointURL, cfg.PollInterval, cfg.RetryBound)

	go func() {
		for ev := range sess.Bus.Events() {
			logger.Info(ctx, "event", "name", ev.Name)
		}
	}()

	if err := engine.Run(ctx); err != nil {
		log.Fatalf("sync engine: %v", err)
	}
}
