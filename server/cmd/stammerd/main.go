// Command stammerd is the stammer voice-chat server.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"stammer/internal/acceptor"
	"stammer/internal/config"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := config.FromEnv()

	listener, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		log.Error("stammerd: bind failed", "addr", cfg.BindAddr, "err", err)
		os.Exit(1)
	}
	log.Info("stammerd: listening", "addr", listener.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := acceptor.New(listener, cfg.SessionTimeout, log)
	if err := a.Run(ctx); err != nil {
		log.Error("stammerd: terminated with error", "err", err)
		os.Exit(1)
	}
	log.Info("stammerd: shut down cleanly")
}
