// Command stutterd is the stutter voice-chat client.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"github.com/gordonklaus/portaudio"
	"golang.org/x/sync/errgroup"
	"gopkg.in/hraban/opus.v2"

	"stutter/internal/audio"
	"stutter/internal/config"
	"stutter/internal/connection"
	"stutter/internal/wire"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := config.FromEnv()

	if err := portaudio.Initialize(); err != nil {
		log.Error("stutterd: portaudio init failed", "err", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	nc, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		log.Error("stutterd: dial failed", "addr", cfg.ServerAddr, "err", err)
		os.Exit(1)
	}
	conn := wire.New(nc)

	encoder, err := opus.NewEncoder(48000, 2, opus.AppVoIP)
	if err != nil {
		log.Error("stutterd: opus encoder init failed", "err", err)
		os.Exit(1)
	}
	decoder, err := opus.NewDecoder(48000, 2)
	if err != nil {
		log.Error("stutterd: opus decoder init failed", "err", err)
		os.Exit(1)
	}

	connActor := connection.New(conn, nil, cfg.SessionTimeout, log)
	if err := connActor.Handshake(); err != nil {
		log.Error("stutterd: handshake failed", "err", err)
		os.Exit(1)
	}
	log.Info("stutterd: connected", "addr", cfg.ServerAddr)

	io := audio.New(nil, nil, nil, log)
	codec := audio.NewCodec(encoder, decoder, connActor, io, log)
	connActor.SetCodec(codec)
	io.SetCodec(codec)

	input, err := audio.OpenInputStream(io)
	if err != nil {
		log.Error("stutterd: open input stream failed", "err", err)
		os.Exit(1)
	}
	output, err := audio.OpenOutputStream(io)
	if err != nil {
		log.Error("stutterd: open output stream failed", "err", err)
		os.Exit(1)
	}
	io.SetStreams(input, output)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ioDone := make(chan struct{})
	codecDone := make(chan struct{})
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		connActor.Run()
		return nil
	})
	g.Go(func() error {
		io.Run(ioDone)
		return nil
	})
	g.Go(func() error {
		codec.Run(codecDone)
		return nil
	})

	io.Send(audio.RecordingPlay)
	io.Send(audio.PlaybackPlay)

	<-ctx.Done()
	io.Close()
	close(ioDone)
	close(codecDone)
	_ = conn.Close()
	_ = g.Wait()

	log.Info("stutterd: shut down cleanly")
}
