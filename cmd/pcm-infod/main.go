package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/arnavsurve/pcminfo"
)

func main() {
	dir := flag.String("dir", defaultDir(), "Directory to create the socket in")
	name := flag.String("name", "", "Socket file name (default pinfo.<pid>)")
	maxOutput := flag.Int("max-output-len", pcminfo.DefaultMaxOutputLen, "Largest reply advertised to clients")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := pcminfo.NewLogger(os.Stderr, *logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	srv := pcminfo.NewServer(*dir, logger)
	srv.Name = *name
	srv.MaxOutputLen = *maxOutput
	srv.Version = pcminfo.Version
	if err := srv.Register("/pcm/ping", ping); err != nil {
		logger.Error("register failed", "err", err)
		os.Exit(1)
	}

	if err := srv.Listen(ctx); err != nil {
		if errors.Is(err, pcminfo.ErrServerAlreadyRunning) {
			logger.Error("another server owns this socket", "dir", *dir)
		} else {
			logger.Error("failed to start server", "err", err)
		}
		os.Exit(1)
	}

	<-ctx.Done()
	if err := srv.Close(); err != nil {
		logger.Warn("close", "err", err)
	}
}

// ping echoes its parameters, which makes it handy for checking a client.
func ping(req pcminfo.Request) (any, error) {
	reply := map[string]any{req.Command: "pong"}
	if req.HasParams {
		reply["params"] = req.Params
	}
	return reply, nil
}

// defaultDir is where a client running as the same user looks.
func defaultDir() string {
	dirs := pcminfo.DefaultRunDirs()
	if os.Getuid() == 0 {
		return dirs.Root
	}
	return dirs.User
}
