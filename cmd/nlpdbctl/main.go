package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nlpdb/nlpdb/internal/cli/nlpdbctl"
)

func main() {
	_ = godotenv.Load()

	options := nlpdbctl.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if home, err := os.UserHomeDir(); err == nil {
		options.ConfigPaths = []string{home}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := nlpdbctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}
