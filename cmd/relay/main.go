package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ilnaes/hyperpad/internal/config"
	"github.com/ilnaes/hyperpad/internal/relay"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}
