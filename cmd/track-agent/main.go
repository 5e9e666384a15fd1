package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/LoadTrack/config"
)

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		panic(err)
	}
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := agentHTTPOpts{swaggerPath: os.Getenv("swaggerPath")}
	if err := RunTrackAgent(ctx, cfg, defaultAgentFactories(), opts); err != nil && err != context.Canceled {
		panic(err)
	}
}
