package main

import (
	"context"

	"github.com/keyfold/keyfold/internal/client/cli"
	"github.com/keyfold/keyfold/internal/client/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()
	app := cli.NewApp(cfg)
	app.Run(ctx)
}
