package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/keyfold/keyfold/internal/server"
	"github.com/keyfold/keyfold/internal/server/config"
)

func main() {
	// A missing .env file is fine; the environment and flags still apply.
	_ = godotenv.Load()

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}
