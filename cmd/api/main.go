package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/viralforge/affiliate-ledger/internal/app/bootstrap"
)

func main() {
	_ = godotenv.Load()
	r, err := bootstrap.NewRuntime(context.Background(), "configs/default.yaml")
	if err != nil {
		log.Fatal(err)
	}
	if err := r.RunAPI(context.Background()); err != nil {
		log.Fatal(err)
	}
}
