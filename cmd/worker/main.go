package main

import (
	"context"
	"log"

	"gallows/internal/app/bootstrap"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (storage, bus, engine module).
// 3) Start the phase consumer and the outbox relay loop.
func main() {
	log.Println("gallows worker starting")
	app, err := bootstrap.BuildWorker()
	if err != nil {
		log.Fatalf("bootstrap worker failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("worker shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("gallows worker stopped with error: %v", err)
	}
}
