package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/config"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/repository/postgres"
	"github.com/blok-blok-studio/blokblokstudio-sub000/migrations"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	listOnly := flag.Bool("list", false, "print applied migrations and exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.Database.URL, 2, 1)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer store.Close()
	log.Println("Connected to database")

	if *listOnly {
		names, err := postgres.Applied(ctx, store.DB())
		if err != nil {
			log.Fatal(err)
		}
		for _, n := range names {
			fmt.Println(" ", n)
		}
		fmt.Printf("Total: %d applied\n", len(names))
		return
	}

	applied, err := postgres.Migrate(ctx, store.DB(), migrations.FS)
	for _, n := range applied {
		fmt.Printf("  %s ... OK\n", n)
	}
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Printf("Done: %d applied", len(applied))
}
