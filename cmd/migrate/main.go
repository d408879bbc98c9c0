package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"conversation-analysis/internal/config"
	pg "conversation-analysis/internal/infra/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if err := pg.ApplySchema(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var jobs int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM analysis_jobs`).Scan(&jobs); err != nil {
		log.Fatalf("count jobs: %v", err)
	}
	fmt.Printf("schema up to date, %d jobs present\n", jobs)
}
