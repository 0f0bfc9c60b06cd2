package main

import (
	"context"
	"fmt"
	"time"

	"github.com/loomworks/api/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Connectivity probe for the local stack: postgres, redis and NATS.
func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println("Connecting to postgres:", cfg.DatabaseURL)
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Printf("Error creating pool: %v\n", err)
		return
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		fmt.Printf("Error pinging postgres: %v\n", err)
		return
	}
	fmt.Println("Postgres OK")

	fmt.Println("Connecting to redis:", cfg.RedisURL)
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Printf("Error parsing redis URL: %v\n", err)
		return
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Printf("Error pinging redis: %v\n", err)
		return
	}
	fmt.Println("Redis OK")

	fmt.Println("Connecting to NATS:", cfg.NATSURL)
	nc, err := nats.Connect(cfg.NATSURL, nats.Timeout(5*time.Second))
	if err != nil {
		fmt.Printf("Error connecting to NATS: %v\n", err)
		return
	}
	defer nc.Close()
	fmt.Println("NATS OK")
}
