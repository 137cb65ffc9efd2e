package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ecocredit.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("ECOCREDIT_DATABASE_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or ECOCREDIT_DATABASE_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|pending]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	mgr := store.Migrator()

	var lines []string
	switch flag.Arg(0) {
	case "up":
		lines, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			lines = []string{name}
		}
	case "seed":
		lines, err = mgr.Seed(ctx)
	case "status":
		lines, err = mgr.Status(ctx)
	case "pending":
		lines, err = mgr.Pending(ctx)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
	for _, item := range lines {
		fmt.Println(item)
	}
}
