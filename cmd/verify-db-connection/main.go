package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"nvct-backend/internal/config"

	_ "github.com/lib/pq"
)

var requiredTables = []string{
	"multisig_transactions",
	"multisig_confirmations",
	"settlements",
	"ledger_submissions",
	"admin_users",
	"schema_migrations_log",
}

func main() {
	configPath := flag.String("config", "", "config file")
	flag.Parse()

	fmt.Println("🔍 Verifying database connection and schema...")
	fmt.Println(strings.Repeat("=", 60))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("DATABASE_DSN is not configured; the server would run on in-memory stores")
	}

	sqlDB, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	var dbName, version string
	if err := sqlDB.QueryRowContext(ctx, "SELECT current_database(), version()").Scan(&dbName, &version); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)
	fmt.Printf("📋 Server: %s\n", version)

	missing := 0
	for _, table := range requiredTables {
		var exists bool
		err := sqlDB.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to inspect table %s: %v", table, err)
		}
		if !exists {
			missing++
			fmt.Printf("❌ %s missing\n", table)
			continue
		}
		var rows int64
		if err := sqlDB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&rows); err != nil {
			log.Fatalf("Failed to count %s: %v", table, err)
		}
		fmt.Printf("✅ %-24s %d rows\n", table, rows)
	}

	fmt.Println(strings.Repeat("=", 60))
	if missing > 0 {
		fmt.Printf("❌ %d table(s) missing; start the server once to run migrations\n", missing)
		os.Exit(1)
	}
	fmt.Println("✅ Database connection and schema OK")
}
