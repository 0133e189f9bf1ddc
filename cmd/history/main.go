// Dumps a session's stored conversation history to stdout. Reads the
// database directly so it works against production without going through
// the gateway.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/lib/pq"
)

func main() {
	_ = godotenv.Load(".env.local")

	sessionID := flag.String("session", "", "session id to dump (required)")
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "postgres DSN")
	flag.Parse()

	if *sessionID == "" {
		log.Fatal("--session is required")
	}
	if *dsn == "" {
		log.Fatal("DATABASE_URL not set and no --dsn given")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT role, content, quotes, created_at
		FROM civicsim.conversation_entries
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, *sessionID)
	if err != nil {
		log.Fatalf("query: %v", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var role, content string
		var quotes pq.StringArray
		var createdAt time.Time
		if err := rows.Scan(&role, &content, &quotes, &createdAt); err != nil {
			log.Fatalf("scan: %v", err)
		}
		fmt.Printf("[%s] %s: %s\n", createdAt.Format(time.RFC3339), role, content)
		for _, q := range quotes {
			fmt.Printf("    > %s\n", q)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("rows: %v", err)
	}

	fmt.Printf("\n%d entries for session %s\n", count, *sessionID)
}
