// Seeds the Kingston scenario on the simulation backend. Safe to run more
// than once; an existing scenario is reported, not duplicated.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/CivicSim/CS-Gateway/internal/backend"
)

func main() {
	_ = godotenv.Load(".env.local")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := backend.NewClient(os.Getenv("BACKEND_URL"))
	info, err := client.SeedKingston(ctx)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	fmt.Printf("Scenario ready: %s (%s)\n", info.Name, info.ID)
}
