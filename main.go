package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/CivicSim/CS-Gateway/internal/backend"
	"github.com/CivicSim/CS-Gateway/internal/db"
	"github.com/CivicSim/CS-Gateway/internal/gateway"
	"github.com/CivicSim/CS-Gateway/internal/middleware"
	"github.com/CivicSim/CS-Gateway/internal/scenario"
	"github.com/CivicSim/CS-Gateway/internal/session"
	"github.com/CivicSim/CS-Gateway/internal/storage"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

func main() {
	_ = godotenv.Load(".env.local")

	port := os.Getenv("PORT")
	if port == "" {
		port = "5050"
	}

	scn, err := scenario.Load(os.Getenv("SCENARIO_PATH"))
	if err != nil {
		log.Fatal("Failed to load scenario: ", err)
	}

	// Persistence is optional: without DATABASE_URL sessions are in-memory
	// only and do not survive a restart.
	var store session.Store
	if os.Getenv("DATABASE_URL") != "" {
		db.Connect()
		storage.Init()
		store = storage.NewStore(db.DB)
	} else {
		log.Println("DATABASE_URL not set, running without persistence")
	}

	client := backend.NewClient(os.Getenv("BACKEND_URL"))
	manager := gateway.NewManager(context.Background(), scn, client, store)

	r := chi.NewRouter()
	r.Use(middleware.CORSMiddleware)
	r.Get("/", RootHandler)

	r.Mount("/api", gateway.SetupRoutes(&gateway.Handlers{
		Manager:  manager,
		Client:   client,
		Scenario: scn,
	}))

	fmt.Println("Server listening on port :" + port + "...")

	http.ListenAndServe("0.0.0.0:"+port, r)
}
