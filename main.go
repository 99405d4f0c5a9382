package main

import (
	"log"
	"net/http"

	"github.com/joho/godotenv"

	"stockly/m/internal/api"
	"stockly/m/internal/config"
	"stockly/m/internal/database"
	"stockly/m/internal/migrations"
	"stockly/m/internal/sale"
	"stockly/m/internal/seed"
	"stockly/m/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	db := database.Connect(cfg.DatabaseDSN)
	defer db.Close()

	migrations.Run(db)
	if cfg.SeedFile != "" {
		seed.LoadProducts(db, cfg.SeedFile)
	}

	engine := sale.NewEngine(store.New(db))
	handler := api.New(db, engine, cfg.Secret)

	log.Printf("Stockly back-office server starting on :%s", cfg.HTTPPort)
	if err := http.ListenAndServe(":"+cfg.HTTPPort, handler.Router()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
