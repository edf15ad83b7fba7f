package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vitos/crypto_position_engine/internal/domain"
	"github.com/vitos/crypto_position_engine/internal/infrastructure/storage"
	"github.com/vitos/crypto_position_engine/internal/usecase"
)

// Imports strategy builder export files into the engine database. Accepts a
// single wrapped strategy or a whole saved collection (the builder exports
// both shapes).
func main() {
	dbPath := flag.String("db", "engine.db", "sqlite database path")
	file := flag.String("file", "", "strategy export JSON file")
	flag.Parse()

	if *file == "" {
		log.Fatal("usage: import_strategy -file <export.json> [-db engine.db]")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read export file: %v", err)
	}

	var strategies []*domain.StoredStrategy
	if err := json.Unmarshal(data, &strategies); err != nil {
		var single domain.StoredStrategy
		if err := json.Unmarshal(data, &single); err != nil {
			log.Fatalf("Failed to parse export file: %v", err)
		}
		strategies = []*domain.StoredStrategy{&single}
	}

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	validator := usecase.NewConfigValidator()
	ctx := context.Background()

	imported := 0
	for _, strategy := range strategies {
		if errs := validator.Validate(&strategy.Config); errs != nil {
			log.Printf("Skipping %q: %v", strategy.Name, errs)
			continue
		}
		if strategy.ID == "" {
			strategy.ID = uuid.NewString()
		}
		if strategy.Created.IsZero() {
			strategy.Created = time.Now()
		}
		if err := store.Save(ctx, strategy); err != nil {
			log.Fatalf("Failed to save strategy %q: %v", strategy.Name, err)
		}
		imported++
		fmt.Printf("Imported %s (%s, %s)\n", strategy.Name, strategy.ID, strategy.Config.CoinPair)
	}

	fmt.Printf("Done: %d of %d strategies imported\n", imported, len(strategies))
}
