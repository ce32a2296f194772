// seed_questions.go loads a question catalog from YAML into the Redflag database.
//
// Usage:
//
//	go run scripts/seed_questions.go -file scripts/questions.yaml -db postgres://localhost/redflag
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

type catalogFile struct {
	Questions []struct {
		Key           string  `yaml:"key"`
		Category      string  `yaml:"category"`
		DefaultWeight float64 `yaml:"default_weight"`
		Inactive      bool    `yaml:"inactive"`
	} `yaml:"questions"`
}

func main() {
	path := flag.String("file", "scripts/questions.yaml", "path to the question catalog")
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "Postgres connection string")
	dryRun := flag.Bool("dry-run", false, "print questions without writing")
	flag.Parse()

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("read catalog: %v", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		log.Fatalf("parse catalog: %v", err)
	}

	questions := make([]*store.Question, 0, len(cf.Questions))
	seen := make(map[string]bool)
	for i, q := range cf.Questions {
		cat := store.Category(q.Category)
		if q.Key == "" || !cat.Valid() {
			log.Fatalf("question %d: key %q with category %q is invalid", i, q.Key, q.Category)
		}
		if seen[q.Key] {
			log.Fatalf("question %d: duplicate key %q", i, q.Key)
		}
		seen[q.Key] = true
		w := q.DefaultWeight
		if w == 0 {
			w = 3
		}
		questions = append(questions, &store.Question{
			Key:           q.Key,
			Category:      cat,
			Position:      i,
			DefaultWeight: w,
			Weight:        w,
			Active:        !q.Inactive,
		})
	}

	log.Printf("parsed %d questions from %s", len(questions), *path)

	if *dryRun {
		for _, q := range questions {
			fmt.Printf("[%d] %s (category=%s, default_weight=%.2f, active=%t)\n", q.Position+1, q.Key, q.Category, q.DefaultWeight, q.Active)
		}
		return
	}

	if *dbURL == "" {
		log.Fatal("-db or DATABASE_URL is required")
	}
	ctx := context.Background()
	db, err := store.NewPostgresStore(ctx, *dbURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	written, failed := 0, 0
	for _, q := range questions {
		if err := db.UpsertQuestion(ctx, q); err != nil {
			log.Printf("skip %q: %v", q.Key, err)
			failed++
			continue
		}
		written++
	}
	log.Printf("done: %d written, %d failed", written, failed)
}
