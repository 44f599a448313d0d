package main

import (
	"database/sql"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "modernc.org/sqlite"

	"github.com/ad/go-villa-onboarding/internal/db"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "onboarding.db"
	}

	retentionDays := 90
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 {
			log.Fatalf("Invalid RETENTION_DAYS: %q", v)
		}
		retentionDays = days
	}

	database, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := db.InitSchema(database); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	queue := db.NewDBQueue(database)
	defer queue.Close()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	log.Printf("Deleting ended sessions older than %s...", cutoff.Format(time.RFC3339))

	sessionRepo := db.NewSessionRepository(queue)
	deleted, err := sessionRepo.DeleteEndedBefore(cutoff)
	if err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}

	log.Printf("Deleted %d session(s)", deleted)
}
