// Command unrest-report prints a one-shot risk assessment for a region
// against an existing incident database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/logging"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
	"github.com/mr1hm/go-unrest-alerts/internal/repository"
	"github.com/mr1hm/go-unrest-alerts/internal/risk"
)

func main() {
	region := flag.String("region", "", "region to assess (required)")
	window := flag.Duration("window", 0, "assessment window, e.g. 24h (defaults to RISK_DEFAULT_WINDOW)")
	dbPath := flag.String("db", "", "sqlite database path (defaults to DB_PATH)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	if *region == "" {
		fmt.Fprintln(os.Stderr, "usage: unrest-report -region <name> [-window 24h] [-db path]")
		os.Exit(2)
	}

	path := cfg.DB.Path
	if *dbPath != "" {
		path = *dbPath
	}
	db, err := repository.NewSQLiteDB(path)
	if err != nil {
		logging.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	assessment, err := risk.NewPredictor(db, cfg.Risk).Predict(ctx, *region, *window)
	if err != nil {
		logging.Fatalf("Prediction failed: %v", err)
	}

	since := time.Now().UTC().Add(-assessment.Window)
	incidents, err := db.ListIncidents(ctx, repository.IncidentFilter{
		Region: *region,
		Since:  &since,
		Limit:  10,
	})
	if err != nil {
		logging.Fatalf("Failed to list incidents: %v", err)
	}

	printReport(assessment, incidents)
}

func printReport(a models.RiskAssessment, incidents []models.Incident) {
	fmt.Printf("Unrest risk for %s (window %s)\n", a.Region, a.Window)
	fmt.Printf("  level:       %s\n", a.Level)
	fmt.Printf("  score:       %.2f\n", a.Score)
	fmt.Printf("  confidence:  %.2f\n", a.Confidence)
	fmt.Printf("  escalation:  %.0f%%\n", a.EscalationProbability*100)
	fmt.Printf("  sample size: %d", a.SampleSize)
	if a.InsufficientHistory {
		fmt.Printf(" (insufficient history)")
	}
	fmt.Println()

	fmt.Println("\nFactors:")
	for _, f := range a.Factors {
		line := fmt.Sprintf("  %-16s %.2f", f.Name, f.Value)
		if f.Detail != "" {
			line += "  " + f.Detail
		}
		fmt.Println(line)
	}

	fmt.Println("\nRecent incidents:")
	if len(incidents) == 0 {
		fmt.Println("  none in window")
	}
	for _, inc := range incidents {
		place := "unlocated"
		if inc.Location != nil && inc.Location.PlaceName != "" {
			place = inc.Location.PlaceName
		}
		fmt.Printf("  [%s] %s (%s, %d posts, %s)\n",
			inc.Severity, inc.Title, inc.Status, inc.PostCount, place)
	}

	fmt.Println("\n" + a.Reason)
}
