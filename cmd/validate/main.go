// Command validate checks an entity definitions file without starting
// the monitor: every entity is parsed, validated, and summarized, so
// config mistakes surface before a deploy instead of as excluded
// entities at startup.
//
// Usage:
//
//	go run ./cmd/validate -entities entities.yaml
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/river-alert-service/internal/config"
	"github.com/couchcryptid/river-alert-service/internal/domain"
)

func main() {
	entitiesFile := flag.String("entities", "entities.yaml", "path to the entity definitions file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	entities, err := config.LoadEntities(*entitiesFile, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%d valid entities in %s\n\n", len(entities), *entitiesFile)
	for _, e := range entities {
		fmt.Printf("  %-20s %s\n", e.ID, describe(e))
	}
}

func describe(e domain.EntityConfig) string {
	var parts []string

	switch {
	case e.Banded():
		labels := make([]string, len(e.Bands))
		for i, b := range e.Bands {
			labels[i] = fmt.Sprintf("%s@%.0f", b.Label, b.Lower)
		}
		parts = append(parts, "bands["+strings.Join(labels, " ")+"]")
	default:
		if e.Level != nil && e.Level.Min != nil {
			parts = append(parts, fmt.Sprintf("level>=%.2fft", *e.Level.Min))
		}
		if e.Flow != nil && e.Flow.Min != nil {
			parts = append(parts, fmt.Sprintf("flow>=%.0fcfs", *e.Flow.Min))
		}
	}

	parts = append(parts, fmt.Sprintf("mode=%s", e.Mode), fmt.Sprintf("cooldown=%s", e.Cooldown))
	if e.SendOut {
		parts = append(parts, "send_out")
	}
	if e.RapidChange.Enabled {
		parts = append(parts, fmt.Sprintf("rapid>=%.0f%%", e.RapidChange.Ratio*100))
	}
	if e.HasForecast() {
		parts = append(parts, fmt.Sprintf("qpf(%.4f,%.4f)", e.Lat, e.Lon))
	}

	return strings.Join(parts, " ")
}
