// Command indexctl is the operator tool for the article index: list the
// latest collected date per organization, or delete a date range (optionally
// limited to one organization) together with the affected blobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/MarketSenseAI/macro-engine/engine/archive"
	"github.com/MarketSenseAI/macro-engine/engine/domain"
	"github.com/MarketSenseAI/macro-engine/pkg/blob"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: indexctl <command> [flags]

commands:
  latest-dates                 print the most recent indexed date per organization
  remove-range                 delete index records (and their blobs) in a date range
      -from YYYY-MM-DD         start of the range (inclusive, required)
      -to YYYY-MM-DD           end of the range (inclusive, required)
      -org NAME                only records whose organization contains NAME
`)
	os.Exit(2)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	nc, err := nats.Connect(envOr("NATS_URL", nats.DefaultURL))
	if err != nil {
		logger.Error("nats connect failed", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	store, err := blob.NewObjectStore(ctx, nc, envOr("BLOB_BUCKET", "macro-archive"))
	if err != nil {
		logger.Error("blob store failed", "error", err)
		os.Exit(1)
	}
	arch := archive.New(store, envOr("ARCHIVE_PREFIX", archive.DefaultPrefix), logger)

	switch cmd {
	case "latest-dates":
		if err := latestDates(ctx, arch); err != nil {
			logger.Error("latest-dates failed", "error", err)
			os.Exit(1)
		}
	case "remove-range":
		fs := flag.NewFlagSet("remove-range", flag.ExitOnError)
		from := fs.String("from", "", "start date (inclusive)")
		to := fs.String("to", "", "end date (inclusive)")
		org := fs.String("org", "", "organization substring filter")
		fs.Parse(os.Args[2:])

		if err := removeRange(ctx, arch, *from, *to, *org); err != nil {
			logger.Error("remove-range failed", "error", err)
			os.Exit(1)
		}
	default:
		usage()
	}
}

func latestDates(ctx context.Context, arch *archive.Archive) error {
	latest, err := arch.LatestDates(ctx)
	if err != nil {
		return err
	}
	orgs := make([]string, 0, len(latest))
	for org := range latest {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	for _, org := range orgs {
		fmt.Printf("%-30s %s\n", org, latest[org])
	}
	return nil
}

func removeRange(ctx context.Context, arch *archive.Archive, from, to, org string) error {
	if from == "" || to == "" {
		return fmt.Errorf("both -from and -to are required")
	}
	for _, d := range []string{from, to} {
		if _, err := time.Parse(domain.DateLayout, d); err != nil {
			return fmt.Errorf("date %q is not YYYY-MM-DD", d)
		}
	}
	return arch.RemoveRange(ctx, from, to, org)
}
