// Command admin inspects and repairs the offline queue directly in storage.
// Stop syncd before running write commands against the file backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"expensync/internal/domain/ledger"
	"expensync/internal/domain/queue"
	"expensync/internal/domain/replay"
	"expensync/internal/infrastructure/api"
	"expensync/internal/infrastructure/crypto"
	"expensync/internal/infrastructure/kv"
	"expensync/internal/infrastructure/netstate"
	"expensync/internal/shared/auth"
	"expensync/internal/shared/config"
	"expensync/internal/shared/logger"
)

const usage = `Expensync Admin CLI - Maintenance commands for the offline queue

Usage:
  admin <command> [options]

Commands:
  queue-list      Print pending mutations in replay order
  queue-clear     Drop every pending mutation
  dead-letters    Print mutations abandoned after exhausting retries
  requeue         Move a dead letter back onto the queue
  discard         Delete a dead letter
  sync-now        Run one replay pass against the backend

Examples:
  admin queue-list
  admin queue-clear --yes
  admin requeue --id=0190f6c1-7d3e-7a4b-9c2d-1e5f00a1b2c3
  admin sync-now --timeout=2m
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "queue-list":
		runQueueList(os.Args[2:])
	case "queue-clear":
		runQueueClear(os.Args[2:])
	case "dead-letters":
		runDeadLetters(os.Args[2:])
	case "requeue":
		runRequeue(os.Args[2:])
	case "discard":
		runDiscard(os.Args[2:])
	case "sync-now":
		runSyncNow(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage + "\n")
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}
}

// openStore loads configuration and opens the configured storage backend.
func openStore(ctx context.Context) (*config.Config, kv.Store) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	storage, err := kv.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", cfg.Storage.Backend, err)
	}
	return cfg, storage
}

func runQueueList(args []string) {
	fs := flag.NewFlagSet("queue-list", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx := context.Background()
	_, storage := openStore(ctx)
	defer storage.Close()

	records, err := queue.NewStore(storage).ListAll(ctx)
	if err != nil {
		log.Fatalf("Failed to read queue: %v", err)
	}

	fmt.Printf("%d pending mutation(s)\n", len(records))
	now := time.Now()
	for _, r := range records {
		printRecord(r, now)
	}
}

func runQueueClear(args []string) {
	fs := flag.NewFlagSet("queue-clear", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Confirm dropping every pending mutation")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if !*yes {
		fmt.Println("Error: queue-clear discards unsynced changes; pass --yes to confirm")
		os.Exit(1)
	}

	ctx := context.Background()
	_, storage := openStore(ctx)
	defer storage.Close()

	store := queue.NewStore(storage)
	n, err := store.Len(ctx)
	if err != nil {
		log.Printf("Queue unreadable, clearing anyway: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		log.Fatalf("Failed to clear queue: %v", err)
	}
	log.Printf("Cleared %d pending mutation(s)", n)
}

func runDeadLetters(args []string) {
	fs := flag.NewFlagSet("dead-letters", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx := context.Background()
	_, storage := openStore(ctx)
	defer storage.Close()

	letters, err := queue.NewStore(storage).DeadLetters(ctx)
	if err != nil {
		log.Fatalf("Failed to read dead letters: %v", err)
	}

	fmt.Printf("%d dead letter(s)\n", len(letters))
	for _, dl := range letters {
		fmt.Printf("\n=== %s ===\n", dl.ID)
		fmt.Printf("  Request:     %s %s\n", dl.Method, dl.URL)
		fmt.Printf("  Created:     %s\n", dl.CreatedAt.Format(time.RFC3339))
		fmt.Printf("  Dropped:     %s\n", dl.DroppedAt.Format(time.RFC3339))
		fmt.Printf("  Reason:      %s\n", dl.Reason)
		if dl.LastError != "" {
			fmt.Printf("  Last error:  %s\n", dl.LastError)
		}
	}
}

func runRequeue(args []string) {
	fs := flag.NewFlagSet("requeue", flag.ExitOnError)
	id := fs.String("id", "", "Dead letter ID to requeue")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if strings.TrimSpace(*id) == "" {
		fmt.Println("Error: must specify --id")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	_, storage := openStore(ctx)
	defer storage.Close()

	rec, err := queue.NewStore(storage).Requeue(ctx, *id)
	if err != nil {
		log.Fatalf("Failed to requeue %s: %v", *id, err)
	}
	log.Printf("Requeued %s %s %s", rec.ID, rec.Method, rec.URL)
}

func runDiscard(args []string) {
	fs := flag.NewFlagSet("discard", flag.ExitOnError)
	id := fs.String("id", "", "Dead letter ID to delete")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if strings.TrimSpace(*id) == "" {
		fmt.Println("Error: must specify --id")
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	_, storage := openStore(ctx)
	defer storage.Close()

	if err := queue.NewStore(storage).DiscardDeadLetter(ctx, *id); err != nil {
		log.Fatalf("Failed to discard %s: %v", *id, err)
	}
	log.Printf("Discarded %s", *id)
}

func runSyncNow(args []string) {
	fs := flag.NewFlagSet("sync-now", flag.ExitOnError)
	timeoutStr := fs.String("timeout", "30s", "Timeout for the pass (e.g., 30s, 5m)")

	fs.Usage = func() {
		fmt.Println("Usage: admin sync-now [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, storage := openStore(ctx)
	defer storage.Close()
	lg := logger.New(cfg.Log)

	var encryptor *crypto.Encryptor
	if cfg.Session.Key != "" {
		if encryptor, err = crypto.NewEncryptor(cfg.Session.Key); err != nil {
			log.Fatalf("Failed to create encryptor: %v", err)
		}
	}
	session := auth.NewSession(storage, encryptor, lg)
	if err := session.Load(ctx); err != nil {
		log.Fatalf("Failed to load session: %v", err)
	}
	if !session.SignedIn() {
		log.Println("Warning: no session stored, replays will be sent unauthenticated")
	}

	cache := ledger.NewCache(storage, lg)
	if err := cache.Load(ctx); err != nil {
		log.Fatalf("Failed to load ledger cache: %v", err)
	}

	var prober netstate.Prober = netstate.NewHTTPProber(cfg.Reachability.ProbeURL)
	if cfg.Reachability.ProbeAddr != "" {
		prober = netstate.NewDialProber(cfg.Reachability.ProbeAddr)
	}
	monitor := netstate.NewMonitor(prober, 0, cfg.Reachability.Timeout, lg)

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, session, lg)
	processor := replay.NewProcessor(queue.NewStore(storage, queue.WithLogger(lg)), client, monitor, cache, replay.Config{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.BaseDelay,
	}, replay.WithLogger(lg))

	startTime := time.Now()
	result, err := processor.Run(ctx)
	if err != nil {
		log.Fatalf("Sync pass failed: %v", err)
	}

	if result.Offline {
		fmt.Println("Backend unreachable, nothing replayed")
	}
	fmt.Printf("  Attempted:  %d\n", result.Attempted)
	fmt.Printf("  Succeeded:  %d\n", result.Succeeded)
	fmt.Printf("  Failed:     %d\n", result.Failed)
	fmt.Printf("  Dropped:    %d\n", result.Dropped)
	fmt.Printf("  Skipped:    %d\n", result.Skipped)
	fmt.Printf("  Remaining:  %d\n", result.Remaining)
	log.Printf("Sync pass completed in %v", time.Since(startTime))
}

func printRecord(r queue.Record, now time.Time) {
	fmt.Printf("\n=== %s ===\n", r.ID)
	fmt.Printf("  Request:     %s %s\n", r.Method, r.URL)
	fmt.Printf("  Created:     %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Printf("  Retries:     %d\n", r.RetryCount)
	if r.Eligible(now) {
		fmt.Printf("  Eligible:    now\n")
	} else {
		fmt.Printf("  Eligible:    in %v\n", r.NextEligibleAt.Sub(now).Round(time.Second))
	}
	if r.LastError != "" {
		fmt.Printf("  Last error:  %s\n", r.LastError)
	}
	if r.LocalEntityID != "" {
		fmt.Printf("  Local ID:    %s\n", r.LocalEntityID)
	}
}
