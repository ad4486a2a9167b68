package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bigbear0079/jimeng-pool/internal/acquire"
	"github.com/bigbear0079/jimeng-pool/internal/browser"
	"github.com/bigbear0079/jimeng-pool/internal/config"
	"github.com/bigbear0079/jimeng-pool/internal/credits"
	"github.com/bigbear0079/jimeng-pool/internal/ledger"
	"github.com/bigbear0079/jimeng-pool/internal/mailbox"
	"github.com/bigbear0079/jimeng-pool/internal/proxy"
	"github.com/bigbear0079/jimeng-pool/internal/recorder"
	"github.com/bigbear0079/jimeng-pool/internal/scheduler"
	"github.com/bigbear0079/jimeng-pool/internal/slots"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] jimeng-pool starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	store := ledger.NewStore(cfg.Ledger.StateFile)
	gateway := credits.NewHTTPGateway(cfg.Gateway.BaseURL, "")

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	refresher := credits.NewRefresher(store, gateway)
	refresher.Recorder = rec

	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch cmd {
	case "list":
		runList(store)
	case "refresh":
		runRefresh(ctx, refresher)
	case "acquire":
		runAcquire(ctx, cfg, store, gateway, rec, args)
	case "run":
		runDaemon(ctx, cancel, cfg, store, refresher)
	default:
		fmt.Fprintln(os.Stderr, "usage: jimengpool [list|refresh|acquire|run]")
		os.Exit(2)
	}
}

func runList(store *ledger.Store) {
	views, err := store.ListAccounts()
	if err != nil {
		log.Fatalf("[FATAL] list accounts: %v", err)
	}
	if len(views) == 0 {
		fmt.Println("no accounts in the pool")
		return
	}
	fmt.Printf("%-4s %-8s %-6s %-8s %-12s %s\n", "ID", "CREDITS", "REGION", "STATUS", "UPDATED", "EMAIL")
	for _, v := range views {
		fmt.Printf("%-4d %-8d %-6s %-8s %-12s %s\n", v.ID, v.Credits, v.Region, v.Status, v.LastUpdate, v.Email)
	}
}

func runRefresh(ctx context.Context, refresher *credits.Refresher) {
	accounts := config.EnvAccounts()
	if len(accounts) == 0 {
		log.Fatal("[FATAL] no accounts configured, set JIMENG_TOKEN_1..100")
	}
	results := refresher.RefreshAll(ctx, accounts)
	valid, invalid := 0, 0
	for _, r := range results {
		if r.Valid {
			valid++
		} else {
			invalid++
		}
	}
	log.Printf("[INFO] refresh done: %d valid, %d invalid", valid, invalid)
}

func runAcquire(ctx context.Context, cfg *config.Config, store *ledger.Store, gateway credits.Gateway, rec recorder.Recorder, args []string) {
	fs := flag.NewFlagSet("acquire", flag.ExitOnError)
	count := fs.Int("n", 1, "number of credentials to acquire")
	workers := fs.Int("workers", 0, "parallel workers (0 or 1 = sequential)")
	region := fs.String("region", cfg.Acquire.Region, "account region")
	manual := fs.Bool("manual", false, "skip auto-registration and log in by hand")
	headless := fs.Bool("headless", true, "run browsers headless")
	fs.Parse(args)

	orch := &acquire.Orchestrator{
		Slots:      slots.NewPool(cfg.Acquire.SlotCapacity),
		Proxies:    proxy.NewRotator(cfg.ProxyEndpoints()),
		Mailbox:    mailbox.NewClient(cfg.Tempmail.BaseURL, cfg.Tempmail.APIKey, ""),
		Gateway:    gateway,
		Store:      store,
		Recorder:   rec,
		NewSession: browser.NewChromeSession,
		LoginURL:   cfg.LoginURL,
		Timeout:    cfg.AcquireTimeout(),
		BatchDelay: cfg.BatchDelay(),
		AutoEmail:  !*manual,
		Headless:   *headless,
	}

	var batch acquire.BatchResult
	if *workers > 1 {
		batch = orch.BatchParallel(ctx, *count, *workers, *region)
	} else {
		batch = orch.BatchSequential(ctx, *count, *region)
	}
	log.Printf("[INFO] acquisition finished: %d ok, %d failed", batch.Success, batch.Failed)
	for _, res := range batch.Results {
		log.Printf("[INFO]   %s %s (verified=%v, %.0fs)", res.Region, res.Email, res.Verified, res.Elapsed.Seconds())
	}
}

func runDaemon(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, store *ledger.Store, refresher *credits.Refresher) {
	sched := scheduler.NewScheduler(ctx, store, refresher, config.EnvAccounts)
	if err := sched.Register(cfg.Schedule.RefreshCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, refreshing now")
		go sched.RunRefreshNow()
	}

	log.Println("[INFO] jimeng-pool is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] jimeng-pool stopped")
}
