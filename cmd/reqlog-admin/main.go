package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ngoyal88/reqlog/pkg/batch"
	"github.com/ngoyal88/reqlog/pkg/config"
	"github.com/ngoyal88/reqlog/pkg/sink"
	"github.com/ngoyal88/reqlog/pkg/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "pending":
		handlePending(os.Args[2:])
	case "drain":
		handleDrain(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("reqlog-admin commands:")
	fmt.Println("  pending              Print the batch stored in the KV store")
	fmt.Println("  drain                Send the stored batch to the sink and remove it")
	fmt.Println("     flags: -file (defaults to the configured mode's key)")
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.SetLevel(cfg.Logging.LogLevel())
	return cfg
}

func mustKV(cfg *config.Config) storage.KV {
	if !cfg.Redis.Enabled {
		log.Fatal("redis is not enabled in config, nothing is stored between runs")
	}
	kv, _, err := storage.FromConfig(cfg)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	return kv
}

func parseFile(name string, args []string, cfg *config.Config) string {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	file := fs.String("file", cfg.Logging.FileName(), "KV key of the stored batch")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}
	return *file
}

func handlePending(args []string) {
	cfg := mustLoadConfig()
	file := parseFile("pending", args, cfg)
	kv := mustKV(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, err := storage.LoadEntries(ctx, kv, file)
	if err != nil {
		log.Fatalf("failed to read %s: %v", file, err)
	}
	if len(entries) == 0 {
		fmt.Printf("No logs stored under %s\n", file)
		return
	}

	for i, e := range entries {
		status := "ok"
		if e.Error != nil {
			status = *e.Error
		}
		var ms int64
		if e.ResponseTime != nil {
			ms = *e.ResponseTime
		}
		fmt.Printf("%d) %s %s %s -> %d in %dms (%s)\n", i+1, e.Timestamp, e.Method, e.URL, e.StatusCode, ms, status)
	}
}

func handleDrain(args []string) {
	cfg := mustLoadConfig()
	file := parseFile("drain", args, cfg)
	kv := mustKV(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	in, closeSink, err := sink.FromConfig(ctx, cfg.Sink)
	if err != nil {
		log.Fatalf("failed to create %s sink: %v", cfg.Sink.Type, err)
	}
	defer closeSink()

	n, err := batch.NewFlusher(kv, in, batch.FlusherOptions{}).Drain(ctx, file)
	if err != nil {
		log.Fatalf("drain failed: %v", err)
	}
	fmt.Printf("Drained %d logs from %s\n", n, file)
}
