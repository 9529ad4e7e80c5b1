package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	angora "github.com/thisisjab/angora"
	"github.com/thisisjab/angora/config"
)

func main() {
	configPath := flag.String("config", "angora.yaml", "path to the YAML config file")
	collection := flag.String("collection", "", "collection to query")
	limit := flag.Int("limit", 0, "result limit")
	dryRun := flag.Bool("dry-run", false, "print the compiled query and parameters without executing")
	flag.Parse()

	logger := slog.New(
		tint.NewHandler(os.Stdout, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}),
	)

	if *collection == "" || flag.NArg() < 1 {
		logger.Error("usage: angora -collection <name> [flags] '<filter-json>'")
		os.Exit(1)
	}

	var filterDict map[string]any
	if err := json.Unmarshal([]byte(flag.Arg(0)), &filterDict); err != nil {
		logger.Error("cannot parse filter.", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("cannot load config.", "error", err)
		os.Exit(1)
	}

	if cfgLogger, err := cfg.BuildLogger(); err == nil {
		logger = cfgLogger
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal. shutting down.", "signal", sig)
		cancel()
	}()

	client := angora.New(angora.Options{
		Storage:        cfg.Storage,
		Logger:         logger,
		DefaultLimit:   cfg.Find.DefaultLimit,
		MaxLimit:       cfg.Find.MaxLimit,
		MaxFilterDepth: cfg.Find.MaxFilterDepth,
	})

	if *dryRun {
		// No connection needed; compile and print the plan.
		col := angora.DetachedCollection(client, *collection)
		res, err := col.Plan(filterDict, angora.WithLimit(*limit))
		if err != nil {
			logger.Error("cannot compile filter.", "error", err)
			os.Exit(1)
		}

		fmt.Println(res.Query)
		out, _ := json.MarshalIndent(res.Params, "", "  ")
		fmt.Println(string(out))
		return
	}

	if err := client.Connect(ctx); err != nil {
		logger.Error("cannot connect.", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	col, err := client.SelectCollection(ctx, *collection)
	if err != nil {
		logger.Error("cannot select collection.", "error", err)
		os.Exit(1)
	}

	docs, err := col.Find(ctx, filterDict, angora.WithLimit(*limit))
	if err != nil {
		logger.Error("find failed.", "error", err)
		os.Exit(1)
	}

	for _, doc := range docs {
		out, err := json.Marshal(doc)
		if err != nil {
			logger.Error("cannot encode document.", "error", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	}

	logger.Info("done.", "matched", len(docs))
}
