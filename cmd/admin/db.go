package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trainyard.dev/internal/persistence/indexdb"
)

// dbCmd queries the sqlite index: "snapshots" (default) or "journal".
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dbPath := fs.String("db", filepath.Join("data", "index", "trainyard.sqlite"), "sqlite db path")
	kind := fs.String("kind", "", "journal kind filter")
	target := fs.String("target", "", "journal target filter, e.g. node:3")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	idx, err := indexdb.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rows []any
	switch q {
	case "snapshots":
		metas, err := idx.ListSnapshots(ctx)
		if err != nil {
			fail("query:", err)
		}
		if *limit > 0 && len(metas) > *limit {
			metas = metas[len(metas)-*limit:]
		}
		for _, m := range metas {
			rows = append(rows, m)
		}
	case "journal":
		entries, err := idx.JournalEntries(ctx, indexdb.JournalQuery{Kind: *kind, Target: *target, Limit: *limit})
		if err != nil {
			fail("query:", err)
		}
		for _, e := range entries {
			rows = append(rows, e)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range rows {
		_ = enc.Encode(r)
	}
}

func fail(prefix string, err error) {
	fmt.Fprintln(os.Stderr, prefix, err)
	os.Exit(1)
}
