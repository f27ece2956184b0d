package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"trainyard.dev/internal/persistence/indexdb"
	persistlog "trainyard.dev/internal/persistence/log"
	"trainyard.dev/internal/persistence/snapshot"
	"trainyard.dev/internal/sim/railway"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "list":
			listCmd(os.Args[2:])
			return
		case "show":
			showCmd(os.Args[2:])
			return
		case "remove":
			removeCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "derail":
			derailCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func tracksFlag(fs *flag.FlagSet) *string {
	return fs.String("tracks", filepath.Join("data", "tracks"), "snapshot directory")
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dir := tracksFlag(fs)
	_ = fs.Parse(args)

	ids, err := snapshot.New(*dir).Index()
	if err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	dir := tracksFlag(fs)
	id := fs.String("id", "", "snapshot id (defaults to latest)")
	_ = fs.Parse(args)

	store := snapshot.New(*dir)
	name := strings.TrimSpace(*id)
	if name == "" {
		latest, ok, err := store.Latest()
		if err != nil {
			fmt.Fprintln(os.Stderr, "index:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "no snapshots found")
			os.Exit(2)
		}
		name = latest
	}
	docs, err := store.Load(name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}

	out := struct {
		snapshot.Meta
		Warnings []string `json:"warnings,omitempty"`
		Problems []string `json:"problems,omitempty"`
	}{Meta: snapshot.Summarize(name, snapshotTime(name), docs)}

	g, warnings, err := railway.FromDocuments(docs)
	if err != nil {
		out.Problems = append(out.Problems, err.Error())
	} else {
		for _, e := range g.Validate() {
			out.Problems = append(out.Problems, e.Error())
		}
	}
	out.Warnings = warnings

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
	if len(out.Problems) > 0 {
		os.Exit(1)
	}
}

// snapshotTime recovers the save time from the id, which starts with the
// unix seconds it was written at.
func snapshotTime(id string) time.Time {
	secs, _, _ := strings.Cut(id, "_")
	v, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

func removeCmd(args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	dir := tracksFlag(fs)
	id := fs.String("id", "", "snapshot id (required)")
	dbPath := fs.String("db", "", "sqlite index to keep in sync (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}
	store := snapshot.New(*dir)
	if *dbPath != "" {
		idx, err := indexdb.OpenSQLite(*dbPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open:", err)
			os.Exit(1)
		}
		// Close drains the write queue, so the row is gone before exit.
		defer idx.Close()
		store.Catalog = idx
	}
	if err := store.Remove(*id); err != nil {
		fmt.Fprintln(os.Stderr, "remove:", err)
		os.Exit(1)
	}
	fmt.Println("removed", *id)
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dir := fs.String("dir", filepath.Join("data", "journal"), "journal directory")
	kind := fs.String("kind", "", "only entries of this kind")
	limit := fs.Int("limit", 0, "print at most the last N entries (0 = all)")
	_ = fs.Parse(args)

	files, err := persistlog.JournalFiles(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	var lines [][]byte
	for _, f := range files {
		entries, err := persistlog.ReadJournal(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "journal:", err)
		}
		for _, e := range entries {
			if *kind != "" && e.Kind != *kind {
				continue
			}
			b, _ := json.Marshal(e)
			lines = append(lines, b)
		}
	}
	if *limit > 0 && len(lines) > *limit {
		lines = lines[len(lines)-*limit:]
	}
	for _, b := range lines {
		fmt.Println(string(b))
	}
}
