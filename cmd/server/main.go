package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"trainyard.dev/internal/persistence/indexdb"
	persistlog "trainyard.dev/internal/persistence/log"
	"trainyard.dev/internal/persistence/snapshot"
	"trainyard.dev/internal/sim/engine"
	"trainyard.dev/internal/sim/tuning"
	"trainyard.dev/internal/transport/api"
	"trainyard.dev/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("config", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		snapName   = flag.String("snapshot", engine.LatestSnapshot, `snapshot to start from ("latest", an id, or "" for an empty graph)`)
		staticDir  = flag.String("static", "", "serve a frontend directory at / (optional)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite snapshot and journal index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *snapName != "" && *snapName != engine.LatestSnapshot && !snapshot.ValidName(*snapName) {
		logger.Fatalf("invalid snapshot name %q", *snapName)
	}

	tracksDir := underData(*dataDir, tune.Persistence.TracksDir)
	journalDir := underData(*dataDir, tune.Persistence.JournalDir)

	idx, err := openRuntimeIndex(*dataDir, tune.Persistence.IndexDB, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	mirror, err := buildR2Mirror(tracksDir, log.New(os.Stdout, "[r2] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("r2 mirror: %v", err)
	}
	if mirror != nil {
		// Closed after the engine's final save.
		defer mirror.Close()
	}

	snaps := snapshot.New(tracksDir)
	snaps.Logger = logger
	var catalogs snapshot.Catalogs
	if idx != nil {
		catalogs = append(catalogs, idx)
	}
	if mirror != nil {
		catalogs = append(catalogs, mirror)
	}
	if len(catalogs) > 0 {
		snaps.Catalog = catalogs
	}

	journal := persistlog.Tee{}
	if journalDir != "" {
		jw := persistlog.NewJournalWriter(journalDir)
		defer jw.Close()
		journal = append(journal, jw)
	}
	if idx != nil {
		journal = append(journal, idx)
	}

	engineLogger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds)
	sup := engine.NewSupervisor(engine.ConfigFromTuning(tune.Engine), engineLogger, snaps, journal, *snapName)

	ctx, cancel := signalContext()
	defer cancel()

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		if err := sup.Run(ctx); err != nil {
			logger.Printf("engine stopped: %v", err)
		}
		cancel()
	}()

	wsSrv := ws.NewServer(sup, tune.Transport, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))
	apiSrv := &api.Server{
		Engines:   sup,
		Snapshots: snaps,
		WS:        wsSrv,
		Mirror:    mirror,
		Log:       logger,
		Timeout:   tune.Engine.RequestTimeout(),
	}
	if idx != nil {
		apiSrv.Journal = idx
	}
	router := apiSrv.Router()

	if envBool("TY_ENABLE_PPROF_HTTP", false) {
		router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	} else {
		logger.Printf("pprof endpoints disabled (TY_ENABLE_PPROF_HTTP=false)")
	}
	if *staticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(*staticDir)))
		logger.Printf("serving static files from %s", *staticDir)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s tracks=%s journal=%s", *addr, tracksDir, journalDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	// The engine persists its graph on the way out.
	<-supDone
	logger.Printf("shutdown complete")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// underData resolves p against the data dir unless it is absolute.
func underData(dataDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

// openRuntimeIndex opens the sqlite index. TY_INDEX_BACKEND=none disables it
// without touching the tuning file.
func openRuntimeIndex(dataDir, dbPath string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB || dbPath == "" {
		return nil, nil
	}
	switch backend := strings.ToLower(strings.TrimSpace(os.Getenv("TY_INDEX_BACKEND"))); backend {
	case "none", "off", "disabled":
		return nil, nil
	case "", "sqlite":
		return indexdb.OpenSQLite(underData(dataDir, dbPath))
	default:
		return nil, errors.New("unsupported TY_INDEX_BACKEND: " + backend)
	}
}
