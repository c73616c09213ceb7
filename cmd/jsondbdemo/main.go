// jsondbdemo is a flag-driven CLI that opens a database and exercises
// create/find/snapshot from the command line, grounded on the teacher's
// main.go (flag setup, timestamped log file, io.MultiWriter(os.Stdout,
// logFile)).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ESPToolKit/esp-jsondb/src/jsondb"
	"github.com/ESPToolKit/esp-jsondb/src/settings"
)

func printUsage() {
	log.Println("jsondbdemo - an embedded document database, exercised from the command line")
	log.Println("\nUsage:")
	log.Println("  jsondbdemo [options] <command> [args]")
	log.Println("\nCommands:")
	log.Println("  create <collection> <json>     create a document")
	log.Println("  find <collection> <id>         find a document by id")
	log.Println("  snapshot <file>                write a full snapshot to file")
	log.Println("  restore <file>                 restore a full snapshot from file")
	log.Println("\nOptions:")
	flag.PrintDefaults()
}

func buildLogger(verbose bool, logDir string) (*zap.SugaredLogger, func(), error) {
	var zcfg zap.Config
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.OutputPaths = []string{"stdout"}

	cleanup := func() {}
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, cleanup, fmt.Errorf("create log dir: %w", err)
		}
		timestamp := time.Now().Format("2006-01-02_15-04-05")
		logPath := filepath.Join(logDir, fmt.Sprintf("%s_jsondbdemo.log", timestamp))
		logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open log file: %w", err)
		}
		cleanup = func() { logFile.Close() }
		log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, cleanup, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), cleanup, nil
}

func main() {
	args := settings.Defaults()

	flag.StringVar(&args.DataDir, "datadir", args.DataDir, "Directory to store data files")
	flag.StringVar(&args.LogFile, "logdir", "", "Directory to store log files (default: stdout only)")
	flag.BoolVar(&args.Verbose, "verbose", args.Verbose, "Enable verbose logging")
	flag.Int64Var(&args.IntervalMs, "interval", args.IntervalMs, "Background flush interval in milliseconds")
	flag.BoolVar(&args.Autosync, "autosync", args.Autosync, "Enable the background flush task")
	flag.BoolVar(&args.ColdSync, "coldsync", args.ColdSync, "Eagerly load every collection from disk at startup")
	flag.BoolVar(&args.CacheEnabled, "cache", args.CacheEnabled, "Default cache mode for new collections")
	flag.StringVar(&args.PartitionLabel, "partition", args.PartitionLabel, "Opaque partition label surfaced in diagnostics")

	flag.Usage = printUsage
	flag.Parse()

	rest := flag.Args()
	if len(rest) < 1 {
		printUsage()
		os.Exit(1)
	}

	logger, cleanup, err := buildLogger(args.Verbose, args.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := jsondb.Config{
		BaseDir:        args.DataDir,
		IntervalMs:     args.IntervalMs,
		Autosync:       args.Autosync,
		ColdSync:       args.ColdSync,
		CacheEnabled:   args.CacheEnabled,
		InitFileSystem: args.InitFileSystem,
		FormatOnFail:   args.FormatOnFail,
		MaxOpenFiles:   args.MaxOpenFiles,
		PartitionLabel: args.PartitionLabel,
		StackSize:      args.StackSize,
		Priority:       args.Priority,
		CoreID:         args.CoreID,
		Logger:         logger,
	}

	db, st := jsondb.Open(cfg)
	if !st.IsOK() {
		logger.Fatalw("failed to open database", "status", st.String())
	}
	defer db.Close()

	db.OnSync(func() {
		logger.Infow("sync cycle completed")
	})

	cmd := rest[0]
	cmdArgs := rest[1:]

	switch cmd {
	case "create":
		runCreate(db, logger, cmdArgs)
	case "find":
		runFind(db, logger, cmdArgs)
	case "snapshot":
		runSnapshot(db, logger, cmdArgs)
	case "restore":
		runRestore(db, logger, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func runCreate(db *jsondb.Database, logger *zap.SugaredLogger, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: create <collection> <json>")
		os.Exit(1)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(args[1]), &obj); err != nil {
		logger.Fatalw("invalid json document", "error", err)
	}
	col, st := db.Collection(args[0])
	if !st.IsOK() {
		logger.Fatalw("collection lookup failed", "status", st.String())
	}
	id, st := col.Create(obj)
	if !st.IsOK() {
		logger.Fatalw("create failed", "status", st.String())
	}
	if st := db.SyncNow(); !st.IsOK() {
		logger.Warnw("sync after create failed", "status", st.String())
	}
	fmt.Println(id)
}

func runFind(db *jsondb.Database, logger *zap.SugaredLogger, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: find <collection> <id>")
		os.Exit(1)
	}
	col, st := db.Collection(args[0])
	if !st.IsOK() {
		logger.Fatalw("collection lookup failed", "status", st.String())
	}
	view, st := col.FindByID(args[1])
	if !st.IsOK() {
		logger.Fatalw("find failed", "status", st.String())
	}
	out, err := json.MarshalIndent(view.AsObjectConst(), "", "  ")
	if err != nil {
		logger.Fatalw("marshal failed", "error", err)
	}
	fmt.Println(string(out))
}

func runSnapshot(db *jsondb.Database, logger *zap.SugaredLogger, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: snapshot <file>")
		os.Exit(1)
	}
	if st := db.SyncNow(); !st.IsOK() {
		logger.Warnw("sync before snapshot failed", "status", st.String())
	}
	snap, st := db.GetSnapshot()
	if !st.IsOK() {
		logger.Fatalw("snapshot failed", "status", st.String())
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		logger.Fatalw("marshal failed", "error", err)
	}
	if err := os.WriteFile(args[0], out, 0o644); err != nil {
		logger.Fatalw("write snapshot file failed", "error", err)
	}
}

func runRestore(db *jsondb.Database, logger *zap.SugaredLogger, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: restore <file>")
		os.Exit(1)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		logger.Fatalw("read snapshot file failed", "error", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Fatalw("invalid snapshot json", "error", err)
	}
	if st := db.RestoreFromSnapshot(doc); !st.IsOK() {
		logger.Fatalw("restore failed", "status", st.String())
	}
}
