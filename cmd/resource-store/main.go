// Command resource-store serves and maintains a store of named resources for
// memory-constrained clients.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Storage   string `help:"Storage directory path." default:"./data" env:"RS_STORAGE" type:"path"`
	Ledger    string `help:"Ledger persistence (json, bolt)." default:"json" enum:"json,bolt" env:"RS_LEDGER"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error" env:"RS_LOG_LEVEL"`
	LogFormat string `help:"Log format (text, json)." default:"text" enum:"text,json" env:"RS_LOG_FORMAT"`
	LogFile   string `help:"Also write logs to this rotating file." env:"RS_LOG_FILE"`

	AccessLogMaxSizeMB  int  `help:"Rotate the access log after this many megabytes." default:"100" env:"RS_ACCESS_LOG_MAX_SIZE_MB"`
	AccessLogMaxBackups int  `help:"Rotated access logs to keep." default:"5" env:"RS_ACCESS_LOG_MAX_BACKUPS"`
	AccessLogCompress   bool `help:"Compress rotated access logs." env:"RS_ACCESS_LOG_COMPRESS"`

	Version kong.VersionFlag `help:"Print version and exit."`
}

// CLI is the command line of resource-store.
type CLI struct {
	Globals

	Serve     ServeCmd     `cmd:"" default:"1" help:"Run the HTTP server (default)."`
	Optimize  OptimizeCmd  `cmd:"" help:"Evict resources until the store fits a size budget."`
	Stats     StatsCmd     `cmd:"" help:"Print store statistics as JSON."`
	Reconcile ReconcileCmd `cmd:"" help:"Repair the ledger against the payload files."`
	Seed      SeedCmd      `cmd:"" help:"Install the demo resources that are missing."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("resource-store"),
		kong.Description("Resource store for memory-constrained clients."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, closeLog, err := newLogger(&cli.Globals, os.Stderr)
	ctx.FatalIfErrorf(err)
	slog.SetDefault(logger)

	err = ctx.Run(&cli.Globals, logger)
	if cerr := closeLog(); cerr != nil {
		fmt.Fprintf(os.Stderr, "error: closing log file: %v\n", cerr)
	}
	ctx.FatalIfErrorf(err)
}

// newLogger builds the process logger. With a log file configured the
// console output is teed to a rotating file.
func newLogger(g *Globals, console io.Writer) (*slog.Logger, func() error, error) {
	var level slog.Level
	switch g.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", g.LogLevel)
	}

	w := console
	closeLog := func() error { return nil }
	if g.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   g.LogFile,
			MaxSize:    100,
			MaxBackups: 3,
			LocalTime:  true,
		}
		w = io.MultiWriter(console, file)
		closeLog = file.Close
	}

	var handler slog.Handler
	switch g.LogFormat {
	case "text":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
			NoColor:    g.LogFile != "",
		})
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, nil, fmt.Errorf("invalid log format: %s", g.LogFormat)
	}

	return slog.New(handler), closeLog, nil
}
