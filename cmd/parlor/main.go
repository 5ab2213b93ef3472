// Package main is the entry point for the parlor pack host.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dshills/parlor/internal/app"
	"github.com/dshills/parlor/internal/config"
	"github.com/dshills/parlor/internal/pack"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

type cliOptions struct {
	app.Options
	list     bool
	validate string
}

func run() int {
	opts := parseFlags()

	if opts.validate != "" {
		return runValidate(opts.validate)
	}
	if opts.list {
		return runList(opts)
	}

	application, err := app.New(opts.Options)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer application.Close()

	// Handle signals for graceful shutdown
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals
		application.Shutdown()
	}()

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}

// runList discovers packs on the effective search paths and prints them.
func runList(opts cliOptions) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	paths := cfg.Packs.Paths
	if len(opts.PackPaths) > 0 {
		paths = opts.PackPaths
	}

	loader := pack.NewLoader(pack.WithPaths(paths...))
	infos, err := loader.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(infos) == 0 {
		fmt.Println("no packs found")
		return 0
	}

	fmt.Printf("%-24s %-10s %-10s %s\n", "NAME", "VERSION", "STATE", "PATH")
	for _, info := range infos {
		ver := "-"
		if info.Manifest != nil {
			ver = info.Manifest.Version
		}
		fmt.Printf("%-24s %-10s %-10s %s\n", info.Name, ver, info.State, info.Path)
		if info.Error != nil {
			fmt.Printf("    error: %v\n", info.Error)
		}
	}
	return 0
}

// runValidate checks a single pack directory.
func runValidate(dir string) int {
	loader := pack.NewLoader()
	if err := loader.ValidatePack(dir); err != nil {
		fmt.Fprintf(os.Stderr, "invalid pack %s: %v\n", dir, err)
		return 1
	}
	fmt.Printf("ok: %s\n", dir)
	return 0
}

// stringsFlag collects repeated flag values.
type stringsFlag []string

func (s *stringsFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringsFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func parseFlags() cliOptions {
	var opts cliOptions
	var packPaths stringsFlag
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.DataDir, "data", "", "Data directory override")
	flag.Var(&packPaths, "packs", "Pack directory to search instead of the configured paths (repeatable)")
	flag.BoolVar(&opts.list, "list", false, "List discovered packs and exit")
	flag.StringVar(&opts.validate, "validate", "", "Validate a pack directory and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Parlor - community pack host for the game catalogue\n\n")
		fmt.Fprintf(os.Stderr, "Usage: parlor [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  parlor                      Run the host with installed packs\n")
		fmt.Fprintf(os.Stderr, "  parlor -list                Show every discovered pack\n")
		fmt.Fprintf(os.Stderr, "  parlor -validate ./mypack   Check a pack before installing\n")
		fmt.Fprintf(os.Stderr, "  parlor -packs ./dev-packs   Host packs from a development directory\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("Parlor %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	opts.PackPaths = packPaths
	return opts
}
