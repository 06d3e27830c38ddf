package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vsinha/bomengine/pkg/interfaces/cli/commands"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "generate" {
		runGenerate(os.Args[2:])
		return
	}

	// Command line flags
	var (
		configFile = flag.String("config", "", "Path to YAML configuration file")
		bomFile    = flag.String("bom", "", "Path to BOM CSV file to import")
		costsFile  = flag.String("costs", "", "Path to unit costs CSV file")
		root       = flag.String("root", "", "Product to explode and cost")
		asOf       = flag.String("as-of", "", "Explode as of YYYY-MM-DD or RFC 3339 (default: now)")
		format     = flag.String("format", "text", "Output format: text, json, csv, html")
		outputDir  = flag.String("output", "", "Output directory for results (optional)")
		history    = flag.Bool("history", false, "Print the version history of -root")
		serve      = flag.Bool("serve", false, "Start the HTTP API")
		verbose    = flag.Bool("verbose", false, "Enable verbose output")
		help       = flag.Bool("help", false, "Show help message")
	)

	flag.Parse()

	config := commands.Config{
		ConfigFile: *configFile,
		BOMFile:    *bomFile,
		CostsFile:  *costsFile,
		Root:       *root,
		AsOf:       *asOf,
		Format:     *format,
		OutputDir:  *outputDir,
		History:    *history,
		Serve:      *serve,
		Verbose:    *verbose,
		Help:       *help,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := commands.NewBOMCommand(config)
	if err := cmd.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func runGenerate(args []string) {
	flags := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		products  = flags.Int("products", 0, "Number of products to generate")
		maxDepth  = flags.Int("max-depth", 0, "Maximum depth of BOM tree")
		revisions = flags.Float64("revisions", 0.1, "Fraction of assemblies given a second version")
		outputDir = flags.String("output", "", "Output directory for generated files")
		seed      = flags.Int64("seed", 0, "Random seed for reproducible generation")
		verbose   = flags.Bool("verbose", false, "Enable verbose output")
		help      = flags.Bool("help", false, "Show help message")
	)
	flags.Parse(args)

	cmd := commands.NewGenerateCommand(commands.GenerateConfig{
		Products:  *products,
		MaxDepth:  *maxDepth,
		Revisions: *revisions,
		OutputDir: *outputDir,
		Seed:      *seed,
		Verbose:   *verbose,
		Help:      *help,
	})
	if err := cmd.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
