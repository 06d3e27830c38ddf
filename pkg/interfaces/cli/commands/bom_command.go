package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/vsinha/bomengine/pkg/application/services/bom"
	"github.com/vsinha/bomengine/pkg/domain/entities"
	"github.com/vsinha/bomengine/pkg/domain/repositories"
	domainservices "github.com/vsinha/bomengine/pkg/domain/services"
	"github.com/vsinha/bomengine/pkg/infrastructure/config"
	"github.com/vsinha/bomengine/pkg/infrastructure/events"
	"github.com/vsinha/bomengine/pkg/infrastructure/logger"
	"github.com/vsinha/bomengine/pkg/infrastructure/repositories/csv"
	"github.com/vsinha/bomengine/pkg/infrastructure/repositories/memory"
	"github.com/vsinha/bomengine/pkg/infrastructure/repositories/postgres"
	"github.com/vsinha/bomengine/pkg/infrastructure/repositories/redis"
	"github.com/vsinha/bomengine/pkg/infrastructure/repositories/sqlite"
	"github.com/vsinha/bomengine/pkg/infrastructure/tracing"
	"github.com/vsinha/bomengine/pkg/interfaces/cli/output"
	"github.com/vsinha/bomengine/pkg/interfaces/httpapi"

	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the BOM command
type Config struct {
	ConfigFile string
	BOMFile    string
	CostsFile  string
	Root       string
	AsOf       string
	Format     string
	OutputDir  string
	History    bool
	Serve      bool
	Verbose    bool
	Help       bool

	// Out receives reports; defaults to stdout
	Out io.Writer
}

// BOMCommand wires the engine from configuration and runs one CLI invocation
type BOMCommand struct {
	config Config
	out    io.Writer
}

// NewBOMCommand creates a new BOM command with the given configuration
func NewBOMCommand(config Config) *BOMCommand {
	out := config.Out
	if out == nil {
		out = os.Stdout
	}
	return &BOMCommand{config: config, out: out}
}

// Execute runs the BOM command
func (c *BOMCommand) Execute(ctx context.Context) error {
	if c.config.Help {
		c.showHelp()
		return nil
	}

	if err := c.validateInputs(); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	cfg, err := config.Load(c.config.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.config.Verbose {
		cfg.Log.Mode = "dev"
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	costs, closeCosts, err := c.openCostSource(ctx, cfg.Costs, log)
	if err != nil {
		return err
	}
	defer closeCosts()

	eventStore := events.NewInMemoryEventStore(log)
	engine := bom.NewEngine(store, costs, eventStore, log, bom.EngineConfig{
		MaxDepth:       cfg.Engine.MaxDepth,
		VersionRetries: cfg.Engine.VersionRetries,
		Clock:          time.Now,
	})

	if c.config.BOMFile != "" {
		if err := c.importBOM(ctx, engine); err != nil {
			return err
		}
	}

	if c.config.Root != "" {
		if err := c.report(ctx, engine); err != nil {
			return err
		}
	}

	if c.config.Serve {
		return httpapi.Serve(ctx, cfg.HTTP.Addr, httpapi.RouterConfig{
			Service:        engine,
			Log:            log,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		})
	}
	return nil
}

func (c *BOMCommand) validateInputs() error {
	if c.config.BOMFile == "" && c.config.Root == "" && !c.config.Serve {
		return fmt.Errorf("nothing to do: specify -bom, -root or -serve")
	}
	if c.config.History && c.config.Root == "" {
		return fmt.Errorf("-history requires -root")
	}
	switch c.config.Format {
	case "", "text", "json", "csv", "html":
	default:
		return fmt.Errorf("unsupported output format: %s", c.config.Format)
	}
	return nil
}

// openStore builds the composition store selected by configuration
func openStore(ctx context.Context, cfg config.StoreConfig) (repositories.CompositionStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewCompositionStore(), func() {}, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		store := sqlite.NewCompositionStore(db)
		if err := store.CreateTables(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to create sqlite tables: %w", err)
		}
		return store, func() { db.Close() }, nil

	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store := postgres.NewCompositionStore(pool)
		if err := store.CreateTables(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to create postgres tables: %w", err)
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// openCostSource builds the unit cost repository. A -costs file overrides
// costs.file; with the redis source it is written into the hash first.
func (c *BOMCommand) openCostSource(ctx context.Context, cfg config.CostsConfig, log *logger.Logger) (repositories.UnitCostRepository, func(), error) {
	file := c.config.CostsFile
	if file == "" {
		file = cfg.File
	}

	var costs entities.UnitCosts
	if file != "" {
		loaded, err := csv.NewLoader().LoadUnitCosts(file)
		if err != nil {
			return nil, nil, fmt.Errorf("error loading unit costs: %w", err)
		}
		costs = loaded
	}

	switch cfg.Source {
	case "redis":
		rdb, err := redis.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		repo := redis.NewUnitCostRepository(rdb, cfg.RedisKey, log)
		if err := repo.SetUnitCosts(ctx, costs); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		return repo, func() { rdb.Close() }, nil

	default:
		return memory.NewUnitCostTable(costs), func() {}, nil
	}
}

// importBOM validates the BOM file at every cutover instant it describes,
// then applies it one version at a time, oldest first.
func (c *BOMCommand) importBOM(ctx context.Context, engine *bom.Engine) error {
	rows, err := csv.NewLoader().LoadCompositionLines(c.config.BOMFile)
	if err != nil {
		return fmt.Errorf("error loading BOM: %w", err)
	}

	batches := csv.GroupVersions(rows)
	if err := validateBatches(ctx, batches); err != nil {
		return err
	}

	startTime := time.Now()
	for _, batch := range batches {
		snapshot, err := engine.CreateNewVersion(ctx, batch.ParentProductID, batch.Lines, batch.ValidFrom)
		if err != nil {
			return fmt.Errorf("failed to import BOM of %s: %w", batch.ParentProductID, err)
		}
		if c.config.Verbose {
			fmt.Fprintf(c.out, "  %s v%d from %s: %d lines\n",
				snapshot.ParentProductID, snapshot.Version, snapshot.ValidFrom.Format(time.RFC3339), snapshot.LineCount)
		}
	}

	if c.config.Verbose {
		fmt.Fprintf(c.out, "✅ Imported %d BOM lines as %d versions in %v\n\n", len(rows), len(batches), time.Since(startTime))
	}
	return nil
}

// validateBatches audits the composition each dated cutover produces, plus
// the final composition once undated batches apply. Instants are checked in
// parallel; the earliest failing one is reported.
func validateBatches(ctx context.Context, batches []csv.VersionBatch) error {
	validator := domainservices.NewBOMValidator()

	// undated rows apply at import time, which cannot be ordered against a
	// dated version of the same parent
	dated := make(map[entities.ProductID]bool)
	undated := make(map[entities.ProductID]bool)
	for _, batch := range batches {
		if batch.ValidFrom != nil {
			dated[batch.ParentProductID] = true
		} else {
			undated[batch.ParentProductID] = true
		}
	}
	for _, batch := range batches {
		if dated[batch.ParentProductID] && undated[batch.ParentProductID] {
			return fmt.Errorf("BOM validation failed: %s mixes dated and undated rows; give every row of %s a valid_from",
				batch.ParentProductID, batch.ParentProductID)
		}
	}

	var instants []time.Time
	seen := make(map[int64]bool)
	for _, batch := range batches {
		if batch.ValidFrom != nil && !seen[batch.ValidFrom.UnixNano()] {
			seen[batch.ValidFrom.UnixNano()] = true
			instants = append(instants, *batch.ValidFrom)
		}
	}
	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })

	check := func(label string, include func(csv.VersionBatch) bool) error {
		latest := make(map[entities.ProductID]csv.VersionBatch)
		for _, batch := range batches {
			if include(batch) {
				latest[batch.ParentProductID] = batch
			}
		}

		var edges []*entities.CompositionEdge
		for parentID, batch := range latest {
			for _, line := range batch.Lines {
				edges = append(edges, &entities.CompositionEdge{
					ParentProductID:   parentID,
					ChildProductID:    line.ChildProductID,
					QuantityPerParent: line.QuantityPerParent,
				})
			}
		}

		result := validator.ValidateGraph(edges)
		if !result.Valid() {
			return fmt.Errorf("BOM validation failed at %s: %s", label, strings.Join(result.Errors, "; "))
		}
		return nil
	}

	// batches are ordered by date, so the last included batch per parent wins
	errs := make([]error, len(instants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, instant := range instants {
		i, instant := i, instant
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			errs[i] = check(instant.Format(time.RFC3339), func(b csv.VersionBatch) bool {
				return b.ValidFrom != nil && !b.ValidFrom.After(instant)
			})
			return errs[i]
		})
	}
	waitErr := g.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	if waitErr != nil {
		return waitErr
	}
	return check("import time", func(csv.VersionBatch) bool { return true })
}

func (c *BOMCommand) report(ctx context.Context, engine *bom.Engine) error {
	root := entities.ProductID(c.config.Root)

	asOf := time.Now().UTC()
	if c.config.AsOf != "" {
		parsed, err := csv.ParseDate(c.config.AsOf)
		if err != nil {
			return fmt.Errorf("invalid -as-of: %w", err)
		}
		asOf = parsed
	}

	startTime := time.Now()
	costed, err := engine.CalculateExplodedCost(ctx, root, &asOf)
	if err != nil {
		return fmt.Errorf("error exploding %s: %w", root, err)
	}
	explosionTime := time.Since(startTime)

	report := &output.Report{RootProductID: root, AsOf: asOf, Tree: costed}
	if c.config.History {
		report.History, err = engine.GetVersionHistory(ctx, root)
		if err != nil {
			return fmt.Errorf("error reading version history of %s: %w", root, err)
		}
	}

	format := c.config.Format
	if format == "" {
		format = "text"
	}
	return output.Generate(report, output.Config{
		Format:        format,
		OutputDir:     c.config.OutputDir,
		Verbose:       c.config.Verbose,
		ExplosionTime: explosionTime,
		Writer:        c.out,
	})
}

// showHelp displays the help message
func (c *BOMCommand) showHelp() {
	fmt.Fprintf(c.out, `BOM Engine CLI - time-versioned bills of materials with cost rollup

USAGE:
    bomengine -bom <file> -costs <file> -root <product>   # Import, explode and cost
    bomengine -config <file> -serve                       # Run the HTTP API

OPTIONS:
    -config <file>      YAML configuration (store, engine, http, log, costs)
    -bom <file>         BOM CSV to import as versions
    -costs <file>       Unit costs CSV
    -root <product>     Product to explode and cost
    -as-of <date>       Explode as of YYYY-MM-DD or RFC 3339 (default: now)
    -format <fmt>       Output format: text, json, csv, html (default: text)
    -output <dir>       Output directory for json/csv/html results (optional)
    -history            Print the version history of -root
    -serve              Start the HTTP API after importing
    -verbose            Enable verbose output
    -help               Show this help message

CSV FILE FORMATS:

bom.csv:
    parent_product_id,child_product_id,qty_per,valid_from
    SATURN_V,S_IC_STAGE,1,1967-01-01
    S_IC_STAGE,F1_ENGINE,5,1967-01-01
    F1_ENGINE,TURBOPUMP,1,

    Rows sharing a parent and valid_from form one version; an empty
    valid_from takes effect at import time.

costs.csv:
    product_id,unit_cost
    F1_ENGINE,2500000
    TURBOPUMP,350000.50

ENVIRONMENT:
    BOM_STORE_DRIVER, BOM_STORE_DSN, BOM_MAX_DEPTH, BOM_VERSION_RETRIES,
    BOM_HTTP_ADDR, BOM_LOG_MODE, BOM_COSTS_SOURCE, BOM_COSTS_FILE,
    BOM_REDIS_ADDR, BOM_REDIS_KEY override the configuration file.

EXAMPLES:
    # Cost the Saturn V stack as of the Apollo 11 launch
    bomengine -bom examples/saturn_v/bom.csv -costs examples/saturn_v/costs.csv -root SATURN_V -as-of 1969-07-16

    # Show the version history as JSON
    bomengine -bom data/bom.csv -root F1_ENGINE -history -format json

    # Serve the API over a sqlite store
    BOM_STORE_DRIVER=sqlite BOM_STORE_DSN=bom.db bomengine -serve
`)
}
