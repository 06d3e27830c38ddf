package commands

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// GenerateConfig holds configuration for scenario generation
type GenerateConfig struct {
	Products  int       // Total number of products to generate
	MaxDepth  int       // Maximum depth of BOM tree
	Revisions float64   // Fraction of assemblies that get a second version
	StartDate time.Time // valid_from of the first versions
	OutputDir string    // Output directory for generated files
	Seed      int64     // Random seed for reproducible generation
	Help      bool
	Verbose   bool
	Out       io.Writer
}

// GenerateCommand writes a synthetic bom.csv and costs.csv, mostly for load tests
type GenerateCommand struct {
	config GenerateConfig
	rand   *rand.Rand
	out    io.Writer
}

// NewGenerateCommand creates a new generate command
func NewGenerateCommand(config GenerateConfig) *GenerateCommand {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if config.StartDate.IsZero() {
		config.StartDate = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	out := config.Out
	if out == nil {
		out = os.Stdout
	}

	return &GenerateCommand{
		config: config,
		rand:   rand.New(rand.NewSource(seed)),
		out:    out,
	}
}

// genNode is a product in the generated structure
type genNode struct {
	ProductID entities.ProductID
	Level     int
	Children  []genLine
	Parents   []*genNode
}

type genLine struct {
	Child       *genNode
	QuantityPer int
}

// Execute runs the generate command
func (cmd *GenerateCommand) Execute(ctx context.Context) error {
	if cmd.config.Help {
		cmd.printHelp()
		return nil
	}
	if cmd.config.Products < 1 || cmd.config.MaxDepth < 1 || cmd.config.OutputDir == "" {
		return fmt.Errorf("validation error: -products, -max-depth and -output are required")
	}
	if cmd.config.Revisions < 0 || cmd.config.Revisions > 1 {
		return fmt.Errorf("validation error: -revisions must be between 0 and 1, got %.2f", cmd.config.Revisions)
	}

	if cmd.config.Verbose {
		fmt.Fprintf(cmd.out, "🔧 Generating %d products, max depth %d, %.0f%% revised\n",
			cmd.config.Products, cmd.config.MaxDepth, cmd.config.Revisions*100)
		fmt.Fprintf(cmd.out, "📁 Output directory: %s\n", cmd.config.OutputDir)
	}

	if err := os.MkdirAll(cmd.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	nodes := cmd.generateTree()
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := cmd.generateBOM(nodes); err != nil {
		return fmt.Errorf("failed to generate BOM: %w", err)
	}
	if err := cmd.generateCosts(nodes); err != nil {
		return fmt.Errorf("failed to generate costs: %w", err)
	}

	if cmd.config.Verbose {
		fmt.Fprintf(cmd.out, "✅ Scenario generated successfully in %s\n", cmd.config.OutputDir)
	}
	return nil
}

// generateTree builds a layered DAG with shared components
func (cmd *GenerateCommand) generateTree() []*genNode {
	var nodes []*genNode

	numRoots := max(1, cmd.config.Products/50+cmd.rand.Intn(3))
	numRoots = min(numRoots, cmd.config.Products)

	var currentLevel []*genNode
	for i := 0; i < numRoots; i++ {
		node := &genNode{ProductID: entities.ProductID(fmt.Sprintf("ROOT_ASSEMBLY_%03d", i+1))}
		nodes = append(nodes, node)
		currentLevel = append(currentLevel, node)
	}

	level := 0
	for level < cmd.config.MaxDepth && len(nodes) < cmd.config.Products {
		level++
		var nextLevel []*genNode

		for _, parent := range currentLevel {
			// Each parent gets 2-8 children
			numChildren := 2 + cmd.rand.Intn(7)
			used := make(map[entities.ProductID]bool)

			for i := 0; i < numChildren && len(nodes) < cmd.config.Products; i++ {
				var child *genNode

				// 20% chance to share a product one level up or deeper
				if level > 1 && cmd.rand.Float64() < 0.2 {
					candidates := cmd.shareableNodes(nodes, level, parent, used)
					if len(candidates) > 0 {
						child = candidates[cmd.rand.Intn(len(candidates))]
					}
				}

				if child == nil {
					child = &genNode{
						ProductID: entities.ProductID(fmt.Sprintf("PART_L%d_%05d", level, len(nodes))),
						Level:     level,
					}
					nodes = append(nodes, child)
					nextLevel = append(nextLevel, child)
				}

				qty := 1 + cmd.rand.Intn(5)
				if level > 2 {
					qty += cmd.rand.Intn(5)
				}
				used[child.ProductID] = true
				parent.Children = append(parent.Children, genLine{Child: child, QuantityPer: qty})
				child.Parents = append(child.Parents, parent)
			}
		}

		if len(nextLevel) == 0 {
			break
		}
		currentLevel = nextLevel
	}

	return nodes
}

// shareableNodes lists products parent may reuse without closing a cycle
func (cmd *GenerateCommand) shareableNodes(
	nodes []*genNode,
	level int,
	parent *genNode,
	used map[entities.ProductID]bool,
) []*genNode {
	var candidates []*genNode
	for _, node := range nodes {
		if node.Level < level-1 || len(node.Parents) >= 3 || used[node.ProductID] || node == parent {
			continue
		}
		if !isAncestor(node, parent, make(map[entities.ProductID]bool)) {
			candidates = append(candidates, node)
		}
	}
	return candidates
}

// isAncestor reports whether candidate sits above node in the structure
func isAncestor(candidate, node *genNode, visited map[entities.ProductID]bool) bool {
	if visited[node.ProductID] {
		return false
	}
	visited[node.ProductID] = true

	for _, parent := range node.Parents {
		if parent == candidate || isAncestor(candidate, parent, visited) {
			return true
		}
	}
	return false
}

// generateBOM writes bom.csv: one version per assembly, plus a later
// revision with rescaled quantities for a fraction of them
func (cmd *GenerateCommand) generateBOM(nodes []*genNode) error {
	file, err := os.Create(filepath.Join(cmd.config.OutputDir, "bom.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	fmt.Fprintln(file, "parent_product_id,child_product_id,qty_per,valid_from")

	start := cmd.config.StartDate.Format("2006-01-02")
	var revised []*genNode
	for _, parent := range nodes {
		if len(parent.Children) == 0 {
			continue
		}
		for _, line := range parent.Children {
			fmt.Fprintf(file, "%s,%s,%d,%s\n", parent.ProductID, line.Child.ProductID, line.QuantityPer, start)
		}
		if cmd.rand.Float64() < cmd.config.Revisions {
			revised = append(revised, parent)
		}
	}

	// Revisions keep the same children so they cannot introduce cycles
	for _, parent := range revised {
		cutover := cmd.config.StartDate.AddDate(0, 1+cmd.rand.Intn(12), 0).Format("2006-01-02")
		for _, line := range parent.Children {
			qty := max(1, line.QuantityPer+cmd.rand.Intn(3)-1)
			fmt.Fprintf(file, "%s,%s,%d,%s\n", parent.ProductID, line.Child.ProductID, qty, cutover)
		}
	}

	if cmd.config.Verbose {
		fmt.Fprintf(cmd.out, "🔗 bom.csv: %d products, %d revised assemblies\n", len(nodes), len(revised))
	}
	return nil
}

// generateCosts writes costs.csv; deeper products are cheaper
func (cmd *GenerateCommand) generateCosts(nodes []*genNode) error {
	file, err := os.Create(filepath.Join(cmd.config.OutputDir, "costs.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	fmt.Fprintln(file, "product_id,unit_cost")

	sorted := make([]*genNode, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	for _, node := range sorted {
		base := int64(100000 >> min(node.Level*2, 16))
		cents := base*100 + cmd.rand.Int63n(base*100+1)
		fmt.Fprintf(file, "%s,%s\n", node.ProductID, decimal.New(cents, -2).StringFixed(2))
	}
	return nil
}

func (cmd *GenerateCommand) printHelp() {
	fmt.Fprintln(cmd.out, `BOM Scenario Generator

USAGE:
    bomengine generate [OPTIONS]

OPTIONS:
    -products <N>       Number of products to generate (required)
    -max-depth <N>      Maximum depth of BOM tree (required)
    -revisions <F>      Fraction of assemblies given a second version (default: 0.1)
    -output <DIR>       Output directory for bom.csv and costs.csv (required)
    -seed <N>           Random seed for reproducible generation (optional)
    -verbose            Enable verbose output
    -help               Show this help message

EXAMPLES:
    # Generate small test scenario
    bomengine generate -products 100 -max-depth 5 -output ./test_scenario

    # Generate a large scenario and cost one root
    bomengine generate -products 30000 -max-depth 8 -output ./large -seed 12345
    bomengine -bom ./large/bom.csv -costs ./large/costs.csv -root ROOT_ASSEMBLY_001`)
}
