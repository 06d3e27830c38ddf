package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// Config holds configuration for output generation
type Config struct {
	Format        string
	OutputDir     string
	Verbose       bool
	ExplosionTime time.Duration
	Writer        io.Writer // defaults to stdout
}

// Report is what the CLI prints for one root product
type Report struct {
	RootProductID entities.ProductID
	AsOf          time.Time
	Tree          *entities.CostedNode
	History       []entities.VersionSummary
}

// Generate creates output in the specified format
func Generate(report *Report, config Config) error {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	switch config.Format {
	case "text":
		return generateTextOutput(report, config)
	case "json":
		return generateJSONOutput(report, config)
	case "csv":
		return generateCSVOutput(report, config)
	case "html":
		return generateHTMLOutput(report, config)
	default:
		return fmt.Errorf("unsupported output format: %s", config.Format)
	}
}

// generateTextOutput creates an indented costed tree
func generateTextOutput(report *Report, config Config) error {
	w := config.Writer

	if report.Tree != nil {
		fmt.Fprintf(w, "📊 Costed BOM for %s as of %s\n", report.RootProductID, report.AsOf.Format(time.RFC3339))
		fmt.Fprintf(w, "==========================================\n\n")
		fmt.Fprintf(w, "%-40s %-12s %-12s %-14s\n", "Product", "Qty", "Unit Cost", "Total Cost")
		fmt.Fprintf(w, "%-40s %-12s %-12s %-14s\n",
			"----------------------------------------", "------------", "------------", "--------------")
		writeTextNode(w, report.Tree)
		fmt.Fprintln(w)

		fmt.Fprintf(w, "Total Cost: %s\n", report.Tree.TotalCost.StringFixed(2))
		if report.Tree.CostIncomplete {
			fmt.Fprintf(w, "⚠️  Cost is incomplete: some products have no unit cost (marked *)\n")
		}
		if config.Verbose {
			fmt.Fprintf(w, "Explosion Time: %v\n", config.ExplosionTime)
		}
		fmt.Fprintln(w)
	}

	if len(report.History) > 0 {
		fmt.Fprintf(w, "📋 Version History:\n")
		fmt.Fprintf(w, "%-8s %-26s %-26s %-6s\n", "Version", "Valid From", "Valid To", "Lines")
		fmt.Fprintf(w, "%-8s %-26s %-26s %-6s\n",
			"--------", "--------------------------", "--------------------------", "------")
		for _, v := range report.History {
			validTo := "open"
			if v.ValidTo != nil {
				validTo = v.ValidTo.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%-8d %-26s %-26s %-6d\n", v.Version, v.ValidFrom.Format(time.RFC3339), validTo, v.LineCount)
		}
		fmt.Fprintln(w)
	}

	return nil
}

func writeTextNode(w io.Writer, node *entities.CostedNode) {
	label := strings.Repeat("  ", node.Level) + string(node.ProductID)
	unitCost := node.UnitCost.StringFixed(2)
	if node.CostIncomplete && len(node.Children) == 0 {
		unitCost += "*"
	}
	fmt.Fprintf(w, "%-40s %-12s %-12s %-14s\n", label, node.Quantity.String(), unitCost, node.TotalCost.StringFixed(2))
	for _, child := range node.Children {
		writeTextNode(w, child)
	}
}

type jsonNode struct {
	ProductID      entities.ProductID `json:"product_id"`
	Quantity       decimal.Decimal    `json:"quantity"`
	Level          int                `json:"level"`
	UnitCost       decimal.Decimal    `json:"unit_cost"`
	TotalCost      decimal.Decimal    `json:"total_cost"`
	CostIncomplete bool               `json:"cost_incomplete"`
	Children       []*jsonNode        `json:"children,omitempty"`
}

type jsonVersion struct {
	Version   int        `json:"version"`
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to"`
	LineCount int        `json:"line_count"`
}

type jsonReport struct {
	RootProductID entities.ProductID `json:"root_product_id"`
	AsOf          time.Time          `json:"as_of"`
	Tree          *jsonNode          `json:"tree,omitempty"`
	History       []jsonVersion      `json:"history,omitempty"`
}

func toJSONNode(node *entities.CostedNode) *jsonNode {
	out := &jsonNode{
		ProductID:      node.ProductID,
		Quantity:       node.Quantity,
		Level:          node.Level,
		UnitCost:       node.UnitCost,
		TotalCost:      node.TotalCost,
		CostIncomplete: node.CostIncomplete,
	}
	for _, child := range node.Children {
		out.Children = append(out.Children, toJSONNode(child))
	}
	return out
}

// generateJSONOutput creates JSON output
func generateJSONOutput(report *Report, config Config) error {
	doc := jsonReport{RootProductID: report.RootProductID, AsOf: report.AsOf}
	if report.Tree != nil {
		doc.Tree = toJSONNode(report.Tree)
	}
	for _, v := range report.History {
		doc.History = append(doc.History, jsonVersion(v))
	}

	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if config.OutputDir == "" {
		fmt.Fprintln(config.Writer, string(jsonData))
		return nil
	}

	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	filename := filepath.Join(config.OutputDir, "bom_report.json")
	if err := os.WriteFile(filename, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	if config.Verbose {
		fmt.Fprintf(config.Writer, "💾 JSON results saved to: %s\n", filename)
	}
	return nil
}

// generateCSVOutput writes the costed tree one node per row, depth first
func generateCSVOutput(report *Report, config Config) error {
	if config.OutputDir == "" {
		return writeTreeCSV(config.Writer, report.Tree)
	}

	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	filename := filepath.Join(config.OutputDir, "costed_tree.csv")
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	if err := writeTreeCSV(file, report.Tree); err != nil {
		return fmt.Errorf("failed to write costed tree CSV: %w", err)
	}
	if config.Verbose {
		fmt.Fprintf(config.Writer, "💾 CSV results saved to: %s\n", filename)
	}
	return nil
}

func writeTreeCSV(w io.Writer, tree *entities.CostedNode) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"level", "product_id", "quantity", "unit_cost", "total_cost", "cost_incomplete"}); err != nil {
		return err
	}

	var walk func(node *entities.CostedNode) error
	walk = func(node *entities.CostedNode) error {
		record := []string{
			strconv.Itoa(node.Level),
			string(node.ProductID),
			node.Quantity.String(),
			node.UnitCost.String(),
			node.TotalCost.String(),
			strconv.FormatBool(node.CostIncomplete),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
		for _, child := range node.Children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if tree != nil {
		if err := walk(tree); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
