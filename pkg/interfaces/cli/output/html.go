package output

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/vsinha/bomengine/pkg/domain/entities"
)

//go:embed templates/*.html
var templateFS embed.FS

// HTMLRow is one node of the costed tree, flattened depth first
type HTMLRow struct {
	ProductID  entities.ProductID
	Level      int
	Indent     float64
	Quantity   string
	UnitCost   string
	TotalCost  string
	Incomplete bool
}

// HTMLVersion is one row of the version history table
type HTMLVersion struct {
	Version   int
	ValidFrom string
	ValidTo   string
	LineCount int
}

// TemplateData contains all data for rendering the HTML template
type TemplateData struct {
	RootProductID entities.ProductID
	AsOf          string
	TotalCost     string
	Incomplete    bool
	NodeCount     int
	MaxLevel      int
	Rows          []HTMLRow
	History       []HTMLVersion
	ExplosionTime string
	GeneratedAt   string
}

// RenderHTML renders the report as a standalone HTML page
func RenderHTML(report *Report, config Config) (string, error) {
	data := &TemplateData{
		RootProductID: report.RootProductID,
		AsOf:          report.AsOf.Format(time.RFC3339),
		GeneratedAt:   time.Now().Format("2006-01-02 15:04:05"),
	}
	if config.ExplosionTime > 0 {
		data.ExplosionTime = formatDuration(config.ExplosionTime)
	}

	if report.Tree != nil {
		data.TotalCost = report.Tree.TotalCost.StringFixed(2)
		data.Incomplete = report.Tree.CostIncomplete

		var flatten func(node *entities.CostedNode)
		flatten = func(node *entities.CostedNode) {
			data.Rows = append(data.Rows, HTMLRow{
				ProductID:  node.ProductID,
				Level:      node.Level,
				Indent:     0.8 + 1.2*float64(node.Level),
				Quantity:   node.Quantity.String(),
				UnitCost:   node.UnitCost.StringFixed(2),
				TotalCost:  node.TotalCost.StringFixed(2),
				Incomplete: node.CostIncomplete && len(node.Children) == 0,
			})
			data.MaxLevel = max(data.MaxLevel, node.Level)
			for _, child := range node.Children {
				flatten(child)
			}
		}
		flatten(report.Tree)
		data.NodeCount = len(data.Rows)
	}

	for _, v := range report.History {
		row := HTMLVersion{
			Version:   v.Version,
			ValidFrom: v.ValidFrom.Format(time.RFC3339),
			ValidTo:   "open",
			LineCount: v.LineCount,
		}
		if v.ValidTo != nil {
			row.ValidTo = v.ValidTo.Format(time.RFC3339)
		}
		data.History = append(data.History, row)
	}

	tmpl, err := template.ParseFS(templateFS, "templates/bom_report.html")
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// formatDuration formats a time duration into human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return "< 1ms"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// generateHTMLOutput writes bom_report.html to the output directory, or the
// page itself to the writer when no directory is set
func generateHTMLOutput(report *Report, config Config) error {
	html, err := RenderHTML(report, config)
	if err != nil {
		return fmt.Errorf("failed to generate HTML report: %w", err)
	}

	if config.OutputDir == "" {
		_, err := fmt.Fprint(config.Writer, html)
		return err
	}

	if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	filename := filepath.Join(config.OutputDir, "bom_report.html")
	if err := os.WriteFile(filename, []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}

	if config.Verbose {
		fmt.Fprintf(config.Writer, "🌐 HTML report saved to: %s\n", filename)
	}
	return nil
}
