package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/bomengine/pkg/domain/entities"
)

// CompositionRow is one line of a BOM CSV file. A nil ValidFrom means the
// line takes effect when it is imported.
type CompositionRow struct {
	ParentProductID entities.ProductID
	Line            entities.LineInput
	ValidFrom       *time.Time
}

// VersionBatch is the set of lines that make up one version of one parent
type VersionBatch struct {
	ParentProductID entities.ProductID
	ValidFrom       *time.Time
	Lines           []entities.LineInput
}

// Loader handles loading composition data from CSV files
type Loader struct{}

// NewLoader creates a new CSV loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadCompositionLines loads BOM lines from a CSV file
func (l *Loader) LoadCompositionLines(filename string) ([]CompositionRow, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open BOM file %s: %w", filename, err)
	}
	defer file.Close()

	return l.ReadCompositionLines(file)
}

// ReadCompositionLines parses BOM lines with header
// parent_product_id,child_product_id,qty_per,valid_from
func (l *Loader) ReadCompositionLines(r io.Reader) ([]CompositionRow, error) {
	records, err := readRecords(r, "BOM")
	if err != nil {
		return nil, err
	}

	expectedHeader := []string{"parent_product_id", "child_product_id", "qty_per", "valid_from"}
	if !validateHeader(records[0], expectedHeader) {
		return nil, fmt.Errorf("BOM CSV header mismatch. Expected: %v, Got: %v", expectedHeader, records[0])
	}

	rows := make([]CompositionRow, 0, len(records)-1)
	for i, record := range records[1:] {
		if len(record) != len(expectedHeader) {
			return nil, fmt.Errorf("BOM CSV row %d: expected %d columns, got %d", i+2, len(expectedHeader), len(record))
		}

		row, err := parseCompositionRow(record)
		if err != nil {
			return nil, fmt.Errorf("BOM CSV row %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// LoadUnitCosts loads unit costs from a CSV file
func (l *Loader) LoadUnitCosts(filename string) (entities.UnitCosts, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open unit costs file %s: %w", filename, err)
	}
	defer file.Close()

	return l.ReadUnitCosts(file)
}

// ReadUnitCosts parses unit costs with header product_id,unit_cost
func (l *Loader) ReadUnitCosts(r io.Reader) (entities.UnitCosts, error) {
	records, err := readRecords(r, "unit costs")
	if err != nil {
		return nil, err
	}

	expectedHeader := []string{"product_id", "unit_cost"}
	if !validateHeader(records[0], expectedHeader) {
		return nil, fmt.Errorf("unit costs CSV header mismatch. Expected: %v, Got: %v", expectedHeader, records[0])
	}

	costs := make(entities.UnitCosts, len(records)-1)
	for i, record := range records[1:] {
		if len(record) != len(expectedHeader) {
			return nil, fmt.Errorf("unit costs CSV row %d: expected %d columns, got %d", i+2, len(expectedHeader), len(record))
		}

		productID := entities.ProductID(strings.TrimSpace(record[0]))
		if productID == "" {
			return nil, fmt.Errorf("unit costs CSV row %d: product_id cannot be empty", i+2)
		}
		if _, dup := costs[productID]; dup {
			return nil, fmt.Errorf("unit costs CSV row %d: duplicate product_id %s", i+2, productID)
		}

		cost, err := decimal.NewFromString(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("unit costs CSV row %d: invalid unit_cost: %s", i+2, record[1])
		}
		if cost.IsNegative() {
			return nil, fmt.Errorf("unit costs CSV row %d: unit_cost cannot be negative: %s", i+2, record[1])
		}
		costs[productID] = cost
	}

	return costs, nil
}

// GroupVersions groups rows into one batch per (parent, valid_from), ordered
// so that each parent's versions are created oldest first. Undated batches
// sort after dated ones and take effect at import time, so a parent should
// not mix both.
func GroupVersions(rows []CompositionRow) []VersionBatch {
	index := make(map[string]int)
	var batches []VersionBatch

	for _, row := range rows {
		key := string(row.ParentProductID) + "|"
		if row.ValidFrom != nil {
			key += row.ValidFrom.Format(time.RFC3339Nano)
		}
		i, ok := index[key]
		if !ok {
			i = len(batches)
			index[key] = i
			batches = append(batches, VersionBatch{ParentProductID: row.ParentProductID, ValidFrom: row.ValidFrom})
		}
		batches[i].Lines = append(batches[i].Lines, row.Line)
	}

	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i].ValidFrom, batches[j].ValidFrom
		switch {
		case a == nil && b == nil:
			return batches[i].ParentProductID < batches[j].ParentProductID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		default:
			return batches[i].ParentProductID < batches[j].ParentProductID
		}
	})
	return batches
}

// Helper functions for parsing CSV records

func readRecords(r io.Reader, kind string) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s CSV: %w", kind, err)
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("%s CSV must have header and at least one data row", kind)
	}
	return records, nil
}

func validateHeader(actual, expected []string) bool {
	if len(actual) != len(expected) {
		return false
	}

	for i, col := range expected {
		if strings.ToLower(strings.TrimSpace(actual[i])) != col {
			return false
		}
	}

	return true
}

func parseCompositionRow(record []string) (CompositionRow, error) {
	parent := entities.ProductID(strings.TrimSpace(record[0]))
	if parent == "" {
		return CompositionRow{}, fmt.Errorf("parent_product_id cannot be empty")
	}

	line, err := entities.NewLineInput(entities.ProductID(strings.TrimSpace(record[1])), strings.TrimSpace(record[2]))
	if err != nil {
		return CompositionRow{}, err
	}

	row := CompositionRow{ParentProductID: parent, Line: line}
	if raw := strings.TrimSpace(record[3]); raw != "" {
		validFrom, err := ParseDate(raw)
		if err != nil {
			return CompositionRow{}, err
		}
		row.ValidFrom = &validFrom
	}
	return row, nil
}

// ParseDate accepts YYYY-MM-DD (midnight UTC) or an RFC 3339 timestamp
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format: %s (expected YYYY-MM-DD or RFC 3339)", s)
	}
	return t.UTC(), nil
}
