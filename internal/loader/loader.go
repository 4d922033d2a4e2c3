// Package loader reads the raw input files of a data directory into loosely-typed rows for
// reconciliation. It does no type checking beyond splitting cells.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresuchdata/supplyplan/internal/reconcile"
	"github.com/rs/zerolog"
)

// Default file names inside a data directory
const (
	ItemsFile          = "items.csv"
	InventoryFile      = "inventory.csv"
	OrdersFile         = "orders.csv"
	ProductionFile     = "production.csv"
	ProductionXLSXFile = "production.xlsx"
	LanesFile          = "lanes.csv"
)

// ErrMissingInput is returned when a required table has no file
var ErrMissingInput = errors.New("required input file not found")

// Files names the input file of each table. Empty paths are skipped.
type Files struct {
	Items      string
	Inventory  string
	Orders     string
	Production string
	Lanes      string
}

// DiscoverFiles resolves the table files present in dir. Production comes from
// production.csv when present, otherwise from production.xlsx.
func DiscoverFiles(dir string) Files {
	pick := func(names ...string) string {
		for _, name := range names {
			p := filepath.Join(dir, name)
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				return p
			}
		}
		return ""
	}
	return Files{
		Items:      pick(ItemsFile),
		Inventory:  pick(InventoryFile),
		Orders:     pick(OrdersFile),
		Production: pick(ProductionFile, ProductionXLSXFile),
		Lanes:      pick(LanesFile),
	}
}

// Loader reads table files into reconcile.RawTables
type Loader struct {
	log zerolog.Logger
}

// New creates a new Loader
func New(log zerolog.Logger) *Loader {
	return &Loader{log: log.With().Str("component", "loader").Logger()}
}

// LoadDir loads every table found in dir. Inventory and orders are required.
func (l *Loader) LoadDir(ctx context.Context, dir string) (reconcile.RawTables, error) {
	files := DiscoverFiles(dir)
	if files.Inventory == "" {
		return reconcile.RawTables{}, fmt.Errorf("%w: %s", ErrMissingInput, filepath.Join(dir, InventoryFile))
	}
	if files.Orders == "" {
		return reconcile.RawTables{}, fmt.Errorf("%w: %s", ErrMissingInput, filepath.Join(dir, OrdersFile))
	}
	return l.Load(ctx, files)
}

// Load reads the given files
func (l *Loader) Load(ctx context.Context, files Files) (reconcile.RawTables, error) {
	var raw reconcile.RawTables
	targets := []struct {
		table string
		path  string
		dest  *[]reconcile.Row
	}{
		{reconcile.TableItems, files.Items, &raw.Items},
		{reconcile.TableInventory, files.Inventory, &raw.Inventory},
		{reconcile.TableOrders, files.Orders, &raw.Orders},
		{reconcile.TableProduction, files.Production, &raw.Production},
		{reconcile.TableLanes, files.Lanes, &raw.Lanes},
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return raw, err
		}
		if t.path == "" {
			l.log.Warn().Str("table", t.table).Msg("No input file, table left empty")
			continue
		}

		var rows []reconcile.Row
		var err error
		if t.table == reconcile.TableProduction && isXLSX(t.path) {
			rows, err = ReadProductionMatrixFile(t.path)
		} else {
			rows, err = ReadCSVFile(t.path)
		}
		if err != nil {
			return raw, fmt.Errorf("failed to load %s table: %w", t.table, err)
		}
		*t.dest = rows
		l.log.Info().Str("table", t.table).Str("path", t.path).Int("rows", len(rows)).Msg("Loaded table")
	}
	return raw, nil
}

func isXLSX(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".xlsx" || ext == ".xlsm"
}

// ReadCSVFile opens path and reads it with ReadCSV
func ReadCSVFile(path string) ([]reconcile.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// ReadCSV reads a headed CSV document. Each record becomes a row keyed by the raw header
// names, numbered with its line in the source. Blank records are skipped.
func ReadCSV(r io.Reader) ([]reconcile.Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []reconcile.Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if row, ok := toRow(line, header, record); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// toRow zips header and cells, dropping unnamed columns. ok is false for an all-blank record.
func toRow(line int, header, record []string) (reconcile.Row, bool) {
	data := make(map[string]interface{}, len(header))
	blank := true
	for i, name := range header {
		if strings.TrimSpace(name) == "" || i >= len(record) {
			continue
		}
		cell := record[i]
		if strings.TrimSpace(cell) != "" {
			blank = false
		}
		data[name] = cell
	}
	if blank {
		return reconcile.Row{}, false
	}
	return reconcile.Row{Line: line, Data: data}, true
}
