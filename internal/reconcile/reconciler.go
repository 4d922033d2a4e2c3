// Package reconcile converts loosely-typed rows from a loader into validated domain records.
// Rows that fail validation are quarantined with a reason instead of reaching the KPI engine
// or the optimizer.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/andresuchdata/supplyplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Table names used in rejections
const (
	TableItems      = "items"
	TableInventory  = "inventory"
	TableOrders     = "orders"
	TableProduction = "production"
	TableLanes      = "lanes"
)

// Column aliases, checked in order after header normalization
var (
	skuColumns         = []string{"sku", "item", "item_code", "product"}
	warehouseColumns   = []string{"warehouse", "location", "site", "wh"}
	onHandColumns      = []string{"available", "on_hand", "onhand", "quantity", "qty"}
	orderIDColumns     = []string{"order_id", "order", "order_no", "so_number"}
	cityColumns        = []string{"city", "destination", "market"}
	channelColumns     = []string{"channel"}
	customerColumns    = []string{"customer", "customer_name"}
	orderQtyColumns    = []string{"qty_ord", "quantity", "qty", "ordered"}
	salesColumns       = []string{"sales_$", "sales$", "sales_value", "sales"}
	expectedColumns    = []string{"expected", "expected_date", "due_date"}
	weekColumns        = []string{"week", "week_no", "week_number"}
	producedColumns    = []string{"produced", "quantity", "qty", "planned"}
	siteColumns        = []string{"site", "warehouse", "plant"}
	originColumns      = []string{"origin", "warehouse", "from"}
	destinationColumns = []string{"destination", "city", "to"}
	costColumns        = []string{"unit_cost", "cost", "cost_per_unit"}
	capacityColumns    = []string{"capacity", "lane_capacity", "cap"}
	priceColumns       = []string{"unit_price", "price"}
	categoryColumns    = []string{"category"}
)

// Row is one record as produced by a loader; Line is its 1-based source line.
type Row struct {
	Line int                    `json:"line"`
	Data map[string]interface{} `json:"data"`
}

// RawTables are the loader's output for one data set
type RawTables struct {
	Items      []Row
	Inventory  []Row
	Orders     []Row
	Production []Row
	Lanes      []Row
}

// Policy decides what happens when rows are quarantined
type Policy string

const (
	PolicyWarn   Policy = "warn"
	PolicyStrict Policy = "strict"
)

// ParsePolicy maps a configuration value onto a Policy. Empty means warn.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyWarn:
		return PolicyWarn, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", &domain.ConfigurationError{Field: "quarantine_policy", Value: s, Reason: "must be warn or strict"}
	}
}

// Catalog lists the known keys. An empty set accepts every value for that key.
type Catalog struct {
	SKUs       map[domain.SKU]struct{}
	Warehouses map[domain.Location]struct{}
	Cities     map[domain.Location]struct{}
}

func (c Catalog) knownSKU(s domain.SKU) bool {
	if len(c.SKUs) == 0 {
		return true
	}
	_, ok := c.SKUs[s]
	return ok
}

func (c Catalog) knownWarehouse(l domain.Location) bool {
	if len(c.Warehouses) == 0 {
		return true
	}
	_, ok := c.Warehouses[l]
	return ok
}

func (c Catalog) knownCity(l domain.Location) bool {
	if len(c.Cities) == 0 {
		return true
	}
	_, ok := c.Cities[l]
	return ok
}

// Options configures a Reconciler
type Options struct {
	Policy  Policy
	Catalog Catalog
	Supply  domain.SupplyOptions
}

// Result is the clean dataset, its keyed views and the quarantined rows
type Result struct {
	Dataset  *domain.Dataset
	Views    domain.Views
	Rejected []domain.Rejection
}

// Reconciler validates raw tables. It keeps no state between calls.
type Reconciler struct {
	opts Options
	log  zerolog.Logger
}

func NewReconciler(opts Options, log zerolog.Logger) *Reconciler {
	if opts.Policy == "" {
		opts.Policy = PolicyWarn
	}
	return &Reconciler{
		opts: opts,
		log:  log.With().Str("component", "reconcile").Logger(),
	}
}

// Reconcile validates every table. Under the strict policy any rejection makes it return a
// *domain.DataQualityError alongside the populated result.
func (r *Reconciler) Reconcile(raw RawTables) (*Result, error) {
	rec := &rejections{}
	catalog := r.opts.Catalog

	items := r.items(raw.Items, rec)
	if len(catalog.SKUs) == 0 && len(items) > 0 {
		catalog.SKUs = make(map[domain.SKU]struct{}, len(items))
		for _, it := range items {
			catalog.SKUs[it.SKU] = struct{}{}
		}
	}

	ds := &domain.Dataset{
		Items:      items,
		Inventory:  r.inventory(raw.Inventory, catalog, rec),
		Orders:     r.orders(raw.Orders, catalog, rec),
		Production: r.production(raw.Production, catalog, rec),
		Lanes:      r.lanes(raw.Lanes, catalog, rec),
	}

	rejected := rec.sorted()
	res := &Result{
		Dataset:  ds,
		Views:    domain.BuildViews(ds, r.opts.Supply),
		Rejected: rejected,
	}

	r.log.Info().
		Int("inventory", len(ds.Inventory)).
		Int("orders", len(ds.Orders)).
		Int("production", len(ds.Production)).
		Int("lanes", len(ds.Lanes)).
		Int("rejected", len(rejected)).
		Msg("Reconciliation finished")

	if len(rejected) == 0 {
		return res, nil
	}
	if r.opts.Policy == PolicyStrict {
		return res, &domain.DataQualityError{Rejections: rejected}
	}
	for _, rej := range rejected {
		r.log.Warn().
			Str("table", rej.Table).
			Int("line", rej.Line).
			Str("reason", rej.Reason).
			Msg("Row quarantined")
	}
	return res, nil
}

type rejections struct {
	list []domain.Rejection
}

func (r *rejections) add(table string, row Row, format string, args ...interface{}) {
	r.list = append(r.list, domain.Rejection{
		Table:  table,
		Line:   row.Line,
		Reason: fmt.Sprintf(format, args...),
		Row:    row.Data,
	})
}

var tableOrder = map[string]int{
	TableItems:      0,
	TableInventory:  1,
	TableOrders:     2,
	TableProduction: 3,
	TableLanes:      4,
}

func (r *rejections) sorted() []domain.Rejection {
	out := append([]domain.Rejection(nil), r.list...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return tableOrder[out[i].Table] < tableOrder[out[j].Table]
		}
		return out[i].Line < out[j].Line
	})
	return out
}

func (r *Reconciler) items(rows []Row, rec *rejections) []domain.Item {
	seen := make(map[domain.SKU]int)
	var out []domain.Item
	for _, row := range rows {
		data := normalizeRow(row.Data)
		v, ok := lookup(data, skuColumns...)
		if !ok {
			rec.add(TableItems, row, "blank sku")
			continue
		}
		item := domain.Item{SKU: domain.SKU(toString(v)), UnitPrice: decimal.Zero}
		if pv, ok := lookup(data, priceColumns...); ok {
			price, err := toDecimal(pv)
			if err != nil {
				rec.add(TableItems, row, "unit_price: %v", err)
				continue
			}
			if price.IsNegative() {
				rec.add(TableItems, row, "negative unit_price %s", price)
				continue
			}
			item.UnitPrice = price
		}
		if cv, ok := lookup(data, categoryColumns...); ok {
			item.Category = toString(cv)
		}
		if idx, dup := seen[item.SKU]; dup {
			out[idx] = item
			continue
		}
		seen[item.SKU] = len(out)
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

func (r *Reconciler) inventory(rows []Row, catalog Catalog, rec *rejections) []domain.InventoryRecord {
	latest := make(map[domain.SupplyKey]domain.InventoryRecord)
	for _, row := range rows {
		data := normalizeRow(row.Data)
		sku, wh, ok := r.keyPair(TableInventory, row, data, skuColumns, warehouseColumns, rec)
		if !ok {
			continue
		}
		if !catalog.knownSKU(sku) {
			rec.add(TableInventory, row, "unknown sku %q", sku)
			continue
		}
		if !catalog.knownWarehouse(wh) {
			rec.add(TableInventory, row, "unknown warehouse %q", wh)
			continue
		}
		qv, ok := lookup(data, onHandColumns...)
		if !ok {
			rec.add(TableInventory, row, "missing on-hand quantity")
			continue
		}
		qty, err := toQuantity(qv)
		if err != nil {
			rec.add(TableInventory, row, "on-hand: %v", err)
			continue
		}
		key := domain.SupplyKey{SKU: sku, Warehouse: wh}
		if _, dup := latest[key]; dup {
			r.log.Debug().Str("sku", string(sku)).Str("warehouse", string(wh)).Int("line", row.Line).
				Msg("Duplicate inventory row, keeping the latest")
		}
		latest[key] = domain.InventoryRecord{SKU: sku, Warehouse: wh, OnHand: qty}
	}

	out := make([]domain.InventoryRecord, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SKU != out[j].SKU {
			return out[i].SKU < out[j].SKU
		}
		return out[i].Warehouse < out[j].Warehouse
	})
	return out
}

func (r *Reconciler) orders(rows []Row, catalog Catalog, rec *rejections) []domain.OrderRecord {
	out := make([]domain.OrderRecord, 0, len(rows))
	for _, row := range rows {
		data := normalizeRow(row.Data)
		sku, city, ok := r.keyPair(TableOrders, row, data, skuColumns, cityColumns, rec)
		if !ok {
			continue
		}
		if !catalog.knownSKU(sku) {
			rec.add(TableOrders, row, "unknown sku %q", sku)
			continue
		}
		if !catalog.knownCity(city) {
			rec.add(TableOrders, row, "unknown city %q", city)
			continue
		}
		qv, ok := lookup(data, orderQtyColumns...)
		if !ok {
			rec.add(TableOrders, row, "missing order quantity")
			continue
		}
		qty, err := toQuantity(qv)
		if err != nil {
			rec.add(TableOrders, row, "quantity: %v", err)
			continue
		}

		order := domain.OrderRecord{SKU: sku, City: city, Quantity: qty, SalesValue: decimal.Zero}
		if sv, ok := lookup(data, salesColumns...); ok {
			value, err := toDecimal(sv)
			if err != nil {
				rec.add(TableOrders, row, "sales value: %v", err)
				continue
			}
			if value.IsNegative() {
				rec.add(TableOrders, row, "negative sales value %s", value)
				continue
			}
			order.SalesValue = value
		}
		if ev, ok := lookup(data, expectedColumns...); ok {
			expected, err := toDate(ev)
			if err != nil {
				rec.add(TableOrders, row, "expected date: %v", err)
				continue
			}
			order.Expected = expected
		}
		if v, ok := lookup(data, orderIDColumns...); ok {
			order.OrderID = toString(v)
		}
		if v, ok := lookup(data, channelColumns...); ok {
			order.Channel = toString(v)
		}
		if v, ok := lookup(data, customerColumns...); ok {
			order.Customer = toString(v)
		}
		out = append(out, order)
	}
	return out
}

type productionKey struct {
	sku  domain.SKU
	week int
	site domain.Location
}

func (r *Reconciler) production(rows []Row, catalog Catalog, rec *rejections) []domain.ProductionRecord {
	seen := make(map[productionKey]int)
	out := make([]domain.ProductionRecord, 0, len(rows))
	for _, row := range rows {
		data := normalizeRow(row.Data)
		sv, ok := lookup(data, skuColumns...)
		if !ok {
			rec.add(TableProduction, row, "blank sku")
			continue
		}
		sku := domain.SKU(toString(sv))
		if !catalog.knownSKU(sku) {
			rec.add(TableProduction, row, "unknown sku %q", sku)
			continue
		}
		wv, ok := lookup(data, weekColumns...)
		if !ok {
			rec.add(TableProduction, row, "missing week")
			continue
		}
		week, err := toWeek(wv)
		if err != nil {
			rec.add(TableProduction, row, "week: %v", err)
			continue
		}
		if week <= 0 {
			rec.add(TableProduction, row, "non-positive week %d", week)
			continue
		}
		qv, ok := lookup(data, producedColumns...)
		if !ok {
			rec.add(TableProduction, row, "missing produced quantity")
			continue
		}
		qty, err := toQuantity(qv)
		if err != nil {
			rec.add(TableProduction, row, "produced: %v", err)
			continue
		}
		var site domain.Location
		if v, ok := lookup(data, siteColumns...); ok {
			site = domain.Location(toString(v))
			if !catalog.knownWarehouse(site) {
				rec.add(TableProduction, row, "unknown site %q", site)
				continue
			}
		}

		key := productionKey{sku: sku, week: week, site: site}
		if first, dup := seen[key]; dup {
			rec.add(TableProduction, row, "duplicate production row for sku %q week %d (first at line %d)", sku, week, first)
			continue
		}
		seen[key] = row.Line
		out = append(out, domain.ProductionRecord{SKU: sku, Week: week, Site: site, Quantity: qty})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SKU != out[j].SKU {
			return out[i].SKU < out[j].SKU
		}
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].Week < out[j].Week
	})
	return out
}

func (r *Reconciler) lanes(rows []Row, catalog Catalog, rec *rejections) []domain.LaneRecord {
	latest := make(map[domain.LaneKey]domain.LaneRecord)
	for _, row := range rows {
		data := normalizeRow(row.Data)
		ov, ok := lookup(data, originColumns...)
		if !ok {
			rec.add(TableLanes, row, "blank origin")
			continue
		}
		dv, ok := lookup(data, destinationColumns...)
		if !ok {
			rec.add(TableLanes, row, "blank destination")
			continue
		}
		origin, dest := domain.Location(toString(ov)), domain.Location(toString(dv))
		if !catalog.knownWarehouse(origin) {
			rec.add(TableLanes, row, "unknown origin %q", origin)
			continue
		}
		if !catalog.knownCity(dest) {
			rec.add(TableLanes, row, "unknown destination %q", dest)
			continue
		}

		var cost float64
		if cv, ok := lookup(data, costColumns...); ok {
			c, err := toNonNegativeFloat(cv, "unit cost")
			if err != nil {
				rec.add(TableLanes, row, "unit cost: %v", err)
				continue
			}
			cost = c
		}
		capv, ok := lookup(data, capacityColumns...)
		if !ok {
			rec.add(TableLanes, row, "missing capacity")
			continue
		}
		capacity, err := toQuantity(capv)
		if err != nil {
			rec.add(TableLanes, row, "capacity: %v", err)
			continue
		}

		key := domain.LaneKey{Origin: origin, Destination: dest}
		if _, dup := latest[key]; dup {
			r.log.Debug().Str("origin", string(origin)).Str("destination", string(dest)).Int("line", row.Line).
				Msg("Duplicate lane row, keeping the latest")
		}
		latest[key] = domain.LaneRecord{Origin: origin, Destination: dest, UnitCost: cost, Capacity: capacity}
	}

	out := make([]domain.LaneRecord, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Origin != out[j].Origin {
			return out[i].Origin < out[j].Origin
		}
		return out[i].Destination < out[j].Destination
	})
	return out
}

// keyPair extracts a (sku, location) pair, rejecting blanks
func (r *Reconciler) keyPair(table string, row Row, data map[string]interface{}, skuCols, locCols []string, rec *rejections) (domain.SKU, domain.Location, bool) {
	sv, ok := lookup(data, skuCols...)
	if !ok {
		rec.add(table, row, "blank sku")
		return "", "", false
	}
	lv, ok := lookup(data, locCols...)
	if !ok {
		rec.add(table, row, "blank location")
		return "", "", false
	}
	return domain.SKU(toString(sv)), domain.Location(toString(lv)), true
}
