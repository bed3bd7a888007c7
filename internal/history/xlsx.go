package history

import (
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// parseExtractXLSX reads a raw invoice extract (one row per billed line) and
// derives a seed from it: per-(vendor, item) observations in row order,
// per-vendor shipping maxima, and the set of effective tax rates computed as
// tax/subtotal per invoice. The extract carries no alias knowledge, so vendor
// and item alias tables come from the embedded seed.
func parseExtractXLSX(path string) (seedFile, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return seedFile{}, eris.Wrap(err, "history: open xlsx seed")
	}
	if len(f.Sheets) == 0 {
		return seedFile{}, eris.New("history: xlsx seed has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return seedFile{}, eris.New("history: xlsx seed has no data rows")
	}

	cols := make(map[string]int)
	for i, cell := range sheet.Rows[0].Cells {
		cols[normalizeHeader(cell.String())] = i
	}
	for _, alt := range []string{"description", "item", "line_item"} {
		if _, ok := cols["line_description"]; ok {
			break
		}
		if i, ok := cols[alt]; ok {
			cols["line_description"] = i
		}
	}
	for _, name := range []string{"invoice_number", "vendor_name", "line_description", "quantity", "unit_price"} {
		if _, ok := cols[name]; !ok {
			return seedFile{}, eris.Errorf("history: xlsx seed missing column %q", name)
		}
	}

	base, err := parseYAML(embeddedSeed)
	if err != nil {
		return seedFile{}, eris.Wrap(err, "history: embedded seed")
	}
	baseTable, err := buildTable(base)
	if err != nil {
		return seedFile{}, err
	}

	var (
		vendorOrder []string
		itemOrder   = make(map[string][]string)
		items       = make(map[string]map[string]*seedItem)
		shippingMax = make(map[string]float64)
		rateSet     = make(map[float64]bool)
		seenInvoice = make(map[string]bool)
	)

	for n, row := range sheet.Rows[1:] {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[i])
		}

		invoice := get("invoice_number")
		vendor := get("vendor_name")
		if invoice == "" && vendor == "" {
			continue
		}
		if vendor == "" {
			return seedFile{}, eris.Errorf("history: xlsx seed row %d has no vendor", n+2)
		}

		quantity, err := parseAmount(get("quantity"))
		if err != nil {
			return seedFile{}, eris.Wrapf(err, "history: xlsx seed row %d quantity", n+2)
		}
		price, err := parseAmount(get("unit_price"))
		if err != nil {
			return seedFile{}, eris.Wrapf(err, "history: xlsx seed row %d unit price", n+2)
		}

		if _, ok := items[vendor]; !ok {
			vendorOrder = append(vendorOrder, vendor)
			items[vendor] = make(map[string]*seedItem)
		}
		item := baseTable.CanonicalItem(get("line_description"))
		entry, ok := items[vendor][item]
		if !ok {
			entry = &seedItem{Name: item}
			items[vendor][item] = entry
			itemOrder[vendor] = append(itemOrder[vendor], item)
		}
		entry.Observations = append(entry.Observations, seedObservation{
			Price:    price,
			Quantity: quantity,
			Invoice:  invoice,
		})

		if s := get("shipping"); s != "" {
			shipping, err := parseAmount(s)
			if err != nil {
				return seedFile{}, eris.Wrapf(err, "history: xlsx seed row %d shipping", n+2)
			}
			if shipping > shippingMax[vendor] {
				shippingMax[vendor] = shipping
			}
		}

		// Tax rate once per invoice: subtotal and tax repeat on every row.
		if !seenInvoice[invoice] {
			seenInvoice[invoice] = true
			if st, tx := get("subtotal"), get("tax"); st != "" && tx != "" {
				subtotal, err := parseAmount(st)
				if err != nil {
					return seedFile{}, eris.Wrapf(err, "history: xlsx seed row %d subtotal", n+2)
				}
				tax, err := parseAmount(tx)
				if err != nil {
					return seedFile{}, eris.Wrapf(err, "history: xlsx seed row %d tax", n+2)
				}
				if subtotal > 0 {
					rateSet[math.Round(tax/subtotal*10000)/10000] = true
				}
			}
		}
	}

	seed := seedFile{
		Version:     "extract",
		Source:      filepath.Base(path),
		ItemAliases: base.ItemAliases,
	}
	for rate := range rateSet {
		seed.TaxRates = append(seed.TaxRates, rate)
	}
	sort.Float64s(seed.TaxRates)
	if len(seed.TaxRates) == 0 {
		seed.TaxRates = base.TaxRates
	}

	baseAliases := make(map[string][]string, len(base.Vendors))
	for _, v := range base.Vendors {
		baseAliases[normalizeName(v.ID)] = v.Aliases
	}
	for _, vendor := range vendorOrder {
		sv := seedVendor{
			ID:          vendor,
			Aliases:     baseAliases[normalizeName(vendor)],
			ShippingMax: shippingMax[vendor],
		}
		for _, item := range itemOrder[vendor] {
			sv.Items = append(sv.Items, *items[vendor][item])
		}
		seed.Vendors = append(seed.Vendors, sv)
	}

	return seed, nil
}

func normalizeHeader(s string) string {
	folded := strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(strings.Join(strings.Fields(folded), "_"), "-", "_")
}

func parseAmount(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse amount %q", s)
	}
	return v, nil
}
