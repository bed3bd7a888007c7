// Package history holds the static vendor price table: approved vendors and
// their aliases, per-item price observations from past invoices, and the
// invoice-wide reference policies (known tax rates, per-vendor shipping
// maxima). The table is loaded once at startup and is read-only after that.
package history

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/stackbirds/invoiceguard/internal/model"
)

type key struct {
	vendor string
	item   string
}

// Table is the static vendor history store. Safe for concurrent reads.
type Table struct {
	version      string
	source       string
	taxRates     []float64
	itemAliases  map[string]string
	vendors      []string
	vendorIDs    map[string]string // normalized canonical name -> canonical
	vendorAlias  map[string]string // normalized alias -> canonical
	vendorItems  map[string][]string
	shippingMax  map[string]decimal.Decimal
	observations map[key][]model.PriceObservation
}

func buildTable(seed seedFile) (*Table, error) {
	t := &Table{
		version:      seed.Version,
		source:       seed.Source,
		taxRates:     append([]float64(nil), seed.TaxRates...),
		itemAliases:  make(map[string]string, len(seed.ItemAliases)),
		vendorIDs:    make(map[string]string, len(seed.Vendors)),
		vendorAlias:  make(map[string]string),
		vendorItems:  make(map[string][]string, len(seed.Vendors)),
		shippingMax:  make(map[string]decimal.Decimal, len(seed.Vendors)),
		observations: make(map[key][]model.PriceObservation),
	}

	for alias, canonical := range seed.ItemAliases {
		t.itemAliases[normalizeName(alias)] = canonical
	}

	for _, v := range seed.Vendors {
		if v.ID == "" {
			return nil, eris.New("history: vendor with empty id")
		}
		folded := normalizeName(v.ID)
		if _, dup := t.vendorIDs[folded]; dup {
			return nil, eris.Errorf("history: duplicate vendor %q", v.ID)
		}
		t.vendorIDs[folded] = v.ID
		t.vendors = append(t.vendors, v.ID)

		if v.ShippingMax > 0 {
			t.shippingMax[v.ID] = decimal.NewFromFloat(v.ShippingMax)
		}

		for _, alias := range v.Aliases {
			na := normalizeName(alias)
			if existing, ok := t.vendorAlias[na]; ok && existing != v.ID {
				return nil, eris.Errorf("history: alias %q maps to both %q and %q", alias, existing, v.ID)
			}
			t.vendorAlias[na] = v.ID
		}

		for _, item := range v.Items {
			if item.Name == "" {
				return nil, eris.Errorf("history: vendor %q has an item with no name", v.ID)
			}
			k := key{vendor: v.ID, item: item.Name}
			if _, dup := t.observations[k]; dup {
				return nil, eris.Errorf("history: vendor %q lists item %q twice", v.ID, item.Name)
			}
			t.vendorItems[v.ID] = append(t.vendorItems[v.ID], item.Name)
			for _, o := range item.Observations {
				if o.Price < 0 || o.Quantity <= 0 {
					return nil, eris.Errorf("history: vendor %q item %q has an invalid observation", v.ID, item.Name)
				}
				t.observations[k] = append(t.observations[k], model.PriceObservation{
					VendorID:      v.ID,
					Item:          item.Name,
					Quantity:      decimal.NewFromFloat(o.Quantity),
					UnitPrice:     decimal.NewFromFloat(o.Price),
					InvoiceNumber: o.Invoice,
					Origin:        model.OriginStatic,
				})
			}
		}
		sort.Strings(t.vendorItems[v.ID])
	}

	sort.Strings(t.vendors)
	return t, nil
}

// Version reports the seed metadata version.
func (t *Table) Version() string { return t.version }

// Source reports where the seed data came from.
func (t *Table) Source() string { return t.source }

// Vendors returns the canonical vendor names, sorted.
func (t *Table) Vendors() []string {
	return append([]string(nil), t.vendors...)
}

// Items returns the item names with history for a vendor, sorted.
func (t *Table) Items(vendorID string) []string {
	return append([]string(nil), t.vendorItems[vendorID]...)
}

// CanonicalVendor resolves a raw vendor name that equals a canonical entry
// (case and whitespace insensitive).
func (t *Table) CanonicalVendor(raw string) (string, bool) {
	id, ok := t.vendorIDs[normalizeName(raw)]
	return id, ok
}

// VendorByAlias resolves a raw vendor name through the known alias list.
func (t *Table) VendorByAlias(raw string) (string, bool) {
	id, ok := t.vendorAlias[normalizeName(raw)]
	return id, ok
}

// Observations returns the static price history for a (vendor, item) pair,
// or nil when the pair has none. The item must already be canonical.
func (t *Table) Observations(vendorID, item string) []model.PriceObservation {
	obs := t.observations[key{vendor: vendorID, item: item}]
	if len(obs) == 0 {
		return nil
	}
	out := make([]model.PriceObservation, len(obs))
	copy(out, obs)
	return out
}

// ShippingMax reports the highest shipping charge seen for a vendor.
func (t *Table) ShippingMax(vendorID string) (decimal.Decimal, bool) {
	m, ok := t.shippingMax[vendorID]
	return m, ok
}

// ValidTaxRates returns the effective tax rates seen in historical data.
func (t *Table) ValidTaxRates() []float64 {
	return append([]float64(nil), t.taxRates...)
}

// Counts reports table size: vendors, (vendor, item) pairs, observations.
func (t *Table) Counts() (vendors, items, observations int) {
	for _, obs := range t.observations {
		observations += len(obs)
	}
	return len(t.vendors), len(t.observations), observations
}

// monthSuffix matches trailing context like " - Nov" or " - nov 2025" that
// extractors leave on rental line descriptions. Applied to folded names.
var monthSuffix = regexp.MustCompile(`\s*[-–]\s*(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec).*$`)

// CanonicalItem normalizes an item description to its canonical form,
// handling OCR artifacts, abbreviations, and trailing month context
// ("Cable Mgmt Kit" -> "Cable Management Kit", "Standing Desk Rental - Nov"
// -> "Standing Desk Rental"). Unknown descriptions come back trimmed but
// otherwise untouched.
func (t *Table) CanonicalItem(description string) string {
	if description == "" {
		return description
	}
	cleaned := strings.TrimSpace(description)
	folded := normalizeName(cleaned)

	if canonical, ok := t.itemAliases[folded]; ok {
		return canonical
	}

	stripped := monthSuffix.ReplaceAllString(folded, "")
	if canonical, ok := t.itemAliases[stripped]; ok {
		return canonical
	}

	expanded := strings.ReplaceAll(folded, "mgmt", "management")
	expanded = strings.ReplaceAll(expanded, "maint", "maintenance")
	expanded = strings.ReplaceAll(expanded, "equip", "equipment")
	if canonical, ok := t.itemAliases[expanded]; ok {
		return canonical
	}

	return cleaned
}

// normalizeName folds a raw name for lookup: unicode compatibility
// normalization, lowercase, whitespace collapse.
func normalizeName(s string) string {
	folded := strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
	return strings.Join(strings.Fields(folded), " ")
}
