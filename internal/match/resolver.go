// Package match resolves extracted vendor names against the approved vendor
// list. Resolution here is deterministic: exact canonical match, then the
// alias table. Fuzzy matching belongs to the upstream extraction collaborator;
// its match blocks arrive on the input payload and are validated, not
// recomputed.
package match

import (
	"strings"

	"github.com/stackbirds/invoiceguard/internal/history"
	"github.com/stackbirds/invoiceguard/internal/model"
)

// Confidence per resolution method. Alias hits score slightly below exact so
// the decision engine can distinguish them without flagging either.
const (
	exactConfidence = 1.0
	aliasConfidence = 0.95
)

// Resolver matches vendor names against the static table.
type Resolver struct {
	table *history.Table
}

// NewResolver builds a resolver over the loaded vendor table.
func NewResolver(table *history.Table) *Resolver {
	return &Resolver{table: table}
}

// Resolve matches a printed vendor name against the approved list.
func (r *Resolver) Resolve(raw string) model.VendorMatch {
	if strings.TrimSpace(raw) == "" {
		return model.VendorMatch{RawName: raw, Method: model.MatchNone}
	}
	if id, ok := r.table.CanonicalVendor(raw); ok {
		return model.VendorMatch{VendorID: id, RawName: raw, Method: model.MatchExact, Confidence: exactConfidence}
	}
	if id, ok := r.table.VendorByAlias(raw); ok {
		return model.VendorMatch{VendorID: id, RawName: raw, Method: model.MatchAlias, Confidence: aliasConfidence}
	}
	return model.VendorMatch{RawName: raw, Method: model.MatchNone}
}

// ResolveExtraction returns the effective vendor match for an extraction.
// A usable upstream match block wins, since it may carry fuzzy knowledge the
// resolver does not have; it is still validated against the approved list and
// its confidence clamped to [0, 1]. Anything else falls back to deterministic
// resolution of the printed name.
func (r *Resolver) ResolveExtraction(ex model.ExtractionResult) model.VendorMatch {
	if m := ex.Match; m != nil && m.Method != model.MatchNone && m.VendorID != "" {
		if id, ok := r.table.CanonicalVendor(m.VendorID); ok {
			out := *m
			out.VendorID = id
			if out.RawName == "" {
				out.RawName = ex.Invoice.VendorName
			}
			if out.Confidence < 0 {
				out.Confidence = 0
			}
			if out.Confidence > 1 {
				out.Confidence = 1
			}
			return out
		}
		// Upstream points at a vendor not on the approved list; distrust it.
	}
	return r.Resolve(ex.Invoice.VendorName)
}
