package model

// MatchMethod records how a vendor name was resolved to its canonical entry.
type MatchMethod string

// Vendor match methods. Fuzzy matches arrive from the upstream matcher;
// the in-process resolver only produces exact, alias, or none.
const (
	MatchExact MatchMethod = "exact"
	MatchAlias MatchMethod = "alias"
	MatchFuzzy MatchMethod = "fuzzy"
	MatchNone  MatchMethod = "none"
)

// VendorMatch is the resolution of an invoice's printed vendor name against
// the approved vendor list.
type VendorMatch struct {
	VendorID   string      `json:"vendor_id"`
	RawName    string      `json:"raw_name,omitempty"`
	Method     MatchMethod `json:"method"`
	Confidence float64     `json:"confidence"`
}

// Matched reports whether the vendor resolved to an approved entry.
func (m VendorMatch) Matched() bool {
	return m.Method != MatchNone && m.VendorID != ""
}
