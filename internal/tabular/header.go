package tabular

import "strings"

// Canonical header labels used across the workbook.
const (
	ColCaseID      = "Case ID"
	ColRep         = "Rep"
	ColRole        = "Role (Assigned/Assisted)"
	ColInclude     = "Include?"
	ColCustomer    = "Customer Name"
	ColSalesStage  = "Sales Stage"
	ColConversion  = "Conversion Status"
	ColOrderStatus = "Custom Order Status"
	ColUpdatedBy   = "Updated By"
	ColUpdatedAt   = "Updated At"
	ColDaysStale   = "Days Since Last Update"
	ColAssigned    = "Assigned Rep"
	ColAssisted    = "Assisted Rep"
)

// synonyms maps a canonical label to accepted variants. Header resolution
// tries the canonical spelling first, then each variant.
var synonyms = map[string][]string{
	ColCaseID:      {"RootApptID", "Root Appt ID", "RootID", "Appt ID", "Appointment ID"},
	ColRep:         {"Sales Rep", "Owner"},
	ColRole:        {"Role"},
	ColInclude:     {"Include? (Y/N)", "Include"},
	ColCustomer:    {"Customer", "Name"},
	ColOrderStatus: {"Order Status", "Status"},
	ColAssigned:    {"Assigned"},
	ColAssisted:    {"Assisted"},
}

func normLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// HeaderMap resolves column positions by label. It is rebuilt from the
// header row on every open, so reordered or added columns are tolerated.
type HeaderMap struct {
	byLabel map[string]int
}

// NewHeaderMap indexes a header row.
func NewHeaderMap(header []string) HeaderMap {
	m := make(map[string]int, len(header))
	for i, h := range header {
		key := normLabel(h)
		if key == "" {
			continue
		}
		if _, exists := m[key]; !exists {
			m[key] = i
		}
	}
	return HeaderMap{byLabel: m}
}

// Col returns the zero-based index for a canonical label, consulting the
// synonym table; -1 when absent.
func (hm HeaderMap) Col(label string) int {
	if i, ok := hm.byLabel[normLabel(label)]; ok {
		return i
	}
	for _, alt := range synonyms[label] {
		if i, ok := hm.byLabel[normLabel(alt)]; ok {
			return i
		}
	}
	return -1
}

// Has reports whether the label (or a synonym) resolves.
func (hm HeaderMap) Has(label string) bool { return hm.Col(label) >= 0 }

// Missing returns the subset of labels that do not resolve.
func (hm HeaderMap) Missing(labels ...string) []string {
	var out []string
	for _, l := range labels {
		if !hm.Has(l) {
			out = append(out, l)
		}
	}
	return out
}
