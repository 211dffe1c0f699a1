package canonical

// normalize.go turns one raw CSV row into canonical field groups using the
// user-supplied column mapping. Dispatch is by typed field target rather than
// string prefix matching; paths nobody registered still pass through so a new
// QBO field can be mapped without a code change.

import "strings"

// FieldKind tags how a mapped value is interpreted.
type FieldKind int

const (
	KindString FieldKind = iota
	KindBool
	KindEmail
	KindPhone
	KindURL
)

// FieldTarget describes where a canonical field path lands in the normalized
// record. Attr is empty for top-level scalars.
type FieldTarget struct {
	Kind  FieldKind
	Group string
	Attr  string
}

// fieldTargets registers every canonical path the customer schema understands.
var fieldTargets = map[string]FieldTarget{
	"DisplayName": {Kind: KindString, Group: "DisplayName"},
	"CompanyName": {Kind: KindString, Group: "CompanyName"},
	"Title":       {Kind: KindString, Group: "Title"},
	"GivenName":   {Kind: KindString, Group: "GivenName"},
	"MiddleName":  {Kind: KindString, Group: "MiddleName"},
	"FamilyName":  {Kind: KindString, Group: "FamilyName"},
	"Suffix":      {Kind: KindString, Group: "Suffix"},
	"Notes":       {Kind: KindString, Group: "Notes"},

	"Taxable":        {Kind: KindBool, Group: "Taxable"},
	"Active":         {Kind: KindBool, Group: "Active"},
	"Job":            {Kind: KindBool, Group: "Job"},
	"BillWithParent": {Kind: KindBool, Group: "BillWithParent"},

	"PrimaryEmailAddr.Address": {Kind: KindEmail, Group: "PrimaryEmailAddr", Attr: "Address"},
	"WebAddr.URI":              {Kind: KindURL, Group: "WebAddr", Attr: "URI"},

	"PrimaryPhone.FreeFormNumber":   {Kind: KindPhone, Group: "PrimaryPhone", Attr: "FreeFormNumber"},
	"Mobile.FreeFormNumber":         {Kind: KindPhone, Group: "Mobile", Attr: "FreeFormNumber"},
	"Fax.FreeFormNumber":            {Kind: KindPhone, Group: "Fax", Attr: "FreeFormNumber"},
	"AlternatePhone.FreeFormNumber": {Kind: KindPhone, Group: "AlternatePhone", Attr: "FreeFormNumber"},
}

// addressGroups are collected field-by-field and validated as a unit.
var addressGroups = map[string]bool{
	"BillAddr": true,
	"ShipAddr": true,
}

// ParseBool interprets the CSV spellings QBO boolean columns show up with.
// Anything outside the accepted set is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "on", "t":
		return true
	}
	return false
}

// Normalize applies mapping (CSV column -> canonical field path) to one raw
// row. Empty and whitespace-only values are dropped so downstream defaults
// apply. Dotted paths under a known group collapse into nested objects;
// unrecognized paths are preserved unchanged.
func Normalize(mapping map[string]string, row map[string]string) map[string]any {
	data := make(map[string]any)

	for header, path := range mapping {
		raw := strings.TrimSpace(row[header])
		if raw == "" {
			continue
		}

		if target, ok := fieldTargets[path]; ok {
			switch target.Kind {
			case KindBool:
				data[target.Group] = ParseBool(raw)
			case KindString:
				data[target.Group] = raw
			default:
				data[target.Group] = map[string]string{target.Attr: raw}
			}
			continue
		}

		if group, attr, found := strings.Cut(path, "."); found {
			nested, _ := data[group].(map[string]string)
			if nested == nil {
				nested = make(map[string]string)
				data[group] = nested
			}
			nested[attr] = raw
			continue
		}

		// Unknown plain target passes through verbatim.
		data[path] = raw
	}

	// An address mapped entirely to blank cells must not reach the provider
	// as an empty object.
	for group := range addressGroups {
		if addr, ok := data[group].(map[string]string); ok {
			empty := true
			for _, v := range addr {
				if strings.TrimSpace(v) != "" {
					empty = false
					break
				}
			}
			if empty {
				delete(data, group)
			}
		}
	}

	return data
}
