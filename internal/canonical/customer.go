package canonical

// customer.go defines the typed customer record and the validation rules that
// make a row acceptable to the QBO customer entity. Field limits mirror the
// provider's published schema; violating any of them yields one Issue with a
// dotted field path.

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"
)

// DefaultCountry is filled in when a recognized US state code is present and
// the row did not supply a country.
const DefaultCountry = "USA"

// MaxDisplayNameLen bounds the only required field.
const MaxDisplayNameLen = 500

// Email is the QBO PrimaryEmailAddr substructure.
type Email struct {
	Address string
}

// Phone is the QBO free-form phone substructure, shared by PrimaryPhone,
// Mobile, Fax and AlternatePhone.
type Phone struct {
	FreeFormNumber string
}

// WebAddr is the QBO website substructure.
type WebAddr struct {
	URI string
}

// Address is the QBO physical address substructure used for both billing and
// shipping addresses.
type Address struct {
	Line1                  string
	Line2                  string
	Line3                  string
	City                   string
	CountrySubDivisionCode string
	PostalCode             string
	Country                string
}

// Customer is the canonical in-memory record for one CSV row after
// normalization and validation. It exists only between validation and payload
// construction; persistence keeps the serialized payload instead.
type Customer struct {
	DisplayName string

	CompanyName string
	Title       string
	GivenName   string
	MiddleName  string
	FamilyName  string
	Suffix      string
	Notes       string

	Taxable        *bool
	Active         *bool
	Job            *bool
	BillWithParent *bool

	PrimaryEmailAddr *Email
	PrimaryPhone     *Phone
	Mobile           *Phone
	Fax              *Phone
	AlternatePhone   *Phone
	WebAddr          *WebAddr

	BillAddr *Address
	ShipAddr *Address

	// Extra carries unrecognized mapping targets through to the payload so
	// new provider fields work without a schema change here.
	Extra map[string]any
}

// scalarLimits are the provider's max lengths for plain string fields.
var scalarLimits = map[string]int{
	"CompanyName": 500,
	"Title":       16,
	"GivenName":   100,
	"MiddleName":  100,
	"FamilyName":  100,
	"Suffix":      16,
	"Notes":       2000,
}

const (
	maxPhoneLen = 30
	maxURLLen   = 2000
)

var addressLimits = map[string]int{
	"Line1":                  500,
	"Line2":                  500,
	"Line3":                  500,
	"City":                   100,
	"CountrySubDivisionCode": 100,
	"PostalCode":             30,
	"Country":                100,
}

// usStateCodes triggers the USA country default on addresses.
var usStateCodes = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true, "DC": true, "PR": true,
}

// Build constructs and validates a Customer from normalized data. It returns
// the record together with every issue found; callers decide whether any
// error-level issue blocks the row.
func Build(data map[string]any) (*Customer, []Issue) {
	c := &Customer{}
	var issues []Issue

	name, _ := data["DisplayName"].(string)
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		issues = append(issues, Issue{
			Level: LevelError, Code: CodeRequiredMissing,
			Message: "DisplayName is required", Field: "DisplayName",
		})
	case utf8.RuneCountInString(name) > MaxDisplayNameLen:
		issues = append(issues, Issue{
			Level: LevelError, Code: CodeTooLong,
			Message: fmt.Sprintf("DisplayName exceeds %d characters", MaxDisplayNameLen),
			Field:   "DisplayName",
		})
	}
	c.DisplayName = name

	for key, val := range data {
		switch key {
		case "DisplayName":
			// handled above

		case "CompanyName", "Title", "GivenName", "MiddleName", "FamilyName", "Suffix", "Notes":
			s := trimString(val)
			if s == "" {
				continue
			}
			if limit := scalarLimits[key]; utf8.RuneCountInString(s) > limit {
				issues = append(issues, tooLong(key, limit))
				continue
			}
			c.setScalar(key, s)

		case "Taxable", "Active", "Job", "BillWithParent":
			if b, ok := val.(bool); ok {
				c.setBool(key, b)
			}

		case "PrimaryEmailAddr":
			addr := strings.TrimSpace(nestedAttr(val, "Address"))
			if addr == "" {
				continue
			}
			if emailIssues := validateEmail(addr); len(emailIssues) > 0 {
				issues = append(issues, emailIssues...)
				continue
			}
			c.PrimaryEmailAddr = &Email{Address: addr}

		case "PrimaryPhone", "Mobile", "Fax", "AlternatePhone":
			number := strings.TrimSpace(nestedAttr(val, "FreeFormNumber"))
			if number == "" {
				continue
			}
			if utf8.RuneCountInString(number) > maxPhoneLen {
				issues = append(issues, tooLong(key+".FreeFormNumber", maxPhoneLen))
				continue
			}
			c.setPhone(key, &Phone{FreeFormNumber: number})

		case "WebAddr":
			uri := strings.TrimSpace(nestedAttr(val, "URI"))
			if uri == "" {
				continue
			}
			cleaned, urlIssues := cleanURL(uri)
			if len(urlIssues) > 0 {
				issues = append(issues, urlIssues...)
				continue
			}
			c.WebAddr = &WebAddr{URI: cleaned}

		case "BillAddr", "ShipAddr":
			addr, addrIssues := buildAddress(key, val)
			issues = append(issues, addrIssues...)
			if key == "BillAddr" {
				c.BillAddr = addr
			} else {
				c.ShipAddr = addr
			}

		default:
			if c.Extra == nil {
				c.Extra = make(map[string]any)
			}
			c.Extra[key] = val
		}
	}

	return c, issues
}

// Body returns the customer serialized the way the QBO create endpoint expects
// it, with empty substructures omitted and addresses without a street line
// dropped entirely (the provider silently ignores them otherwise).
func (c *Customer) Body() map[string]any {
	body := map[string]any{"DisplayName": c.DisplayName}

	putString(body, "CompanyName", c.CompanyName)
	putString(body, "Title", c.Title)
	putString(body, "GivenName", c.GivenName)
	putString(body, "MiddleName", c.MiddleName)
	putString(body, "FamilyName", c.FamilyName)
	putString(body, "Suffix", c.Suffix)
	putString(body, "Notes", c.Notes)

	putBool(body, "Taxable", c.Taxable)
	putBool(body, "Active", c.Active)
	putBool(body, "Job", c.Job)
	putBool(body, "BillWithParent", c.BillWithParent)

	if c.PrimaryEmailAddr != nil {
		body["PrimaryEmailAddr"] = map[string]any{"Address": c.PrimaryEmailAddr.Address}
	}
	if c.WebAddr != nil {
		body["WebAddr"] = map[string]any{"URI": c.WebAddr.URI}
	}
	putPhone(body, "PrimaryPhone", c.PrimaryPhone)
	putPhone(body, "Mobile", c.Mobile)
	putPhone(body, "Fax", c.Fax)
	putPhone(body, "AlternatePhone", c.AlternatePhone)

	putAddress(body, "BillAddr", c.BillAddr)
	putAddress(body, "ShipAddr", c.ShipAddr)

	for k, v := range c.Extra {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}

	return body
}

// Payload wraps Body under the entity-type key the provider's request shape
// requires.
func (c *Customer) Payload() map[string]any {
	return map[string]any{"Customer": c.Body()}
}

func (c *Customer) setScalar(key, val string) {
	switch key {
	case "CompanyName":
		c.CompanyName = val
	case "Title":
		c.Title = val
	case "GivenName":
		c.GivenName = val
	case "MiddleName":
		c.MiddleName = val
	case "FamilyName":
		c.FamilyName = val
	case "Suffix":
		c.Suffix = val
	case "Notes":
		c.Notes = val
	}
}

func (c *Customer) setBool(key string, val bool) {
	v := val
	switch key {
	case "Taxable":
		c.Taxable = &v
	case "Active":
		c.Active = &v
	case "Job":
		c.Job = &v
	case "BillWithParent":
		c.BillWithParent = &v
	}
}

func (c *Customer) setPhone(key string, p *Phone) {
	switch key {
	case "PrimaryPhone":
		c.PrimaryPhone = p
	case "Mobile":
		c.Mobile = p
	case "Fax":
		c.Fax = p
	case "AlternatePhone":
		c.AlternatePhone = p
	}
}

// validateEmail applies the syntax checks QBO enforces beyond RFC parsing:
// no trailing dot in the domain, no consecutive dots, exactly one @.
func validateEmail(addr string) []Issue {
	var issues []Issue
	field := "PrimaryEmailAddr.Address"

	if strings.HasSuffix(addr, ".") {
		issues = append(issues, Issue{
			Level: LevelError, Code: CodeEmailTrailingDot,
			Message: "email domain cannot end with a dot", Field: field,
		})
	}
	if strings.Contains(addr, "..") {
		issues = append(issues, Issue{
			Level: LevelError, Code: CodeEmailDoubleDot,
			Message: "email contains consecutive dots", Field: field,
		})
	}
	if strings.Count(addr, "@") != 1 {
		issues = append(issues, Issue{
			Level: LevelError, Code: CodeInvalidEmail,
			Message: "email must contain exactly one @", Field: field,
		})
	}
	if len(issues) > 0 {
		return issues
	}

	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		issues = append(issues, Issue{
			Level: LevelError, Code: CodeInvalidEmail,
			Message: fmt.Sprintf("invalid email address: %s", addr), Field: field,
		})
	}
	return issues
}

// cleanURL prepends https:// when no scheme is present and requires the result
// to parse to an http(s) URL with a host.
func cleanURL(raw string) (string, []Issue) {
	field := "WebAddr.URI"

	v := raw
	if u, err := url.Parse(v); err != nil || u.Scheme == "" {
		v = "https://" + v
	}

	if utf8.RuneCountInString(v) > maxURLLen {
		return "", []Issue{{
			Level: LevelError, Code: CodeTooLong,
			Message: fmt.Sprintf("WebAddr.URI exceeds %d characters", maxURLLen), Field: field,
		}}
	}

	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", []Issue{{
			Level: LevelError, Code: CodeInvalidURL,
			Message: fmt.Sprintf("invalid website URL: %s", raw), Field: field,
		}}
	}
	return v, nil
}

// buildAddress cleans one address group. Every blank field becomes absent; an
// address left without Line1 is dropped (nil) rather than sent to the
// provider, which ignores street-less addresses.
func buildAddress(group string, val any) (*Address, []Issue) {
	fields, ok := val.(map[string]string)
	if !ok {
		return nil, nil
	}

	var issues []Issue
	addr := &Address{}
	hasValue := false

	for attr, raw := range fields {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		limit, known := addressLimits[attr]
		if !known {
			continue
		}
		if utf8.RuneCountInString(v) > limit {
			issues = append(issues, tooLong(group+"."+attr, limit))
			continue
		}
		hasValue = true
		switch attr {
		case "Line1":
			addr.Line1 = v
		case "Line2":
			addr.Line2 = v
		case "Line3":
			addr.Line3 = v
		case "City":
			addr.City = v
		case "CountrySubDivisionCode":
			addr.CountrySubDivisionCode = v
		case "PostalCode":
			addr.PostalCode = v
		case "Country":
			addr.Country = v
		}
	}

	if !hasValue {
		return nil, issues
	}
	if addr.Country == "" && usStateCodes[strings.ToUpper(addr.CountrySubDivisionCode)] {
		addr.Country = DefaultCountry
	}
	if addr.Line1 == "" {
		return nil, issues
	}
	return addr, issues
}

func tooLong(field string, limit int) Issue {
	return Issue{
		Level: LevelError, Code: CodeTooLong,
		Message: fmt.Sprintf("%s exceeds %d characters", field, limit),
		Field:   field,
	}
}

func trimString(val any) string {
	s, _ := val.(string)
	return strings.TrimSpace(s)
}

func nestedAttr(val any, attr string) string {
	if m, ok := val.(map[string]string); ok {
		return m[attr]
	}
	if m, ok := val.(map[string]any); ok {
		s, _ := m[attr].(string)
		return s
	}
	return ""
}

func putString(body map[string]any, key, val string) {
	if val != "" {
		body[key] = val
	}
}

func putBool(body map[string]any, key string, val *bool) {
	if val != nil {
		body[key] = *val
	}
}

func putPhone(body map[string]any, key string, p *Phone) {
	if p != nil {
		body[key] = map[string]any{"FreeFormNumber": p.FreeFormNumber}
	}
}

func putAddress(body map[string]any, key string, a *Address) {
	if a == nil || a.Line1 == "" {
		return
	}
	m := map[string]any{"Line1": a.Line1}
	if a.Line2 != "" {
		m["Line2"] = a.Line2
	}
	if a.Line3 != "" {
		m["Line3"] = a.Line3
	}
	if a.City != "" {
		m["City"] = a.City
	}
	if a.CountrySubDivisionCode != "" {
		m["CountrySubDivisionCode"] = a.CountrySubDivisionCode
	}
	if a.PostalCode != "" {
		m["PostalCode"] = a.PostalCode
	}
	if a.Country != "" {
		m["Country"] = a.Country
	}
	body[key] = m
}
