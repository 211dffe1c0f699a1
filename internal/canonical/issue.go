// Package canonical maps raw CSV rows into the typed customer record expected
// by QuickBooks Online and validates it field by field. The package has no
// transport or storage dependencies; it consumes plain maps and produces either
// a provider-ready payload or a structured list of issues.
package canonical

// Level classifies how severe a validation issue is.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Stable machine codes for validation issues. Clients and the error export
// match on these, so they must not change between releases.
const (
	CodeRequiredMissing  = "required_field_missing"
	CodeTooLong          = "field_too_long"
	CodeInvalidEmail     = "invalid_email"
	CodeEmailTrailingDot = "email_trailing_dot"
	CodeEmailDoubleDot   = "email_double_dot"
	CodeInvalidURL       = "invalid_url"

	CodeLocalDuplicate            = "local_duplicate_displayname"
	CodeRemoteDuplicate           = "remote_duplicate_displayname"
	CodeDuplicateCheckUnavailable = "duplicate_check_unavailable"
)

// Issue is one field-scoped validation finding. Field uses dotted paths
// ("BillAddr.Line1"); Row is the 1-based CSV row number when known.
type Issue struct {
	Level   Level  `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Row     int    `json:"row,omitempty"`
}

// RowResult is the per-row outcome of a dry-run pass.
type RowResult struct {
	RowNumber      int            `json:"row_number"`
	Status         string         `json:"status"` // valid, warning, error
	Issues         []Issue        `json:"issues"`
	NormalizedData map[string]any `json:"normalized_data,omitempty"`
}

// Summary aggregates a dry-run over all rows of a job.
type Summary struct {
	TotalRows   int     `json:"total_rows"`
	WillSucceed int     `json:"will_succeed"`
	WillFail    int     `json:"will_fail"`
	Warnings    int     `json:"warnings"`
	Issues      []Issue `json:"issues"`
}

// HasErrors reports whether any issue in the list is error-level.
func HasErrors(issues []Issue) bool {
	for _, is := range issues {
		if is.Level == LevelError {
			return true
		}
	}
	return false
}
