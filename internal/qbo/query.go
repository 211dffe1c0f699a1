package qbo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultQueryBatchSize caps how many names go into a single IN (...) query.
// QBO truncates query responses at 1000 rows; 500 keeps each request well
// under that.
const DefaultQueryBatchSize = 500

// ExistingCustomer is a remote record matched during duplicate lookup.
type ExistingCustomer struct {
	ID          string `json:"Id"`
	DisplayName string `json:"DisplayName"`
}

// FindCustomersByName queries QBO for customers whose DisplayName matches any
// of the given names. Names are chunked to respect query size limits and
// embedded quotes are escaped. Returns DisplayName -> existing record.
func (c *Client) FindCustomersByName(ctx context.Context, names []string) (map[string]ExistingCustomer, error) {
	found := make(map[string]ExistingCustomer)

	for start := 0; start < len(names); start += DefaultQueryBatchSize {
		end := min(start+DefaultQueryBatchSize, len(names))
		chunk := names[start:end]

		quoted := make([]string, len(chunk))
		for i, name := range chunk {
			quoted[i] = "'" + escapeQueryValue(name) + "'"
		}
		stmt := fmt.Sprintf(
			"SELECT Id, DisplayName FROM Customer WHERE DisplayName IN (%s)",
			strings.Join(quoted, ", "),
		)

		status, body, err := c.do(ctx, http.MethodGet, "query", map[string]string{"query": stmt}, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("qbo: query returned %d: %s", status, truncate(string(body), 200))
		}

		var resp struct {
			QueryResponse struct {
				Customer []ExistingCustomer `json:"Customer"`
			} `json:"QueryResponse"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("qbo: decode query response: %w", err)
		}
		for _, cust := range resp.QueryResponse.Customer {
			found[cust.DisplayName] = cust
		}
	}

	return found, nil
}

// escapeQueryValue escapes single quotes and backslashes for QBO's SQL-like
// query language.
func escapeQueryValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
