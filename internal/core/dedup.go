package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/qbloader/qbloader/internal/canonical"
)

// nameRef ties a candidate DisplayName to the CSV row it came from.
type nameRef struct {
	Row  int
	Name string
}

// localDuplicateIssues flags every row whose trimmed DisplayName appears more
// than once in the batch. Grouping is by exact-match key, so the same rows are
// flagged regardless of input order; cited row numbers are sorted.
func localDuplicateIssues(refs []nameRef) map[int]canonical.Issue {
	byName := make(map[string][]int)
	for _, ref := range refs {
		byName[ref.Name] = append(byName[ref.Name], ref.Row)
	}

	issues := make(map[int]canonical.Issue)
	for name, rows := range byName {
		if len(rows) < 2 {
			continue
		}
		sort.Ints(rows)
		for _, row := range rows {
			others := make([]string, 0, len(rows)-1)
			for _, other := range rows {
				if other != row {
					others = append(others, fmt.Sprintf("%d", other))
				}
			}
			issues[row] = canonical.Issue{
				Level:   canonical.LevelError,
				Code:    canonical.CodeLocalDuplicate,
				Message: fmt.Sprintf("DisplayName %q also appears in row(s) %s", name, strings.Join(others, ", ")),
				Field:   "DisplayName",
				Row:     row,
			}
		}
	}
	return issues
}

// remoteDuplicateIssues queries the provider for existing customers matching
// the candidate names and flags every row with a match. A failed lookup
// returns a single warning instead of errors, so rows are never blocked just
// because the check was unavailable.
func remoteDuplicateIssues(ctx context.Context, client QBO, refs []nameRef) (map[int]canonical.Issue, *canonical.Issue) {
	if len(refs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(refs))
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		if !seen[ref.Name] {
			seen[ref.Name] = true
			names = append(names, ref.Name)
		}
	}
	sort.Strings(names)

	existing, err := client.FindCustomersByName(ctx, names)
	if err != nil {
		warn := canonical.Issue{
			Level:   canonical.LevelWarning,
			Code:    canonical.CodeDuplicateCheckUnavailable,
			Message: fmt.Sprintf("could not check QuickBooks for existing customers: %v", err),
		}
		return nil, &warn
	}

	issues := make(map[int]canonical.Issue)
	for _, ref := range refs {
		match, ok := existing[ref.Name]
		if !ok {
			continue
		}
		issues[ref.Row] = canonical.Issue{
			Level:   canonical.LevelError,
			Code:    canonical.CodeRemoteDuplicate,
			Message: fmt.Sprintf("customer %q already exists in QuickBooks (Id: %s)", ref.Name, match.ID),
			Field:   "DisplayName",
			Row:     ref.Row,
		}
	}
	return issues, nil
}
