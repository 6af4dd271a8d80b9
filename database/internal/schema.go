package internal

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/multierr"
)

// Column is the expected or observed shape of one table column. Type is the
// backend's own lowercase type name.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// SitesColumns lays out the sites table given the backend's names for its
// column types.
func SitesColumns(uuidType, textType, intType, timeType string) []Column {
	return []Column{
		{Name: "id", Type: uuidType},
		{Name: "name", Type: textType},
		{Name: "root", Type: textType},
		{Name: "auth_username", Type: textType, Nullable: true},
		{Name: "auth_hash", Type: textType, Nullable: true},
		{Name: "quota_bytes", Type: intType},
		{Name: "used_bytes", Type: intType},
		{Name: "created_at", Type: timeType},
		{Name: "updated_at", Type: timeType},
	}
}

// CheckColumns reports every column of want that is absent from have or
// differs in type or nullability, combined into one error.
func CheckColumns(table string, want []Column, have map[string]Column) error {
	var missing []string
	var errs error

	for _, w := range want {
		h, ok := have[w.Name]
		if !ok {
			missing = append(missing, w.Name)
			continue
		}
		if h.Type != w.Type {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected %s, got %s", w.Name, w.Type, h.Type))
		}
		if h.Nullable != w.Nullable {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected nullable=%v, got nullable=%v", w.Name, w.Nullable, h.Nullable))
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		errs = multierr.Append(fmt.Errorf("missing columns: %s", strings.Join(missing, ", ")), errs)
	}

	if errs != nil {
		return fmt.Errorf("table %s schema validation failed: %w", table, errs)
	}
	return nil
}

// SitesRowsQuery counts sites rows with a credential half set and rows with
// an impossible quota or usage. quotedTable must already be quoted.
func SitesRowsQuery(quotedTable string) string {
	return fmt.Sprintf(`
		SELECT
			COALESCE(SUM(CASE WHEN (auth_username IS NULL) <> (auth_hash IS NULL) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN quota_bytes <= 0 OR used_bytes < 0 THEN 1 ELSE 0 END), 0)
		FROM %s
	`, quotedTable)
}

// SitesRows holds the counts returned by SitesRowsQuery.
type SitesRows struct {
	HalfAuth int64
	BadUsage int64
}

// Err describes the offending rows, or returns nil when there are none.
func (r SitesRows) Err(table string) error {
	var errs error
	if r.HalfAuth > 0 {
		errs = multierr.Append(errs, fmt.Errorf("%d rows with auth_username and auth_hash not set together", r.HalfAuth))
	}
	if r.BadUsage > 0 {
		errs = multierr.Append(errs, fmt.Errorf("%d rows with non-positive quota_bytes or negative used_bytes", r.BadUsage))
	}
	if errs != nil {
		return fmt.Errorf("table %s data validation failed: %w", table, errs)
	}
	return nil
}
