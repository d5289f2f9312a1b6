package sqlstore

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures what differs between the SQL engines behind Store.
// Queries are written with ? placeholders and rebound when Numbered is set.
type Dialect struct {
	Name string
	// Schema is a list of statements separated by semicolons.
	Schema string
	// Numbered switches placeholders to $1, $2, ...
	Numbered bool
	// RowLocks appends FOR UPDATE OF <alias> to locking reads.
	RowLocks bool
	// ContainsFunc returns a positive position when its second argument occurs in the first.
	ContainsFunc string
	// UnixMillis stores timestamps as integer milliseconds instead of native timestamps.
	UnixMillis bool
	TxOptions  *sql.TxOptions

	IsUniqueViolation func(error) bool
	// IsRetryable reports serialization failures worth replaying the unit of work for.
	IsRetryable func(error) bool
}

func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) lock(alias string) string {
	if !d.RowLocks {
		return ""
	}
	return " FOR UPDATE OF " + alias
}

func (d Dialect) contains(column string) string {
	return fmt.Sprintf("%s(%s, ?) > 0", d.ContainsFunc, column)
}

func (d Dialect) timeArg(t time.Time) any {
	if d.UnixMillis {
		return t.UTC().UnixMilli()
	}
	return t.UTC()
}

func (d Dialect) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.timeArg(*t)
}

func (d Dialect) uniqueViolation(err error) bool {
	return d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

func (d Dialect) retryable(err error) bool {
	return d.IsRetryable != nil && d.IsRetryable(err)
}

func (d Dialect) statements() []string {
	parts := strings.Split(d.Schema, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// timeColumn scans either native timestamps or integer milliseconds.
type timeColumn struct {
	dest  *time.Time
	valid bool
}

func (c *timeColumn) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		c.valid = false
		return nil
	case time.Time:
		*c.dest = v.UTC()
	case int64:
		*c.dest = time.UnixMilli(v).UTC()
	case []byte:
		return c.parse(string(v))
	case string:
		return c.parse(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	c.valid = true
	return nil
}

func (c *timeColumn) parse(raw string) error {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*c.dest = time.UnixMilli(ms).UTC()
		c.valid = true
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("parse time %q: %w", raw, err)
	}
	*c.dest = parsed.UTC()
	c.valid = true
	return nil
}
