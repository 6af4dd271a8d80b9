// Package internal holds helpers shared by the registry backends.
package internal

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Cursor is the decoded position of a keyset-paginated site listing.
type Cursor struct {
	CreatedAt time.Time
	Name      string
}

// EncodeCursor creates an opaque cursor from the last row of a page.
func EncodeCursor(createdAt time.Time, name string) string {
	data := createdAt.UTC().Format(time.RFC3339Nano) + "|" + name
	return base64.URLEncoding.EncodeToString([]byte(data))
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty cursor
// decodes to the zero Cursor.
func DecodeCursor(cursor string) (Cursor, error) {
	if cursor == "" {
		return Cursor{}, nil
	}

	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: invalid encoding: %w", err)
	}

	ts, name, ok := strings.Cut(string(data), "|")
	if !ok {
		return Cursor{}, errors.New("decode cursor: invalid format")
	}

	if name == "" {
		return Cursor{}, errors.New("decode cursor: empty name")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode cursor: invalid timestamp: %w", err)
	}

	return Cursor{CreatedAt: createdAt, Name: name}, nil
}

// EscapeLikePattern escapes the LIKE wildcards in s so it matches literally
// with ESCAPE '\'.
func EscapeLikePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
