// Package snapshot exports a user's complete remote data set into a
// versioned document and restores it back.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tasknest/tasknest/internal/backend"
)

// FormatVersion is the snapshot document version this code writes.
const FormatVersion = "1.0"

// Document is one user's complete exported data set. Once produced it
// is never mutated, only superseded by a newer export for the same user.
type Document struct {
	Version   string                   `json:"version"`
	CreatedAt time.Time                `json:"created_at"`
	UserID    string                   `json:"user_id"`
	Tables    map[string][]backend.Row `json:"tables"`
}

// TotalRecords returns the row count summed across all tables.
func (d *Document) TotalRecords() int {
	n := 0
	for _, rows := range d.Tables {
		n += len(rows)
	}
	return n
}

// Encode serializes the document to its stable wire form.
func (d *Document) Encode() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}
