package storage

import (
	"context"
	"fmt"
)

type Collection string

const (
	Links     Collection = "links"
	Clicks    Collection = "clicks"
	Campaigns Collection = "campaigns"
	Domains   Collection = "domains"
)

// AllCollections lists every collection in initialization order.
var AllCollections = []Collection{Links, Clicks, Campaigns, Domains}

var schemas = map[Collection][]string{
	Links: {"id", "campaign_id", "original_url", "short_code", "encrypted_destination",
		"clicks", "cloaked", "domain", "created_at", "expires_at", "active"},
	Clicks: {"id", "link_id", "campaign_id", "ip_address", "user_agent", "country",
		"city", "referrer", "timestamp", "device_type", "browser"},
	Campaigns: {"id", "name", "description", "created_at", "total_links", "total_clicks", "active"},
	Domains:   {"domain", "verified", "ssl_enabled", "added_at", "verified_at"},
}

// Columns returns the fixed column order of a collection.
func (c Collection) Columns() []string {
	return schemas[c]
}

func (c Collection) Valid() bool {
	_, ok := schemas[c]
	return ok
}

// Row is one record keyed by column name. Unknown keys are ignored on write.
type Row map[string]string

// Get returns the value of a column or "" when absent.
func (r Row) Get(column string) string {
	if r == nil {
		return ""
	}
	return r[column]
}

// RecordStore is the durable home of the four record collections.
//
// ReadAll on a collection that was never written returns an empty slice and
// no error. ReplaceAll swaps the whole collection so that readers observe
// either the old or the new contents. Append adds one row without reading
// the rest of the collection.
type RecordStore interface {
	ReadAll(ctx context.Context, c Collection) ([]Row, error)
	ReplaceAll(ctx context.Context, c Collection, rows []Row) error
	Append(ctx context.Context, c Collection, row Row) error
}

// Updater is implemented by stores that can run a read-modify-write cycle
// on a collection without interleaving other writers.
type Updater interface {
	Update(ctx context.Context, c Collection, fn UpdateFunc) error
}

// UpdateFunc transforms the current rows of a collection into the rows to
// persist. Returning ErrNoChange skips the write.
type UpdateFunc func(rows []Row) ([]Row, error)

// Initializer is implemented by stores that need collections materialized
// before first use.
type Initializer interface {
	Init(ctx context.Context) error
}

// Error wraps a backend failure with the operation and collection involved.
type Error struct {
	Op         string
	Collection Collection
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, c Collection, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Collection: c, Err: err}
}
