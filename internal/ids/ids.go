package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier used for request and
// audit correlation. Entity ids are UUIDs assigned by the store.
func New() string {
	return ulid.Make().String()
}
