package gateway

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newID generates a unique lexicographically sortable identifier.
// Used for request correlation IDs and chat.send idempotency keys.
func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
