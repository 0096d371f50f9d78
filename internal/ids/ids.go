// Package ids centralizes message/job id generation so the rest of the
// module never constructs a uuid.UUID by hand.
package ids

import "github.com/google/uuid"

// New returns a fresh v4 UUID for a message or job id.
func New() uuid.UUID {
	return uuid.New()
}
