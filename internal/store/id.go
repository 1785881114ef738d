package store

import "github.com/google/uuid"

// GenNewID returns a new time-ordered row identifier. Postgres stores index
// better on UUIDv7 than UUIDv4 since its leading bits are a timestamp, which
// keeps new-row inserts append-mostly on the primary key's btree.
func GenNewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
