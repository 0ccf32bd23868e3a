package users

import "context"

// User is the slice of a profile record this engine needs: who can be
// called, and at what number. Profile CRUD lives in the upstream subsystem.
type User struct {
	ID     string
	Phone  string
	Active bool
}

// Directory exposes read-only user and match facts from the profile
// subsystem. The engine treats these as external truths; it never writes
// through this interface.
type Directory interface {
	User(ctx context.Context, id string) (User, bool, error)

	// Matched reports whether a mutual match exists between the two users.
	Matched(ctx context.Context, a, b string) (bool, error)
}
