package db

import "errors"

// Errors returned by store operations. Check them with errors.Is:
//
//	if errors.Is(err, db.ErrNotFound) {
//	    // the referenced group does not exist
//	}
var (
	// ErrNotFound is returned when a group id does not reference an
	// existing group.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned when a record fails validation before it
	// reaches the database.
	ErrInvalid = errors.New("invalid record")
)
