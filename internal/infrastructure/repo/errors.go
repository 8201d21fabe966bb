package repo

import "errors"

// ErrDuplicate reports a unique-key violation the caller did not expect.
var ErrDuplicate = errors.New("duplicate record")
