package rooms

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument marks caller errors such as a negative room id or an unknown role.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned by Append when the room does not exist.
	ErrNotFound = errors.New("room not found")
)

// NotFound wraps ErrNotFound with the room id.
func NotFound(id ID) error {
	return errors.Wrapf(ErrNotFound, "room %d", int64(id))
}
