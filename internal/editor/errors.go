package editor

import "errors"

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrClosed           = errors.New("editing session closed")
)

// Kind is the failure taxonomy used to decide what the user gets to see.
type Kind int

const (
	KindNone Kind = iota
	KindNotFound
	KindPermissionDenied
	KindTransientIO
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "transient_io"
	}
}

// Classify maps an error from a Persistence call onto Kind. Unknown errors are
// treated as transient: the next save or reopen may succeed.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrUnauthenticated):
		return KindPermissionDenied
	default:
		return KindTransientIO
	}
}
