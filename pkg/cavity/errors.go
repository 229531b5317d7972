package cavity

import (
	"errors"
	"fmt"
)

// ErrMissingAttribute is returned when a phase representation cannot be
// derived from the current cavity state.
var ErrMissingAttribute = errors.New("cavity: missing attribute")

func missing(what string, ref Reference) error {
	return fmt.Errorf("%w: %s is needed to derive it from %s", ErrMissingAttribute, what, ref)
}
