package fesh

import (
	"errors"
	"fmt"
)

var (
	// ErrRoundTripMismatch is returned by Compress when the built container
	// fails to reconstruct the input bit for bit. No container is emitted.
	ErrRoundTripMismatch = errors.New("fesh: round trip mismatch")

	// ErrContainerCorrupt is returned when a container fails structural
	// validation or its streams do not decode back to the recorded
	// original.
	ErrContainerCorrupt = errors.New("fesh: container corrupt")
)

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContainerCorrupt, fmt.Sprintf(format, args...))
}
