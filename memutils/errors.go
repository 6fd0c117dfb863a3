package memutils

import "github.com/cockroachdb/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory is returned when no free segment of a heap can hold the requested size. The heap
// remains usable and the request may succeed after other allocations are freed.
var ErrOutOfMemory error = errors.New("out of memory")

// ErrCapacityExceeded is returned when a request (after alignment padding) is larger than the largest
// segment a heap can ever track
var ErrCapacityExceeded error = errors.New("requested size exceeds the maximum segment size")

// ErrInvalidHandle is returned when a handle does not name a live allocation of the heap it was passed to
var ErrInvalidHandle error = errors.New("invalid allocation handle")

// ErrDoubleFree is returned when a handle names a segment that is already free
var ErrDoubleFree error = errors.New("allocation was already freed")

// ErrInvalidArgument is returned for malformed requests, such as zero-sized allocations
var ErrInvalidArgument error = errors.New("invalid argument")
