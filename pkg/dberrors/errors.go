package dberrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("hotcold: invalid argument")
	ErrTooLargeEntry   = errors.New("hotcold: entry is too large")
	ErrClosed          = errors.New("hotcold: closed")
)

var (
	// ErrConstruction reports an invalid configuration or capacity schedule.
	ErrConstruction = errors.New("hotcold: invalid construction")

	// ErrEmptyTable is returned by min/max queries on a table with no entries.
	ErrEmptyTable = errors.New("hotcold: empty table")

	// ErrInvariantViolation signals a comparator or algorithm defect. It is fatal.
	ErrInvariantViolation = errors.New("hotcold: invariant violation")

	// ErrInvalidPartition is returned when a classification policy does not
	// produce a complete, disjoint partition of the staging table.
	ErrInvalidPartition = fmt.Errorf("%w: invalid hot/cold partition", ErrInvariantViolation)

	// ErrExternalSink wraps failures of the persistence sink.
	ErrExternalSink = errors.New("hotcold: external sink failure")
)
