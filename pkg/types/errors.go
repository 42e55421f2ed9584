package types

import "errors"

var (
	// ErrInvalidPartitionDate is returned when a value is not a valid YYYYMMDD date.
	ErrInvalidPartitionDate = errors.New("invalid partition date")

	// ErrInvalidQuadClass is returned for quad class values outside 1..4.
	ErrInvalidQuadClass = errors.New("invalid quad class")

	// ErrInvalidMarker is returned when an actor string is not a marker sentinel.
	ErrInvalidMarker = errors.New("invalid marker")

	// ErrSentimentOutOfRange is returned for sentiment scores outside [-10, 10].
	ErrSentimentOutOfRange = errors.New("sentiment score out of range")
)
