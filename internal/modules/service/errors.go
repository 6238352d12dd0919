package service

import "errors"

// Boundary rejections. The queue consumer treats these as no-ops (malformed
// input never heals on redelivery); the HTTP surface maps them to 400.
var (
	ErrInvalidObservation = errors.New("invalid observation payload")
	ErrUnknownEndReason   = errors.New("unknown end reason")
	ErrUnknownDataSource  = errors.New("unknown data source")
	ErrInvalidQuery       = errors.New("invalid meeting query")
)
