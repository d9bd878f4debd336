package cluster

import "errors"

var (
	// ErrInvalidOptions is returned by Load when the configuration cannot
	// produce a valid hierarchy. No layers are built in that case.
	ErrInvalidOptions = errors.New("cluster: invalid options")

	// ErrMalformedPoint is returned by Load in strict mode when an input
	// point has non-finite coordinates.
	ErrMalformedPoint = errors.New("cluster: point has non-finite coordinates")

	// ErrNotFound is returned by queries that reference an id not present
	// in the hierarchy.
	ErrNotFound = errors.New("cluster: id not found")

	// ErrNotCluster is returned when a raw point id is passed to an
	// operation that requires a cluster id.
	ErrNotCluster = errors.New("cluster: id refers to a raw point, not a cluster")
)
