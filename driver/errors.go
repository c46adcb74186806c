package driver

import "errors"

// Sentinel errors for the fatal/driver-level failure kinds not already
// owned by txn/cache/security (those packages define their own).
var (
	// ErrUnsupportedController is returned by Start() when MEMORY_GET_ID or
	// GET_CONTROLLER_CAPABILITIES reports a library type this driver
	// cannot operate as.
	ErrUnsupportedController = errors.New("driver: controller reports an unsupported library type")

	// ErrAlreadyStarted/ErrNotStarted guard Start()/Stop() misuse.
	ErrAlreadyStarted = errors.New("driver: already started")
	ErrNotStarted = errors.New("driver: not started")

	// ErrUnknownNode is returned when an API call names a node id absent
	// from the node table.
	ErrUnknownNode = errors.New("driver: unknown node id"))
