package miner

import "errors"

var (
	// ErrCloneFailed indicates the repository could not be cloned. Fatal to the project.
	ErrCloneFailed = errors.New("clone failed")

	// ErrCheckoutFailed indicates a branch could not be checked out. Only that branch is skipped.
	ErrCheckoutFailed = errors.New("checkout failed")

	// ErrRevisionNotFound indicates the file does not exist at the requested revision.
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrStorage indicates content or records could not be persisted. Fatal to the project.
	ErrStorage = errors.New("storage error")

	// ErrInvalidRecord indicates a malformed input feed record.
	ErrInvalidRecord = errors.New("invalid feed record")
)
