package shared

import "errors"

var (
	// ErrUnauthorized indicates the acting subject failed an authorization check.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidStage indicates an operation attempted from a lifecycle stage that does not permit it.
	ErrInvalidStage = errors.New("invalid stage")
	// ErrInsufficientFunds indicates a transfer could not move the requested value.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyProcessed indicates a single-use operation was attempted a second time.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)
