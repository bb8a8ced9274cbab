package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOperationFailed = errors.New("operation failed")

	// Store errors
	ErrInvalidExecContext = errors.New("invalid exec context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Notification errors
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedOrderID = errors.New("malformed order id")
	ErrMalformedPayload = errors.New("malformed notification payload")
	ErrLedgerWrite      = errors.New("ledger write failed")
	ErrProjectionWrite  = errors.New("projection write failed")

	// Batch errors
	ErrRunInProgress = errors.New("reconciliation run already in progress")
)
