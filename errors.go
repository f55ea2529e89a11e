package ridgekv

import "errors"

// Common errors returned by DB operations.
var (
	ErrDBClosed        = errors.New("ridgekv: database is closed")
	ErrDBExists        = errors.New("ridgekv: database already exists")
	ErrDBNotFound      = errors.New("ridgekv: database not found")
	ErrCorruption      = errors.New("ridgekv: corruption detected")
	ErrInvalidArgument = errors.New("ridgekv: invalid argument")
	ErrLocked          = errors.New("ridgekv: another process holds the database lock")
	ErrShutdown        = errors.New("ridgekv: operation aborted, database is shutting down")
	ErrBackgroundError = errors.New("ridgekv: unrecoverable background error")
)
