package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrUnauthorized
	ErrForbidden
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrInternal
	ErrInsufficientTrainingData
	ErrInvalidSessionState
	ErrDuplicateLabel
	ErrTrainingFailure
	ErrTooMany
	ErrQueueFull
)
