package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrForbidden                = errors.New("forbidden")
	ErrInvalid                  = errors.New("invalid")
	ErrConflict                 = errors.New("conflict")
	ErrInternal                 = errors.New("internal")
	ErrInsufficientTrainingData = errors.New("insufficient training data")
	ErrInvalidSessionState      = errors.New("invalid session state")
	ErrDuplicateLabel           = errors.New("duplicate label assignment")
	ErrTrainingFailure          = errors.New("training failure")
)

// InsufficientTrainingDataError reports how far a tag is from trainable.
type InsufficientTrainingDataError struct {
	TagID        string `json:"tag_id"`
	Positives    int    `json:"positives"`
	Negatives    int    `json:"negatives"`
	MinPositives int    `json:"min_positives"`
	MinNegatives int    `json:"min_negatives"`
}

func (e *InsufficientTrainingDataError) Error() string {
	return fmt.Sprintf("insufficient training data for tag %s: positives %d/%d, negatives %d/%d (need %d more positive, %d more negative)",
		e.TagID, e.Positives, e.MinPositives, e.Negatives, e.MinNegatives, e.MorePositives(), e.MoreNegatives())
}

func (e *InsufficientTrainingDataError) Unwrap() error {
	return ErrInsufficientTrainingData
}

func (e *InsufficientTrainingDataError) MorePositives() int {
	return max(0, e.MinPositives-e.Positives)
}

func (e *InsufficientTrainingDataError) MoreNegatives() int {
	return max(0, e.MinNegatives-e.Negatives)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
