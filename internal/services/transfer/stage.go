package transfer

import (
	"errors"
	"fmt"

	"github.com/magabrotheeeer/media-relay/internal/models"
)

// Stage — состояние конвейера передачи.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageResolving  Stage = "resolving"
	StageSizeCheck  Stage = "size_check"
	StageFetching   Stage = "fetching"
	StageDelivering Stage = "delivering"
	StageDone       Stage = "done"
)

// Failure — терминальное состояние Failed(stage, kind).
// Err разворачивается в ошибку из models, например models.ErrTooLarge.
type Failure struct {
	Stage Stage
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("transfer failed at %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Kind возвращает ошибку из таксономии или nil, если причина вне её
// (например, отмена контекста).
func (f *Failure) Kind() error {
	for _, kind := range []error{
		models.ErrInvalidLink,
		models.ErrResolutionFailed,
		models.ErrResolutionTimeout,
		models.ErrTooLarge,
		models.ErrFetchFailed,
		models.ErrFetchTimeout,
		models.ErrDeliveryFailed,
	} {
		if errors.Is(f.Err, kind) {
			return kind
		}
	}
	return nil
}

func fail(stage Stage, err error) *Failure {
	return &Failure{Stage: stage, Err: err}
}

// StageOf возвращает стадию, на которой завершилась передача с ошибкой err.
func StageOf(err error) Stage {
	var f *Failure
	if errors.As(err, &f) {
		return f.Stage
	}
	return StageIdle
}
