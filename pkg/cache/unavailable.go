package cache

import (
	"errors"

	"github.com/canopy-network/validatorx/pkg/outcome"
	"go.uber.org/zap"
)

// Unavailable turns a failed compartment read into an outcome. A compartment that was never populated
// is NotFound with the notLoaded message. Anything else means the stored data is unusable: it is
// logged and reported as Internal.
func Unavailable[T any](logger *zap.Logger, c Compartment, err error, notLoaded string) outcome.Outcome[T] {
	if errors.Is(err, ErrNotPopulated) {
		return outcome.Fail[T](outcome.NotFound, notLoaded)
	}
	logger.Error("Cached compartment is unusable", zap.String("compartment", string(c)), zap.Error(err))
	return outcome.Fail[T](outcome.Internal, "cached "+string(c)+" could not be read")
}
