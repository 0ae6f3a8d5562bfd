package credit

import (
	"errors"

	"github.com/ascend-academy/ascend/internal/domain"
)

// ErrorClass buckets an error for metrics and HTTP status mapping.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, domain.ErrTransientStore):
		return "transient"
	case errors.Is(err, domain.ErrInvalidConfiguration):
		return "config"
	case errors.Is(err, domain.ErrUnknownReference):
		return "reference"
	case errors.Is(err, domain.ErrInvalidActivity), errors.Is(err, domain.ErrAlreadyReferred):
		return "input"
	}
	return "other"
}
