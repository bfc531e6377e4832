package dispatch

import (
	"errors"

	"github.com/mattjoyce/convoy/internal/pool"
)

var (
	ErrUnknownPool     = errors.New("unknown pool")
	ErrDuplicatePool   = pool.ErrDuplicate
	ErrInvalidPool     = pool.ErrInvalidConfig
	ErrInvalidTask     = errors.New("invalid task")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)
