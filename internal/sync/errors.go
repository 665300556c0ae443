package sync

import (
	"errors"
	"fmt"

	"comanda/internal/models"
)

// ErrDependencyCycle is the structural batch-level error raised when the
// operations of one batch depend on each other in a cycle. A correctly
// built client queue cannot produce one, but it must be detected and
// reported rather than applied partially.
var ErrDependencyCycle = errors.New("dependency cycle in batch")

// ErrBatchTooLarge is raised when a flush exceeds the configured batch
// size bound. Nothing from the batch is applied.
var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

// DomainError is an operation-local rule violation. It never aborts
// sibling operations and is never retried.
type DomainError struct {
	Reason models.Reason
	Detail string
}

func (e *DomainError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func domainErrf(reason models.Reason, format string, args ...interface{}) *DomainError {
	return &DomainError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsDomainError unwraps err into a DomainError if it is one.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
