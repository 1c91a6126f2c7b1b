package behavior

import "errors"

// ErrNoCreationClause and ErrNoUpdateClause are the framework-supplied
// rejection reasons when no user clause matches a command (spec.md
// §4.B). Callers normally see these wrapped by pkg/aggregate, not
// directly: ErrNoCreationClause as domain.ErrNotFound (the aggregate is
// absent) and ErrNoUpdateClause as domain.ErrInvalidCommand.
var (
	ErrNoCreationClause = errors.New("no construction clause matched this command")
	ErrNoUpdateClause   = errors.New("no update clause matched this command")
)
