// Package override implements the override resolution layer: given a
// workspace, namespace name, and caller identifier, it returns the
// effective rate-limit policy, applying wildcard-pattern overrides
// over request-supplied defaults. The durable side is pushed down to a
// Store implementation (store/postgres).
package override

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when the requested row does not
// exist among non-deleted rows.
var ErrNotFound = errors.New("override: not found")

// ErrAlreadyExists reports a unique-key conflict. The duplicate-key-safe
// creates in this repository do not return it: the loser of a race gets
// the winner's row instead.
var ErrAlreadyExists = errors.New("override: already exists")

// Namespace is a named grouping of rate-limit counters scoped to a
// workspace. (workspace_id, name) is unique among non-deleted rows.
type Namespace struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// Override replaces the default limit parameters for an identifier
// pattern (a literal or a string containing '*' wildcards) within a
// namespace. (namespace_id, identifier) is unique among non-deleted
// rows.
type Override struct {
	ID          string
	NamespaceID string
	Pattern     string
	Limit       int64
	DurationMs  int64
	AsyncMode   bool
	Sharding    string // "" (request default), "edge", or "global"
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Duration is DurationMs as a time.Duration.
func (o Override) Duration() time.Duration {
	return time.Duration(o.DurationMs) * time.Millisecond
}

// Page is a cursor-paginated slice of overrides.
type Page struct {
	Overrides  []Override
	NextCursor string // empty means no further pages
}

// Store is the durable persistence contract for namespaces and
// overrides. Implementations must make namespace creation
// duplicate-key-safe: two concurrent CreateNamespace calls for the same
// (workspace_id, name) must not produce two rows, and the loser must
// return the winner's row instead of an error.
type Store interface {
	GetNamespace(ctx context.Context, workspaceID, name string) (Namespace, error)
	CreateNamespace(ctx context.Context, workspaceID, name string) (Namespace, error)

	SetOverride(ctx context.Context, namespaceID, pattern string, limit int64, durationMs int64, asyncMode bool, sharding string) (Override, error)
	GetOverride(ctx context.Context, namespaceID, pattern string) (Override, error)
	ListOverrides(ctx context.Context, namespaceID string, cursor string, pageSize int) (Page, error)
	DeleteOverride(ctx context.Context, namespaceID, pattern string) error

	// ListAllOverrides returns every non-deleted override for a
	// namespace, used by the resolver's match pass. Expected to stay
	// well under 10^4 per namespace.
	ListAllOverrides(ctx context.Context, namespaceID string) ([]Override, error)
}
