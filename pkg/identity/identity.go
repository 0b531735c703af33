// Package identity resolves project identifiers. Offers may be restricted to
// a lessee project; the restriction is honored for the project itself and for
// every descendant, so listing code needs the parent chain of the caller.
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Project is one entry of the project tree.
type Project struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	ParentID string `yaml:"parent_id,omitempty"`
}

// Identity resolves project identifiers and walks the project tree.
type Identity interface {
	// ResolveProject accepts id-shaped strings verbatim and resolves
	// anything else as a project name.
	ResolveProject(ctx context.Context, ident string) (string, error)

	// ProjectParentChain returns the ids from the project up to the root,
	// starting with the project itself.
	ProjectParentChain(ctx context.Context, id string) ([]string, error)

	// ProjectName returns the display name for a project id.
	ProjectName(ctx context.Context, id string) (string, error)

	// Projects lists every known project.
	Projects(ctx context.Context) ([]Project, error)
}

// isIDShaped reports whether ident looks like a project id rather than a
// name.
func isIDShaped(ident string) bool {
	_, err := uuid.Parse(ident)
	return err == nil
}
