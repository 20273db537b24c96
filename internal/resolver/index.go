package resolver

import "context"

// Index is a source of release and dependency metadata for packages.
// Implementations return models.ErrPackageNotFound for unknown names or versions.
//
//go:generate mockgen -source=index.go -destination=mocks/mock_index.go -package=mocks
type Index interface {
	// Versions lists the installable releases of a package, in any order.
	Versions(ctx context.Context, name string) ([]string, error)

	// Requires returns the PEP 508 requirement strings declared by a release.
	Requires(ctx context.Context, name, version string) ([]string, error)
}
