package models

import "errors"

// Sentinels are plain errors so that zerr.With wraps them and errors.Is
// still matches after metadata is attached.
var (
	// ErrUnsupportedFile is returned when no parser accepts a file.
	ErrUnsupportedFile = errors.New("unsupported manifest file")

	// ErrInvalidRequirement is returned when a requirement string cannot be parsed.
	ErrInvalidRequirement = errors.New("invalid requirement")

	// ErrInvalidVersion is returned when a version literal is not valid for its ecosystem.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidMarker is returned when an environment marker cannot be parsed.
	ErrInvalidMarker = errors.New("invalid environment marker")

	// ErrPackageNotFound is returned by an index that does not know a package or version.
	ErrPackageNotFound = errors.New("package not found")

	// ErrIndexUnavailable is returned when the package index cannot be reached.
	ErrIndexUnavailable = errors.New("package index unavailable")

	// ErrNoManifests is returned when the scanned paths contain no manifests.
	ErrNoManifests = errors.New("no dependency manifests found")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("invalid configuration")
)
