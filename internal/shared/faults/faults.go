// Package faults defines the error codes shared across the extension host.
//
// Every failure that crosses a package boundary carries one of these codes
// so callers can branch on the kind of failure without string matching.
// Codes map onto HTTP statuses at the API boundary via HTTPStatus.
package faults

import (
	"net/http"

	"github.com/jmgilman/go/errors"
)

const (
	// InvalidArchive indicates the package is not a readable archive of a
	// supported container kind.
	InvalidArchive errors.ErrorCode = "INVALID_ARCHIVE"

	// TraversalRejected indicates an archive entry or resource path tried
	// to escape its extension root.
	TraversalRejected errors.ErrorCode = "TRAVERSAL_REJECTED"

	// ResourceLimitExceeded indicates an archive exceeded the configured
	// entry-count or decompressed-size ceiling.
	ResourceLimitExceeded errors.ErrorCode = "RESOURCE_LIMIT_EXCEEDED"

	// ManifestMissing indicates no manifest file exists at the package root.
	ManifestMissing errors.ErrorCode = "MANIFEST_MISSING"

	// ManifestInvalid indicates the manifest exists but failed validation.
	// The offending field is attached as "field" context.
	ManifestInvalid errors.ErrorCode = "MANIFEST_INVALID"

	// UnknownExtension indicates an operation referenced an extension id
	// that is not registered.
	UnknownExtension errors.ErrorCode = "UNKNOWN_EXTENSION"

	// FilesystemFailure indicates an I/O error outside the caller's control.
	FilesystemFailure errors.ErrorCode = "FILESYSTEM_FAILURE"

	// RegistryInconsistent indicates the persistent registry and the
	// on-disk install tree disagree.
	RegistryInconsistent errors.ErrorCode = "REGISTRY_INCONSISTENT"

	// UnknownSnippet indicates a catalog operation referenced a snippet id
	// that is not cached locally.
	UnknownSnippet errors.ErrorCode = "UNKNOWN_SNIPPET"

	// InstallCancelled indicates an install was cancelled before any state
	// was persisted.
	InstallCancelled errors.ErrorCode = "INSTALL_CANCELLED"
)

// Is reports whether err carries the given code.
func Is(err error, code errors.ErrorCode) bool {
	return errors.GetCode(err) == code
}

// HTTPStatus maps an error code to the status the API layer responds with.
func HTTPStatus(code errors.ErrorCode) int {
	switch code {
	case InvalidArchive, TraversalRejected:
		return http.StatusBadRequest
	case ResourceLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case ManifestMissing, ManifestInvalid:
		return http.StatusUnprocessableEntity
	case UnknownExtension, UnknownSnippet, errors.CodeNotFound:
		return http.StatusNotFound
	case RegistryInconsistent, InstallCancelled, errors.CodeConflict:
		return http.StatusConflict
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeExecutionFailed:
		return http.StatusUnprocessableEntity
	case errors.CodeRateLimit:
		return http.StatusTooManyRequests
	case errors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case errors.CodeNetwork:
		return http.StatusBadGateway
	case FilesystemFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
