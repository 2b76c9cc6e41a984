package module

import (
	xerrors "Auditum/internal/errors"
)

// Sentinel errors for errors.Is matching. Each matches any error carrying the
// same code, regardless of message or metadata.
var (
	ErrUnknownRole          = xerrors.New(xerrors.CodeUnknownRole, "")
	ErrDirectoryUnreadable  = xerrors.New(xerrors.CodeDirectoryUnreadable, "")
	ErrManifestMissing      = xerrors.New(xerrors.CodeManifestMissing, "")
	ErrManifestIncomplete   = xerrors.New(xerrors.CodeManifestIncomplete, "")
	ErrInvalidRole          = xerrors.New(xerrors.CodeInvalidRole, "")
	ErrEntryPointUnreadable = xerrors.New(xerrors.CodeEntryPointUnreadable, "")
	ErrCodeLoad             = xerrors.New(xerrors.CodeCodeLoad, "")
	ErrStructureInvalid     = xerrors.New(xerrors.CodeStructureInvalid, "")
	ErrInitialization       = xerrors.New(xerrors.CodeInitialization, "")
	ErrModuleLoad           = xerrors.New(xerrors.CodeModuleLoad, "")
)

// Metadata keys attached to runtime errors.
const (
	MetaModule = "module"
	MetaPath   = "path"
	MetaField  = "field"
	MetaRole   = "role"
)
