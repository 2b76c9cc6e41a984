package module

import (
	"fmt"
	"os"

	xerrors "Auditum/internal/errors"
)

// ProbeEntryPoint confirms the manifest's entry point exists and can be opened
// for reading by this process. It returns the manifest unchanged on success.
func ProbeEntryPoint(m ManifestInfo) (ManifestInfo, error) {
	unreadable := func(cause error, msg string) error {
		return xerrors.Wrap(xerrors.CodeEntryPointUnreadable, cause, msg,
			xerrors.WithMetadata(MetaModule, m.Name), xerrors.WithMetadata(MetaPath, m.EntryPath))
	}
	if m.EntryPath == "" {
		return m, unreadable(nil, "entry point not set")
	}
	file, err := os.Open(m.EntryPath)
	if err != nil {
		return m, unreadable(err, fmt.Sprintf("entry point %s is not readable", m.EntryPath))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return m, unreadable(err, fmt.Sprintf("stat entry point %s", m.EntryPath))
	}
	if info.IsDir() {
		return m, unreadable(nil, fmt.Sprintf("entry point %s is a directory", m.EntryPath))
	}
	return m, nil
}
