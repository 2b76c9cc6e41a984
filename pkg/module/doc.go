// Package module discovers, validates and loads Auditum extension modules.
//
// A module is a directory holding a manifest (package.json, or auditum.yaml)
// and an entry-point file:
//
//	{
//	  "main": "index.js",
//	  "auditum": {"type": "io", "name": "echo"}
//	}
//
// DiscoverAll scans a root directory and returns the manifests that are
// complete and whose entry point is readable. LoadModule turns one manifest
// into a Handle: it loads the entry point through a CodeLoader, checks the
// resulting Surface against the role contract and runs the module's init
// capability once.
package module
