// Package record answers state queries about the installed module footprint.
//
// The FileRepository inspects the kernel-version-scoped artifact path and the
// boot autoload declaration and exposes a Repository interface that the
// uninstall and status workflows depend on.
package record
