// Package preflight checks build dependencies before any work starts.
package preflight
