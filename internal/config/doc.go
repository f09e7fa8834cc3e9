// Package config defines the installer settings (paths, names, privilege
// mode) and provides helpers to load, validate and save them in YAML format.
//
// Every value has a default matching a conventional Linux layout, so the
// settings file is optional.
package config
