// Command montauk-installer builds and installs the montauk monitor and its optional kernel module.
package main

import "github.com/oshokin/montauk-installer/cmd/montauk-installer/cmd"

func main() {
	cmd.Execute()
}
