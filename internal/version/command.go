package version

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oshokin/montauk-installer/internal/kernel"
)

// AttachCobraVersionCommand attaches a `version` subcommand to root.
func AttachCobraVersionCommand(root *cobra.Command) {
	root.Version = Short()

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print the installer version, its build metadata and the running kernel release modules are built for.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			Print(cmd.OutOrStdout())
		},
	})
}

// Print writes the version and the running kernel release to w.
func Print(w io.Writer) {
	_, _ = fmt.Fprintln(w, Full())

	release, err := kernel.Release()
	if err != nil {
		_, _ = fmt.Fprintf(w, "kernel: unknown (%v)\n", err)
		return
	}

	_, _ = fmt.Fprintf(w, "kernel: %s\n", release)
}
