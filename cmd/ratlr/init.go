//go:build cgo

package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ratlr/internal/embeddings"
)

func init() {
	extraCommands = append(extraCommands, newInitCmd)
}

func newInitCmd() *cobra.Command {
	rt := embeddings.DefaultONNXRuntime()
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Install the ONNX runtime used by the fastembed embedding creator",
		Long: `Install the ONNX runtime shared library that the fastembed embedding
creator loads. ONNX_PATH, when set, names an existing library and
takes precedence over the managed install.

Examples:
  ratlr init
  ratlr init --force --onnx-version 1.23.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path := rt.LibraryPath(); path != "" && !force {
				cmd.Printf("ONNX runtime found at %s (use --force to reinstall)\n", path)
				return nil
			}
			cmd.Printf("Installing ONNX runtime v%s into %s\n", rt.Version, rt.Dir)
			if err := rt.Install(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Done.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "reinstall even if a runtime is found")
	cmd.Flags().StringVar(&rt.Version, "onnx-version", rt.Version, "onnxruntime release to install")
	cmd.Flags().StringVar(&rt.Dir, "dir", rt.Dir, "install directory")
	return cmd
}
