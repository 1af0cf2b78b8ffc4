// Command shaderopt compiles WGSL to optimized shader IR.
//
// Usage:
//
//	shaderopt compile [options] <input.wgsl>
//	shaderopt layout [options] <input.wgsl>
//	shaderopt version
//
// Examples:
//
//	shaderopt compile shader.wgsl                          # Print optimized IR
//	shaderopt compile --target gen12 --map-out map.bin shader.wgsl
//	shaderopt compile --layout layout.toml shader.wgsl     # Use an explicit layout
//	shaderopt layout shader.wgsl > layout.toml             # Derive a layout
package main

import (
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gogpu/shaderopt"
)

var rootCmd = &cobra.Command{
	Use:           "shaderopt",
	Short:         "Shader IR optimizer for GPU pipeline layouts",
	Long:          `shaderopt lowers WGSL to SSA shader IR and optimizes it against a pipeline layout`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
		if err != nil {
			return err
		}
		switch colorFlag {
		case "on":
			color.NoColor = false
		case "off":
			color.NoColor = true
		default:
			color.NoColor = !isTerminal(os.Stderr)
		}

		verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return err
		}
		if verbose {
			shaderopt.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}
		return nil
	},
}

func main() {
	rootCmd.Version = version

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log pass diagnostics to stderr")

	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
