package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gogpu/shaderopt/wgslin"
)

var (
	layoutOutput string
	layoutCheck  string
)

func init() {
	layoutCmd.Flags().StringVarP(&layoutOutput, "output", "o", "", "write the layout TOML to this file (default: stdout)")
	layoutCmd.Flags().StringVar(&layoutCheck, "check", "", "also build the layout for this target to check its limits")
}

var layoutCmd = &cobra.Command{
	Use:   "layout [options] <input.wgsl>",
	Short: "Derive a pipeline layout from WGSL resource declarations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		module, err := wgslin.Parse(string(source))
		if err != nil {
			return err
		}
		f, err := wgslin.DeriveLayout(module)
		if err != nil {
			return err
		}
		if layoutCheck != "" {
			target, err := resolveTarget(layoutCheck)
			if err != nil {
				return err
			}
			if _, err := f.Build(target); err != nil {
				return fmt.Errorf("layout does not fit %s: %w", target.Name, err)
			}
		}

		var buf bytes.Buffer
		if err := f.Encode(&buf); err != nil {
			return fmt.Errorf("encode layout: %w", err)
		}
		return writeOutput(cmd.OutOrStdout(), layoutOutput, buf.Bytes())
	},
}
