package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/shaderopt"
	"github.com/gogpu/shaderopt/ir"
	"github.com/gogpu/shaderopt/pipeline"
)

var (
	compileOutput     string
	compileMapOut     string
	compileTarget     string
	compileLayout     string
	compileJobs       int
	compileValidate   bool
	compileExplicitIO bool
	compileDumpMap    bool
)

func init() {
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "write the optimized IR to this file (default: stdout)")
	compileCmd.Flags().StringVar(&compileMapOut, "map-out", "", "write the msgpack bind map to this file (- for stdout)")
	compileCmd.Flags().StringVar(&compileTarget, "target", "gen9", "target preset ("+strings.Join(pipeline.PresetNames(), "|")+") or TOML file")
	compileCmd.Flags().StringVar(&compileLayout, "layout", "", "pipeline layout TOML file (default: derived from the source)")
	compileCmd.Flags().IntVar(&compileJobs, "jobs", 0, "shaders optimized at once (default: GOMAXPROCS)")
	compileCmd.Flags().BoolVar(&compileValidate, "validate", true, "validate the WGSL module")
	compileCmd.Flags().BoolVar(&compileExplicitIO, "explicit-io", true, "lower buffer derefs to buffer intrinsics")
	compileCmd.Flags().BoolVar(&compileDumpMap, "dump-map", false, "print the bind map after each shader")
}

var compileCmd = &cobra.Command{
	Use:   "compile [options] <input.wgsl>",
	Short: "Compile WGSL and optimize every entry point",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		target, err := resolveTarget(compileTarget)
		if err != nil {
			return err
		}

		opts := shaderopt.Options{
			Target:     target,
			ExplicitIO: compileExplicitIO,
			Validate:   compileValidate,
			Jobs:       compileJobs,
		}
		if compileLayout != "" {
			if opts.Layout, err = pipeline.LoadLayout(target, compileLayout); err != nil {
				return err
			}
		}

		results, err := shaderopt.CompileWGSL(context.Background(), string(source), opts)
		if err != nil {
			return err
		}

		var text bytes.Buffer
		for _, res := range results {
			if err := writeResult(&text, res); err != nil {
				return err
			}
		}
		if err := writeOutput(cmd.OutOrStdout(), compileOutput, text.Bytes()); err != nil {
			return err
		}
		if compileMapOut != "" {
			if err := writeBindMaps(cmd.OutOrStdout(), compileMapOut, results); err != nil {
				return err
			}
		}

		for _, res := range results {
			successColor.Fprint(cmd.ErrOrStderr(), "optimized")
			fmt.Fprintf(cmd.ErrOrStderr(), " %s (%s): %d surfaces, %d samplers\n",
				nameColor.Sprint(res.Shader.Name), res.Shader.Stage,
				len(res.BindMap.Surfaces), len(res.BindMap.Samplers))
		}
		return nil
	},
}

// resolveTarget returns the preset called name, or loads name as a TOML
// target file.
func resolveTarget(name string) (*pipeline.Target, error) {
	if t, ok := pipeline.Presets[name]; ok {
		return &t, nil
	}
	if _, err := os.Stat(name); err != nil {
		return nil, fmt.Errorf("unknown target %q (known: %s)", name, strings.Join(pipeline.PresetNames(), ", "))
	}
	return pipeline.LoadTarget(name)
}

func writeResult(w io.Writer, res *shaderopt.Result) error {
	if err := ir.Print(w, res.Shader); err != nil {
		return err
	}
	if compileDumpMap {
		fmt.Fprintf(w, "\nbind map:\n")
		if err := res.BindMap.Dump(w); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeBindMaps writes one msgpack bind map per shader. With several
// shaders the entry point name is inserted before the file extension.
func writeBindMaps(stdout io.Writer, path string, results []*shaderopt.Result) error {
	if path == "-" {
		if isTerminal(os.Stdout) {
			return errors.New("refusing to write a binary bind map to a terminal")
		}
		for _, res := range results {
			if _, err := res.BindMap.WriteTo(stdout); err != nil {
				return err
			}
		}
		return nil
	}

	for _, res := range results {
		out := path
		if len(results) > 1 {
			ext := filepath.Ext(path)
			out = strings.TrimSuffix(path, ext) + "." + res.Shader.Name + ext
		}
		var buf bytes.Buffer
		if _, err := res.BindMap.WriteTo(&buf); err != nil {
			return err
		}
		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write bind map: %w", err)
		}
	}
	return nil
}
