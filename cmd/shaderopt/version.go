package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version can be overridden at build time via -ldflags.
var version = "0.1.0-dev"

type versionPayload struct {
	Tool      string `json:"tool"`
	Version   string `json:"version"`
	Go        string `json:"go"`
	Naga    string `json:"naga,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

var versionFormat string

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := versionPayload{Tool: "shaderopt", Version: version, Go: runtime.Version()}
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/gogpu/naga" {
					p.Naga = dep.Version
				}
			}
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					p.GitCommit = s.Value
				}
			}
		}

		switch versionFormat {
		case "json":
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		case "pretty":
		default:
			return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s\n", nameColor.Sprint(p.Tool), successColor.Sprint(p.Version))
		fmt.Fprintf(w, "  go:   %s\n", p.Go)
		if p.Naga != "" {
			fmt.Fprintf(w, "  naga: %s\n", p.Naga)
		}
		if p.GitCommit != "" {
			fmt.Fprintf(w, "  commit: %s\n", p.GitCommit)
		}
		return nil
	},
}
