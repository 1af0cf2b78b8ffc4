package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/gogpu/shaderopt/ir"
	"github.com/gogpu/shaderopt/wgslin"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	detailColor  = color.New(color.Faint)
	successColor = color.New(color.FgGreen, color.Bold)
	nameColor    = color.New(color.FgCyan)
)

// printError writes err to w. Contract violations and front-end errors get
// their fields highlighted.
func printError(w io.Writer, err error) {
	var v *ir.Violation
	if errors.As(err, &v) {
		errorColor.Fprint(w, "contract violation")
		fmt.Fprintf(w, " in %s: %s\n", nameColor.Sprint(v.Pass), v.Message)
		for _, f := range []struct{ label, value string }{
			{"instruction", v.Instr},
			{"block", v.Block},
			{"function", v.Function},
		} {
			if f.value != "" {
				detailColor.Fprintf(w, "  %s: ", f.label)
				fmt.Fprintln(w, strings.TrimSpace(f.value))
			}
		}
		return
	}

	var e *wgslin.Error
	if errors.As(err, &e) {
		errorColor.Fprintf(w, "%s error", e.Kind)
		if e.EntryPoint != "" {
			fmt.Fprintf(w, " in %s", nameColor.Sprint(e.EntryPoint))
		}
		fmt.Fprintf(w, ": %s\n", e.Message)
		if e.Err != nil {
			detailColor.Fprintf(w, "  cause: ")
			fmt.Fprintln(w, e.Err)
		}
		return
	}

	errorColor.Fprint(w, "error")
	fmt.Fprintf(w, ": %v\n", err)
}
