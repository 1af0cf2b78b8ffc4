package ir

import (
	"fmt"

	"github.com/gogpu/shaderopt/internal/logging"
)

// Violation describes malformed IR or an unsupported construct found by a
// pass. Passes panic with a *Violation; it is never returned as an error
// from a pass.
type Violation struct {
	Pass     string
	Function string
	Block    string
	Instr    string
	Message  string
}

func (v *Violation) Error() string {
	msg := v.Pass + ": " + v.Message
	if v.Instr != "" {
		msg += "\n  instruction: " + v.Instr
	}
	if v.Block != "" {
		msg += "\n  block: " + v.Block
	}
	if v.Function != "" {
		msg += "\n  function: " + v.Function
	}
	return msg
}

// Abortf panics with a *Violation naming pass and, when at is non-nil, the
// instruction together with its block and function.
func Abortf(pass string, at Instr, format string, args ...any) {
	v := &Violation{Pass: pass, Message: fmt.Sprintf(format, args...)}
	if at != nil {
		v.Instr = FormatInstr(at)
		if b := at.Block(); b != nil {
			v.Block = b.String()
			v.Function = b.fn.Name
		}
	}
	logging.L().Error("contract violation", "pass", v.Pass, "function", v.Function,
		"block", v.Block, "instr", v.Instr, "message", v.Message)
	panic(v)
}
