package ir

import (
	"fmt"
	"io"
	"strings"
)

const swizzleChars = "xyzw"

type printer struct {
	sb     strings.Builder
	indent int
}

func (p *printer) line(format string, args ...any) {
	for range p.indent {
		p.sb.WriteByte('\t')
	}
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteByte('\n')
}

// Print writes a textual form of s to w.
func Print(w io.Writer, s *Shader) error {
	var p printer
	p.shader(s)
	_, err := io.WriteString(w, p.sb.String())
	return err
}

func (s *Shader) String() string {
	var p printer
	p.shader(s)
	return p.sb.String()
}

func (p *printer) shader(s *Shader) {
	p.line("shader: %s", s.Name)
	p.line("stage: %s", s.Stage)
	for _, v := range s.Variables {
		p.line("%s", formatVar(v))
	}
	if len(s.ConstantData) > 0 {
		p.line("constants: %d bytes", len(s.ConstantData))
	}
	for _, fn := range s.Functions {
		p.sb.WriteByte('\n')
		p.function(fn)
	}
}

func formatVar(v *Variable) string {
	var sb strings.Builder
	sb.WriteString("decl_var ")
	sb.WriteString(v.Data.Mode.String())
	if v.Data.Access != 0 {
		sb.WriteString(" " + v.Data.Access.String())
	}
	sb.WriteString(" " + v.Type.String() + " " + v.String())
	switch {
	case v.Data.Mode.MayBe(ModeUniform | ModeUBO | ModeSSBO | ModeImage | ModeSampler):
		fmt.Fprintf(&sb, " (set=%d, binding=%d", v.Data.DescriptorSet, v.Data.Binding)
		if v.Type.WithoutArray().IsImage() && v.Type.WithoutArray().Image().Dim.IsSubpass() {
			fmt.Fprintf(&sb, ", index=%d", v.Data.Index)
		}
		sb.WriteString(")")
	case v.Data.Builtin != BuiltinNone:
		fmt.Fprintf(&sb, " (builtin=%d)", v.Data.Builtin)
	case v.Data.Location >= 0:
		fmt.Fprintf(&sb, " (location=%d, component=%d, driver_location=%d)",
			v.Data.Location, v.Data.Component, v.Data.DriverLocation)
	}
	return sb.String()
}

func (p *printer) function(fn *Function) {
	fn.Require(MetaBlockIndex)
	if fn.IsEntry {
		p.line("impl %s (entrypoint) {", fn.Name)
	} else {
		p.line("impl %s {", fn.Name)
	}
	p.indent++
	for _, v := range fn.Locals {
		p.line("decl_var function %s %s", v.Type, v)
	}
	for _, r := range fn.Registers {
		p.line("decl_reg %dx%d %s", r.BitSize, r.NumComponents, r)
	}
	p.list(fn.Body)
	p.indent--
	p.line("}")
}

func (p *printer) list(l *CFList) {
	for _, n := range l.nodes {
		switch n := n.(type) {
		case *Block:
			p.block(n)
		case *If:
			p.line("if %s {", n.Cond.String())
			p.indent++
			p.list(n.Then)
			p.indent--
			p.line("} else {")
			p.indent++
			p.list(n.Else)
			p.indent--
			p.line("}")
		case *Loop:
			p.line("loop {")
			p.indent++
			p.list(n.Body)
			p.indent--
			p.line("}")
		}
	}
}

func (p *printer) block(b *Block) {
	var preds []string
	for _, pr := range b.preds {
		preds = append(preds, pr.String())
	}
	p.line("block %s:  // preds: %s", b, strings.Join(preds, " "))
	p.indent++
	for i := range b.Instrs() {
		p.line("%s", FormatInstr(i))
	}
	p.indent--
}

func formatDef(v *Value) string {
	return fmt.Sprintf("%dx%d %s = ", v.BitSize, v.NumComponents, v)
}

func formatALUSrc(a *ALU, i int) string {
	s := &a.Srcs[i]
	out := s.Src.String()
	n := a.InputComponents(i)
	var width uint8 = 4
	if v := s.Value(); v != nil {
		width = v.NumComponents
	}
	identity := n == int(width)
	for c := range n {
		if s.Swizzle[c] != identitySwizzle[c] {
			identity = false
		}
	}
	if !identity {
		out += "."
		for c := range n {
			out += swizzleChars[s.Swizzle[c] : s.Swizzle[c]+1]
		}
	}
	if s.Abs {
		out = "|" + out + "|"
	}
	if s.Negate {
		out = "-" + out
	}
	return out
}

// FormatInstr renders a single instruction.
func FormatInstr(i Instr) string {
	var sb strings.Builder
	if d := i.Def(); d != nil {
		sb.WriteString(formatDef(d))
	}
	switch i := i.(type) {
	case *ALU:
		if r := i.reg; r != nil {
			fmt.Fprintf(&sb, "%s.%s = ", r, writeMaskString(i.WriteMask))
		}
		sb.WriteString(i.Op.String())
		if i.Saturate {
			sb.WriteString(".sat")
		}
		for k := range i.Srcs {
			if k == 0 {
				sb.WriteString(" ")
			} else {
				sb.WriteString(", ")
			}
			sb.WriteString(formatALUSrc(i, k))
		}
	case *LoadConst:
		sb.WriteString("load_const (")
		for c := range int(i.def.NumComponents) {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "0x%0*x", max(int(i.def.BitSize)/4, 1), i.Lanes[c])
		}
		sb.WriteString(")")
	case *Undef:
		sb.WriteString("undefined")
	case *Intrinsic:
		sb.WriteString("intrinsic " + i.Op.String() + " (")
		for k := range i.Srcs {
			if k > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(i.Srcs[k].String())
		}
		sb.WriteString(")")
		if idx := i.Info().Indices; len(idx) > 0 {
			sb.WriteString(" (")
			for k, kind := range idx {
				if k > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(kind.String() + "=" + formatAttr(kind, i.Attr(kind)))
			}
			sb.WriteString(")")
		}
	case *Tex:
		sb.WriteString("tex " + i.Op.String() + " (")
		for k, s := range i.Srcs {
			if k > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(s.Kind.String() + ":" + s.Src.String())
		}
		fmt.Fprintf(&sb, ") %s", i.Dim)
		if i.IsArray {
			sb.WriteString(" array")
		}
		if i.IsShadow {
			sb.WriteString(" shadow")
		}
		fmt.Fprintf(&sb, " %s texture=%d sampler=%d", i.DestType, i.TextureIndex, i.SamplerIndex)
	case *Deref:
		switch i.DerefKind {
		case DerefVar:
			fmt.Fprintf(&sb, "deref_var &%s (%s %s)", i.Var, i.Mode, i.Type)
		case DerefArray:
			fmt.Fprintf(&sb, "deref_array &%s[%s] (%s %s)", i.Parent.String(), i.Index.String(), i.Mode, i.Type)
		case DerefPtrAsArray:
			fmt.Fprintf(&sb, "deref_ptr_as_array &%s[%s] (%s %s)", i.Parent.String(), i.Index.String(), i.Mode, i.Type)
		case DerefStruct:
			field := fmt.Sprint(i.Field)
			if pd := i.ParentDeref(); pd != nil && pd.Type.Field(i.Field).Name != "" {
				field = pd.Type.Field(i.Field).Name
			}
			fmt.Fprintf(&sb, "deref_struct &%s->%s (%s %s)", i.Parent.String(), field, i.Mode, i.Type)
		case DerefCast:
			fmt.Fprintf(&sb, "deref_cast (%s *)%s (%s, ptr_stride=%d)", i.Type, i.Parent.String(), i.Mode, i.PtrStride)
		}
	case *Phi:
		sb.WriteString("phi")
		for k, s := range i.Srcs {
			if k > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, " %s: %s", s.Pred, s.Src.String())
		}
	case *Jump:
		sb.WriteString(i.JumpKind.String())
	}
	return sb.String()
}

func writeMaskString(m uint8) string {
	var s string
	for c := range 4 {
		if m&(1<<c) != 0 {
			s += swizzleChars[c : c+1]
		}
	}
	return s
}

func formatAttr(k IndexKind, v uint32) string {
	switch k {
	case IndexAccess:
		return Access(v).String()
	case IndexDescType:
		return DescriptorType(v).String()
	case IndexImageDim:
		return SamplerDim(v).String()
	case IndexWriteMask:
		return writeMaskString(uint8(v))
	case IndexImageArray:
		if v != 0 {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("%d", v)
}
