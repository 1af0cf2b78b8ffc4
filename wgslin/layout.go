package wgslin

import (
	"cmp"
	"slices"

	nagair "github.com/gogpu/naga/ir"

	"github.com/gogpu/shaderopt/internal/logging"
	"github.com/gogpu/shaderopt/ir"
	"github.com/gogpu/shaderopt/pipeline"
)

type bindingSlot struct {
	set, binding uint32
}

// DeriveLayout builds the pipeline layout implied by the resource bindings
// a module declares. A binding is visible to the stages of the entry
// points that reference it, or to every stage of the module when none
// does. Sets are numbered densely up to the highest group used.
func DeriveLayout(m *nagair.Module) (*pipeline.LayoutFile, error) {
	used := make(map[nagair.GlobalVariableHandle]ir.StageMask)
	var all ir.StageMask
	for i := range m.EntryPoints {
		ep := &m.EntryPoints[i]
		st, ok := stageOf(ep.Stage)
		if !ok {
			continue
		}
		all |= st.Mask()
		for _, e := range ep.Function.Expressions {
			if g, ok := e.Kind.(nagair.ExprGlobalVariable); ok {
				used[g.Variable] |= st.Mask()
			}
		}
	}

	found := make(map[bindingSlot]pipeline.BindingDesc)
	sets := 0
	for i := range m.GlobalVariables {
		gv := &m.GlobalVariables[i]
		if gv.Binding == nil {
			continue
		}
		desc, err := bindingDesc(m, gv)
		if err != nil {
			return nil, err
		}
		desc.Binding = gv.Binding.Binding
		desc.Stages = used[nagair.GlobalVariableHandle(i)]
		if desc.Stages == 0 {
			desc.Stages = all
		}

		slot := bindingSlot{gv.Binding.Group, gv.Binding.Binding}
		if prev, ok := found[slot]; ok {
			if prev.Type != desc.Type || prev.ArraySize != desc.ArraySize {
				return nil, errorf(ErrBindingConflict, "@group(%d) @binding(%d) declared as both %s and %s",
					slot.set, slot.binding, prev.Type, desc.Type)
			}
			prev.Stages |= desc.Stages
			found[slot] = prev
			continue
		}
		found[slot] = desc
		sets = max(sets, int(slot.set)+1)
	}

	f := &pipeline.LayoutFile{Sets: make([]pipeline.SetFile, sets)}
	for slot, d := range found {
		f.Sets[slot.set].Bindings = append(f.Sets[slot.set].Bindings, d)
	}
	for i := range f.Sets {
		slices.SortFunc(f.Sets[i].Bindings, func(a, b pipeline.BindingDesc) int {
			return cmp.Compare(a.Binding, b.Binding)
		})
	}
	logging.Pass("wgslin").Debug("layout derived", "sets", sets, "bindings", len(found))
	return f, nil
}

func bindingDesc(m *nagair.Module, gv *nagair.GlobalVariable) (pipeline.BindingDesc, error) {
	d := pipeline.BindingDesc{ArraySize: 1}
	switch gv.Space {
	case nagair.SpaceUniform:
		d.Type = ir.DescUniformBuffer
		return d, nil
	case nagair.SpaceStorage:
		d.Type = ir.DescStorageBuffer
		return d, nil
	case nagair.SpaceHandle:
	default:
		return d, errorf(ErrInvalidModule, "%s has a binding in address space %d", gv.Name, gv.Space)
	}

	if int(gv.Type) >= len(m.Types) {
		return d, errorf(ErrInvalidModule, "type handle %d out of range", gv.Type)
	}
	inner := m.Types[gv.Type].Inner
	if arr, ok := inner.(nagair.ArrayType); ok {
		if arr.Size.Constant == nil {
			return d, unsupported("runtime-sized binding array %s", gv.Name)
		}
		d.ArraySize = *arr.Size.Constant
		if int(arr.Base) >= len(m.Types) {
			return d, errorf(ErrInvalidModule, "type handle %d out of range", arr.Base)
		}
		inner = m.Types[arr.Base].Inner
	}
	switch t := inner.(type) {
	case nagair.SamplerType:
		d.Type = ir.DescSampler
	case nagair.ImageType:
		d.Type = ir.DescSampledImage
		if t.Class == nagair.ImageClassStorage {
			d.Type = ir.DescStorageImage
		}
	default:
		return d, errorf(ErrInvalidModule, "%s is not a resource", gv.Name)
	}
	return d, nil
}
