package ir

// BindingRef is the descriptor a resource access resolves to.
type BindingRef struct {
	Set      uint32
	Binding  uint32
	DescType DescriptorType
	// Var is set when the chain ends at a variable deref.
	Var *Variable
	// ResourceIndex is set when the chain ends at vulkan_resource_index.
	ResourceIndex *Intrinsic
}

// ChaseBinding follows v through deref steps, casts, descriptor loads and
// reindexing back to the variable or resource index it addresses.
func ChaseBinding(v *Value) (BindingRef, bool) {
	for v != nil {
		switch p := v.Parent().(type) {
		case *Deref:
			switch p.DerefKind {
			case DerefVar:
				data := &p.Var.Data
				return BindingRef{Set: data.DescriptorSet, Binding: data.Binding, Var: p.Var}, true
			default:
				v = p.Parent.Value()
			}
		case *Intrinsic:
			switch p.Op {
			case OpLoadVulkanDescriptor, OpVulkanResourceReindex:
				v = p.Srcs[0].Value()
			case OpVulkanResourceIndex:
				return BindingRef{
					Set:           p.Attr(IndexDescSet),
					Binding:       p.Attr(IndexBinding),
					DescType:      DescriptorType(p.Attr(IndexDescType)),
					ResourceIndex: p,
				}, true
			default:
				return BindingRef{}, false
			}
		case *ALU:
			if p.Op != OpMov || p.reg != nil {
				return BindingRef{}, false
			}
			v = p.Srcs[0].Value()
		default:
			return BindingRef{}, false
		}
	}
	return BindingRef{}, false
}

// BindingVariable returns the variable ref names. When the chain did not
// end at a variable, the shader's uniform, UBO and SSBO variables are
// searched by (set, binding); nil is returned when none or several match.
func (s *Shader) BindingVariable(ref BindingRef) *Variable {
	if ref.Var != nil {
		return ref.Var
	}
	var found *Variable
	for v := range s.Vars(ModeUniform | ModeUBO | ModeSSBO) {
		if v.Data.DescriptorSet != ref.Set || v.Data.Binding != ref.Binding {
			continue
		}
		if found != nil {
			return nil
		}
		found = v
	}
	return found
}

// FindResourceIndex returns the vulkan_resource_index behind v, or nil.
func FindResourceIndex(v *Value) *Intrinsic {
	ref, ok := ChaseBinding(v)
	if !ok {
		return nil
	}
	return ref.ResourceIndex
}

