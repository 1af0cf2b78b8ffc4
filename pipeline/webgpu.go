package pipeline

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/shaderopt/ir"
)

// stagesFromWebGPU maps WebGPU shader stage visibility to a stage mask.
func stagesFromWebGPU(e gputypes.BindGroupLayoutEntry) ir.StageMask {
	var m ir.StageMask
	if e.Visibility&gputypes.ShaderStageVertex != 0 {
		m |= ir.StageVertex.Mask()
	}
	if e.Visibility&gputypes.ShaderStageFragment != 0 {
		m |= ir.StageFragment.Mask()
	}
	if e.Visibility&gputypes.ShaderStageCompute != 0 {
		m |= ir.StageCompute.Mask()
	}
	return m
}

// BindingFromWebGPU converts one WebGPU bind group layout entry. WebGPU has
// no binding arrays, so every binding has a single element.
func BindingFromWebGPU(e gputypes.BindGroupLayoutEntry) (BindingDesc, error) {
	d := BindingDesc{Binding: e.Binding, ArraySize: 1, Stages: stagesFromWebGPU(e)}
	switch {
	case e.Buffer != nil:
		switch e.Buffer.Type {
		case gputypes.BufferBindingTypeUniform:
			d.Type = ir.DescUniformBuffer
			if e.Buffer.HasDynamicOffset {
				d.Type = ir.DescUniformBufferDynamic
			}
		case gputypes.BufferBindingTypeStorage, gputypes.BufferBindingTypeReadOnlyStorage:
			d.Type = ir.DescStorageBuffer
			if e.Buffer.HasDynamicOffset {
				d.Type = ir.DescStorageBufferDynamic
			}
		default:
			return d, fmt.Errorf("binding %d: unsupported buffer binding type %v", e.Binding, e.Buffer.Type)
		}
	case e.Sampler != nil:
		d.Type = ir.DescSampler
	case e.Texture != nil:
		d.Type = ir.DescSampledImage
	default:
		return d, fmt.Errorf("binding %d: entry declares no resource", e.Binding)
	}
	return d, nil
}

// SetLayoutFromWebGPU builds a descriptor set layout for target t from the
// entries of a WebGPU bind group layout.
func SetLayoutFromWebGPU(t *Target, entries []gputypes.BindGroupLayoutEntry) (*SetLayout, error) {
	descs := make([]BindingDesc, 0, len(entries))
	for _, e := range entries {
		d, err := BindingFromWebGPU(e)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return NewSetLayout(t, descs)
}
