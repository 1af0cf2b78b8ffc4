package pipeline

import "github.com/gogpu/shaderopt/ir"

// Binding table limits shared by every target.
const (
	MaxSets = 8
	// MaxDynamicBuffers is the size of the dynamic offset table in push
	// constants.
	MaxDynamicBuffers = 16
	// DynamicOffsetsBase is the push constant byte offset of the dynamic
	// offset table.
	DynamicOffsetsBase = 128
)

// Target describes the capabilities of the hardware generation a shader is
// lowered for.
type Target struct {
	Name       string `toml:"name"`
	Generation uint8  `toml:"generation"`
	IsHaswell  bool   `toml:"is_haswell"`

	HasA64BufferAccess  bool `toml:"has_a64_buffer_access"`
	HasBindlessImages   bool `toml:"has_bindless_images"`
	// HasBindlessSamplers enables bindless samplers on targets without
	// bindless images. HasBindlessImages already covers them.
	HasBindlessSamplers bool `toml:"has_bindless_samplers"`
	// AlwaysUseBindless sends every binding that can be accessed bindlessly
	// through the descriptor buffer.
	AlwaysUseBindless  bool `toml:"always_use_bindless"`
	UseSoftpin         bool `toml:"use_softpin"`
	RobustBufferAccess bool `toml:"robust_buffer_access"`

	UBOAlignment        uint8  `toml:"ubo_alignment"`
	SSBOAlignment       uint8  `toml:"ssbo_alignment"`
	MaxBindingTableSize uint16 `toml:"max_binding_table_size"`
	MaxSamplerTableSize uint16 `toml:"max_sampler_table_size"`

	// UBOFormat and SSBOFormat override the derived address formats when set.
	UBOFormat  ir.AddressFormat `toml:"ubo_address_format"`
	SSBOFormat ir.AddressFormat `toml:"ssbo_address_format"`
}

// Presets for the hardware generations the lowering knows about.
var (
	TargetGen7 = Target{
		Name:                "gen7",
		Generation:          7,
		UBOAlignment:        64,
		SSBOAlignment:       4,
		MaxBindingTableSize: 240,
		MaxSamplerTableSize: 16,
	}
	TargetGen75 = Target{
		Name:                "gen7.5",
		Generation:          7,
		IsHaswell:           true,
		UBOAlignment:        64,
		SSBOAlignment:       4,
		MaxBindingTableSize: 240,
		MaxSamplerTableSize: 16,
	}
	TargetGen8 = Target{
		Name:                "gen8",
		Generation:          8,
		HasA64BufferAccess:  true,
		UseSoftpin:          true,
		UBOAlignment:        64,
		SSBOAlignment:       4,
		MaxBindingTableSize: 240,
		MaxSamplerTableSize: 16,
	}
	TargetGen9 = Target{
		Name:                "gen9",
		Generation:          9,
		HasA64BufferAccess:  true,
		HasBindlessImages:   true,
		HasBindlessSamplers: true,
		UseSoftpin:          true,
		UBOAlignment:        64,
		SSBOAlignment:       4,
		MaxBindingTableSize: 240,
		MaxSamplerTableSize: 16,
	}
	TargetGen12 = Target{
		Name:                "gen12",
		Generation:          12,
		HasA64BufferAccess:  true,
		HasBindlessImages:   true,
		HasBindlessSamplers: true,
		UseSoftpin:          true,
		UBOAlignment:        64,
		SSBOAlignment:       4,
		MaxBindingTableSize: 240,
		MaxSamplerTableSize: 16,
	}
)

// Presets maps preset names to targets.
var Presets = map[string]Target{
	"gen7":   TargetGen7,
	"gen7.5": TargetGen75,
	"gen8":   TargetGen8,
	"gen9":   TargetGen9,
	"gen12":  TargetGen12,
}

// IsGen7NonHaswell reports whether the sampler lacks a channel select
// table, so texture swizzles have to be applied in the shader.
func (t *Target) IsGen7NonHaswell() bool {
	return t.Generation == 7 && !t.IsHaswell
}

// AddBoundsChecks reports whether descriptor array indices are clamped.
func (t *Target) AddBoundsChecks() bool { return t.RobustBufferAccess }

// SSBOAddressFormat returns the address format used for storage buffers.
func (t *Target) SSBOAddressFormat() ir.AddressFormat {
	if t.SSBOFormat != ir.AddrNone {
		return t.SSBOFormat
	}
	if !t.HasA64BufferAccess {
		return ir.Addr32BitIndexOffset
	}
	if t.RobustBufferAccess {
		return ir.Addr64BitBoundedGlobal
	}
	return ir.Addr64BitGlobal
}

// UBOAddressFormat returns the address format used for uniform buffers.
// Uniform buffers only go through 64-bit addresses when they need bounds
// checking.
func (t *Target) UBOAddressFormat() ir.AddressFormat {
	if t.UBOFormat != ir.AddrNone {
		return t.UBOFormat
	}
	if t.HasA64BufferAccess && t.RobustBufferAccess {
		return ir.Addr64BitBoundedGlobal
	}
	return ir.Addr32BitIndexOffset
}

// addressFormat returns the format for buffer descriptors of type dt.
func (t *Target) addressFormat(dt ir.DescriptorType) ir.AddressFormat {
	switch dt {
	case ir.DescStorageBuffer, ir.DescStorageBufferDynamic:
		return t.SSBOAddressFormat()
	case ir.DescUniformBuffer, ir.DescUniformBufferDynamic:
		return t.UBOAddressFormat()
	}
	return ir.Addr32BitIndexOffset
}
