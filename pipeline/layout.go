package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"fortio.org/safecast"

	"github.com/gogpu/shaderopt/ir"
)

// DataFlags says which kinds of state a binding's descriptors carry, both
// in binding tables and in the set's descriptor buffer.
type DataFlags uint16

const (
	// DataSurfaceState marks bindings that take binding table slots.
	DataSurfaceState DataFlags = 1 << iota
	// DataSamplerState marks bindings that take sampler table slots.
	DataSamplerState
	// DataAddressRange stores a 64-bit address and a range.
	DataAddressRange
	// DataSampledImage stores a texture handle and a sampler handle.
	DataSampledImage
	// DataStorageImage stores a read-write and a write-only image handle.
	DataStorageImage
	// DataImageParam stores the parameters needed to emulate typed image
	// access.
	DataImageParam
	// DataTextureSwizzle stores a channel select word per plane.
	DataTextureSwizzle
	// DataInlineUniform stores the uniform data itself.
	DataInlineUniform
)

var dataNames = [...]string{
	"surface-state", "sampler-state", "address-range", "sampled-image",
	"storage-image", "image-param", "texture-swizzle", "inline-uniform",
}

func (d DataFlags) String() string {
	if d == 0 {
		return "none"
	}
	var parts []string
	for i, n := range dataNames {
		if d&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// Sizes of the descriptor buffer records, per plane.
const (
	AddressRangeSize   = 16
	SampledImageSize   = 8
	StorageImageSize   = 8
	ImageParamSize     = 80
	TextureSwizzleSize = 4
)

// Image parameter slots inside an image-param record. Each is 16 bytes.
const (
	ParamSurfaceIndex = iota
	ParamSize
	ParamStride
	ParamTiling
	ParamSwizzling
)

// Layout of the per-plane records within one descriptor.
var descriptorParts = []struct {
	flag DataFlags
	size uint32
}{
	{DataAddressRange, AddressRangeSize},
	{DataSampledImage, SampledImageSize},
	{DataStorageImage, StorageImageSize},
	{DataImageParam, ImageParamSize},
	{DataTextureSwizzle, TextureSwizzleSize},
}

func dataSize(d DataFlags) uint32 {
	var size uint32
	for _, p := range descriptorParts {
		if d&p.flag != 0 {
			size += p.size
		}
	}
	return size
}

// dataForType returns the data a descriptor of type dt carries on t.
func dataForType(t *Target, dt ir.DescriptorType) DataFlags {
	var data DataFlags
	switch dt {
	case ir.DescSampler:
		data = DataSamplerState
		if t.bindlessSamplers() {
			data |= DataSampledImage
		}
	case ir.DescCombinedImageSampler:
		data = DataSurfaceState | DataSamplerState
		if t.bindlessSamplers() {
			data |= DataSampledImage
		}
	case ir.DescSampledImage, ir.DescInputAttachment:
		data = DataSurfaceState
		if t.HasBindlessImages {
			data |= DataSampledImage
		}
	case ir.DescUniformTexelBuffer:
		data = DataSurfaceState
	case ir.DescStorageImage, ir.DescStorageTexelBuffer:
		data = DataSurfaceState
		if t.Generation < 9 {
			data |= DataImageParam
		}
		if t.HasBindlessImages {
			data |= DataStorageImage
		}
	case ir.DescUniformBuffer, ir.DescUniformBufferDynamic,
		ir.DescStorageBuffer, ir.DescStorageBufferDynamic:
		data = DataSurfaceState
	case ir.DescInlineUniformBlock:
		data = DataInlineUniform
	case ir.DescAccelerationStructure:
		data = DataAddressRange
	}

	switch dt {
	case ir.DescStorageBuffer, ir.DescStorageBufferDynamic:
		if t.SSBOAddressFormat().Is64Bit() {
			data |= DataAddressRange
		}
	case ir.DescUniformBuffer, ir.DescUniformBufferDynamic:
		if t.UBOAddressFormat().Is64Bit() {
			data |= DataAddressRange
		}
	case ir.DescSampledImage, ir.DescCombinedImageSampler:
		if t.IsGen7NonHaswell() {
			data |= DataTextureSwizzle
		}
	}
	return data
}

// descriptorTypeSize is the size of a single-plane descriptor of type dt.
func descriptorTypeSize(t *Target, dt ir.DescriptorType) uint32 {
	return dataSize(dataForType(t, dt))
}

// BindingFlags are the Vulkan descriptor binding flags that matter for
// lowering.
type BindingFlags uint8

const (
	BindingUpdateAfterBind BindingFlags = 1 << iota
	BindingUpdateUnusedWhilePending
	BindingPartiallyBound
)

var bindingFlagNames = [...]string{"update-after-bind", "update-unused-while-pending", "partially-bound"}

func (f BindingFlags) String() string {
	var parts []string
	for i, n := range bindingFlagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// MarshalText implements encoding.TextMarshaler.
func (f BindingFlags) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *BindingFlags) UnmarshalText(b []byte) error {
	var flags BindingFlags
	for name := range strings.SplitSeq(string(b), "|") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		i := slices.Index(bindingFlagNames[:], name)
		if i < 0 {
			return fmt.Errorf("unknown binding flag %q", name)
		}
		flags |= 1 << i
	}
	*f = flags
	return nil
}

// ImmutableSampler is a sampler baked into the layout. Samplers with a
// YCbCr conversion have more than one plane.
type ImmutableSampler struct {
	Planes uint8 `toml:"planes"`
}

// BindingDesc is one binding of a descriptor set layout as the application
// declares it.
type BindingDesc struct {
	Binding   uint32            `toml:"binding"`
	Type      ir.DescriptorType `toml:"type"`
	ArraySize uint32            `toml:"array_size"`
	Stages    ir.StageMask      `toml:"stages"`
	Flags     BindingFlags      `toml:"flags,omitempty"`
	// ImmutableSamplers holds one sampler per array element, or nothing.
	ImmutableSamplers []ImmutableSampler `toml:"immutable_samplers,omitempty"`
}

// BindingLayout is a binding with everything derived from it.
type BindingLayout struct {
	Type      ir.DescriptorType
	ArraySize uint32
	Stages    ir.StageMask
	Flags     BindingFlags
	Data      DataFlags
	MaxPlanes uint8
	// DescriptorIndex is the index of element 0 among all descriptors of
	// the set.
	DescriptorIndex uint32
	// DynamicOffsetIndex is the index of element 0 among the set's dynamic
	// buffers, or -1.
	DynamicOffsetIndex int16
	// DescriptorOffset is the byte offset of element 0 in the set's
	// descriptor buffer.
	DescriptorOffset  uint32
	ImmutableSamplers []ImmutableSampler
}

// DescriptorSize is the size of one array element in the descriptor
// buffer. Every element is sized for the binding's largest plane count.
func (b *BindingLayout) DescriptorSize() uint32 {
	if b.Data&DataInlineUniform != 0 {
		return b.ArraySize
	}
	return dataSize(b.Data) * uint32(b.MaxPlanes)
}

// partOffset returns the byte offset of a record inside one descriptor.
func (b *BindingLayout) partOffset(part DataFlags) uint32 {
	var off uint32
	for _, p := range descriptorParts {
		if p.flag == part {
			return off
		}
		if b.Data&p.flag != 0 {
			off += p.size * uint32(b.MaxPlanes)
		}
	}
	panic("pipeline: unknown descriptor part " + part.String())
}

// planes returns the plane count of array element i.
func (b *BindingLayout) planes(i uint32) uint8 {
	if b.ImmutableSamplers == nil {
		return 1
	}
	return b.ImmutableSamplers[i].Planes
}

// SetLayout is a descriptor set layout.
type SetLayout struct {
	// Bindings is indexed by binding number. Unused numbers have an array
	// size of zero.
	Bindings           []BindingLayout
	DescriptorCount    uint32
	DynamicOffsetCount uint32
	// BufferSize is the size of the set's descriptor buffer.
	BufferSize uint32
}

func alignUp(v, a uint32) uint32 { return (v + a - 1) &^ (a - 1) }

// NewSetLayout computes the layout of a descriptor set for target t.
func NewSetLayout(t *Target, descs []BindingDesc) (*SetLayout, error) {
	sorted := slices.Clone(descs)
	slices.SortFunc(sorted, func(a, b BindingDesc) int { return int(a.Binding) - int(b.Binding) })

	sl := &SetLayout{}
	if n := len(sorted); n > 0 {
		sl.Bindings = make([]BindingLayout, sorted[n-1].Binding+1)
	}
	var bufSize uint32
	for i, d := range sorted {
		if i > 0 && sorted[i-1].Binding == d.Binding {
			return nil, fmt.Errorf("binding %d declared twice", d.Binding)
		}
		if _, err := d.Type.MarshalText(); err != nil {
			return nil, fmt.Errorf("binding %d: %w", d.Binding, err)
		}
		bl := &sl.Bindings[d.Binding]
		*bl = BindingLayout{
			Type:               d.Type,
			ArraySize:          d.ArraySize,
			Stages:             d.Stages,
			Flags:              d.Flags,
			Data:               dataForType(t, d.Type),
			MaxPlanes:          1,
			DynamicOffsetIndex: -1,
		}
		if d.ArraySize == 0 {
			continue
		}

		if len(d.ImmutableSamplers) > 0 {
			if d.Type != ir.DescSampler && d.Type != ir.DescCombinedImageSampler {
				return nil, fmt.Errorf("binding %d: immutable samplers on a %s binding", d.Binding, d.Type)
			}
			if uint32(len(d.ImmutableSamplers)) != d.ArraySize {
				return nil, fmt.Errorf("binding %d: %d immutable samplers for %d elements",
					d.Binding, len(d.ImmutableSamplers), d.ArraySize)
			}
			for _, s := range d.ImmutableSamplers {
				if s.Planes < 1 || s.Planes > 3 {
					return nil, fmt.Errorf("binding %d: sampler with %d planes", d.Binding, s.Planes)
				}
				bl.MaxPlanes = max(bl.MaxPlanes, s.Planes)
			}
			bl.ImmutableSamplers = slices.Clone(d.ImmutableSamplers)
		}

		bl.DescriptorIndex = sl.DescriptorCount
		if d.Type == ir.DescInlineUniformBlock {
			if d.ArraySize%4 != 0 {
				return nil, fmt.Errorf("binding %d: inline uniform block size %d is not a multiple of 4",
					d.Binding, d.ArraySize)
			}
			// The array size of an inline block is its size in bytes.
			sl.DescriptorCount++
			bufSize = alignUp(bufSize, 32)
			bl.DescriptorOffset = bufSize
			bufSize += d.ArraySize
			continue
		}
		sl.DescriptorCount += d.ArraySize

		if d.Type.IsDynamic() {
			idx, err := safecast.Conv[int16](sl.DynamicOffsetCount)
			if err != nil {
				return nil, fmt.Errorf("binding %d: %w", d.Binding, err)
			}
			bl.DynamicOffsetIndex = idx
			sl.DynamicOffsetCount += d.ArraySize
			if sl.DynamicOffsetCount > MaxDynamicBuffers {
				return nil, fmt.Errorf("binding %d: set uses %d dynamic buffers, at most %d are supported",
					d.Binding, sl.DynamicOffsetCount, MaxDynamicBuffers)
			}
		}

		if size := bl.DescriptorSize(); size > 0 {
			bufSize = alignUp(bufSize, 8)
			bl.DescriptorOffset = bufSize
			bufSize += size * d.ArraySize
		}
	}
	sl.BufferSize = bufSize
	if bufSize > 0xffff {
		return nil, fmt.Errorf("descriptor buffer of %d bytes does not fit 16-bit offsets", bufSize)
	}
	return sl, nil
}

// LayoutSet is one set of a pipeline layout.
type LayoutSet struct {
	Layout             *SetLayout
	DynamicOffsetStart uint32
}

// Layout is a pipeline layout.
type Layout struct {
	Sets               []LayoutSet
	DynamicOffsetCount uint32
}

// NewLayout builds a pipeline layout from set layouts. A nil set is an
// empty set.
func NewLayout(sets ...*SetLayout) (*Layout, error) {
	if len(sets) > MaxSets {
		return nil, fmt.Errorf("pipeline layout has %d sets, at most %d are supported", len(sets), MaxSets)
	}
	l := &Layout{Sets: make([]LayoutSet, len(sets))}
	for i, s := range sets {
		if s == nil {
			s = &SetLayout{}
		}
		l.Sets[i] = LayoutSet{Layout: s, DynamicOffsetStart: l.DynamicOffsetCount}
		l.DynamicOffsetCount += s.DynamicOffsetCount
	}
	if l.DynamicOffsetCount > MaxDynamicBuffers {
		return nil, fmt.Errorf("pipeline layout uses %d dynamic buffers, at most %d are supported",
			l.DynamicOffsetCount, MaxDynamicBuffers)
	}
	return l, nil
}

// Binding returns the layout of (set, binding), or nil when the layout has
// no such binding.
func (l *Layout) Binding(set, binding uint32) *BindingLayout {
	if int(set) >= len(l.Sets) {
		return nil
	}
	bs := l.Sets[set].Layout.Bindings
	if int(binding) >= len(bs) || bs[binding].ArraySize == 0 {
		return nil
	}
	return &bs[binding]
}

// bindlessSamplers reports whether sampler state can be read from the
// descriptor buffer. Bindless images imply it for sampled-image records.
func (t *Target) bindlessSamplers() bool {
	return t.HasBindlessImages || t.HasBindlessSamplers
}

// supportsBindless reports whether the binding can be reached through the
// descriptor buffer. sampler selects the sampler half of combined
// bindings.
func (t *Target) supportsBindless(b *BindingLayout, sampler bool) bool {
	switch {
	case b.Data&DataAddressRange != 0:
		return true
	case b.Data&DataSampledImage != 0:
		if sampler {
			return t.bindlessSamplers()
		}
		return t.HasBindlessImages
	case b.Data&DataStorageImage != 0:
		return true
	}
	return false
}

const bindlessFlags = BindingUpdateAfterBind | BindingUpdateUnusedWhilePending | BindingPartiallyBound

// requiresBindless reports whether the binding must not take a table slot.
func (t *Target) requiresBindless(b *BindingLayout, sampler bool) bool {
	if t.AlwaysUseBindless {
		return t.supportsBindless(b, sampler)
	}
	return b.Flags&bindlessFlags != 0
}
