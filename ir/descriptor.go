package ir

import "fmt"

// DescriptorType is the kind of resource a binding holds.
type DescriptorType uint8

const (
	DescSampler DescriptorType = iota
	DescCombinedImageSampler
	DescSampledImage
	DescStorageImage
	DescUniformTexelBuffer
	DescStorageTexelBuffer
	DescUniformBuffer
	DescStorageBuffer
	DescUniformBufferDynamic
	DescStorageBufferDynamic
	DescInputAttachment
	DescInlineUniformBlock
	DescAccelerationStructure
	numDescriptorTypes
)

var descTypeNames = [numDescriptorTypes]string{
	"sampler", "combined-image-sampler", "sampled-image", "storage-image",
	"uniform-texel-buffer", "storage-texel-buffer", "uniform-buffer", "storage-buffer",
	"uniform-buffer-dynamic", "storage-buffer-dynamic", "input-attachment",
	"inline-uniform-block", "acceleration-structure",
}

func (t DescriptorType) String() string {
	if t < numDescriptorTypes {
		return descTypeNames[t]
	}
	return fmt.Sprintf("descriptor(%d)", t)
}

// MarshalText implements encoding.TextMarshaler.
func (t DescriptorType) MarshalText() ([]byte, error) {
	if t >= numDescriptorTypes {
		return nil, fmt.Errorf("unknown descriptor type %d", t)
	}
	return []byte(descTypeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DescriptorType) UnmarshalText(b []byte) error {
	for i, n := range descTypeNames {
		if n == string(b) {
			*t = DescriptorType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown descriptor type %q", b)
}

// IsDynamic reports whether the binding takes a dynamic offset.
func (t DescriptorType) IsDynamic() bool {
	return t == DescUniformBufferDynamic || t == DescStorageBufferDynamic
}

// IsBuffer reports whether the descriptor addresses a buffer through
// vulkan_resource_index.
func (t DescriptorType) IsBuffer() bool {
	switch t {
	case DescUniformBuffer, DescStorageBuffer, DescUniformBufferDynamic,
		DescStorageBufferDynamic, DescInlineUniformBlock:
		return true
	}
	return false
}
