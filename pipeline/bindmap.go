package pipeline

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Special values of Entry.Set.
const (
	// SetDescriptors marks the slot of a set's descriptor buffer; Index
	// holds the set number.
	SetDescriptors = 252
	// SetShaderConstants marks the slot of the shader's constant data.
	SetShaderConstants = 254
)

// BindlessOffset is the slot recorded for bindings that do not live in a
// binding or sampler table.
const BindlessOffset = 0xffff

// Entry describes what one binding table or sampler table slot holds.
type Entry struct {
	Set     uint8  `msgpack:"set"`
	Binding uint32 `msgpack:"binding"`
	// Element is the array element within the binding.
	Element uint32 `msgpack:"element"`
	// Index is the descriptor index within the set.
	Index uint32 `msgpack:"index"`
	Plane uint8  `msgpack:"plane"`
	// DynamicOffsetIndex is the slot in the dynamic offset table, or -1.
	DynamicOffsetIndex   int16 `msgpack:"dynamic_offset_index"`
	InputAttachmentIndex uint8 `msgpack:"input_attachment_index"`
	WriteOnly            bool  `msgpack:"write_only"`
}

func (e Entry) String() string {
	switch e.Set {
	case SetDescriptors:
		return fmt.Sprintf("descriptors(set=%d)", e.Index)
	case SetShaderConstants:
		return "shader-constants"
	}
	s := fmt.Sprintf("set=%d binding=%d element=%d index=%d plane=%d", e.Set, e.Binding, e.Element, e.Index, e.Plane)
	if e.DynamicOffsetIndex >= 0 {
		s += fmt.Sprintf(" dynamic=%d", e.DynamicOffsetIndex)
	}
	if e.InputAttachmentIndex != 0 {
		s += fmt.Sprintf(" input_attachment=%d", e.InputAttachmentIndex)
	}
	if e.WriteOnly {
		s += " write-only"
	}
	return s
}

// BindMap tells a back end what each binding table and sampler table slot
// binds.
type BindMap struct {
	Surfaces []Entry `msgpack:"surfaces"`
	Samplers []Entry `msgpack:"samplers"`

	SurfaceDigest [sha256.Size]byte `msgpack:"surface_digest"`
	SamplerDigest [sha256.Size]byte `msgpack:"sampler_digest"`
}

func (m *BindMap) reset() {
	m.Surfaces = m.Surfaces[:0]
	m.Samplers = m.Samplers[:0]
	m.SurfaceDigest = [sha256.Size]byte{}
	m.SamplerDigest = [sha256.Size]byte{}
}

func entriesDigest(entries []Entry) [sha256.Size]byte {
	if len(entries) == 0 {
		entries = []Entry{}
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseArrayEncodedStructs(true)
	if err := enc.Encode(entries); err != nil {
		panic(fmt.Errorf("encode bind map entries: %w", err))
	}
	return sha256.Sum256(buf.Bytes())
}

// Seal computes both digests from the current entries. Two maps with the
// same entries have the same digests.
func (m *BindMap) Seal() {
	m.SurfaceDigest = entriesDigest(m.Surfaces)
	m.SamplerDigest = entriesDigest(m.Samplers)
}

// WriteTo serializes the map as msgpack.
func (m *BindMap) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(m); err != nil {
		return 0, fmt.Errorf("encode bind map: %w", err)
	}
	return buf.WriteTo(w)
}

// ReadBindMap decodes a map written by WriteTo and checks its digests.
func ReadBindMap(r io.Reader) (*BindMap, error) {
	var m BindMap
	if err := msgpack.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode bind map: %w", err)
	}
	if entriesDigest(m.Surfaces) != m.SurfaceDigest {
		return nil, fmt.Errorf("decode bind map: surface digest mismatch")
	}
	if entriesDigest(m.Samplers) != m.SamplerDigest {
		return nil, fmt.Errorf("decode bind map: sampler digest mismatch")
	}
	return &m, nil
}

// Dump writes one line per slot.
func (m *BindMap) Dump(w io.Writer) error {
	for i, e := range m.Surfaces {
		if _, err := fmt.Fprintf(w, "surface %3d: %s\n", i, e); err != nil {
			return err
		}
	}
	for i, e := range m.Samplers {
		if _, err := fmt.Fprintf(w, "sampler %3d: %s\n", i, e); err != nil {
			return err
		}
	}
	return nil
}
