package pipeline

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadTarget reads a target description from a TOML file. A file may name
// one of the Presets with the "preset" key and override individual fields;
// without a preset every field starts from its zero value.
func LoadTarget(path string) (*Target, error) {
	var head struct {
		Preset string `toml:"preset"`
	}
	if _, err := toml.DecodeFile(path, &head); err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}

	var t Target
	if head.Preset != "" {
		p, ok := Presets[head.Preset]
		if !ok {
			return nil, fmt.Errorf("%s: unknown preset %q (known: %s)", path, head.Preset, strings.Join(PresetNames(), ", "))
		}
		t = p
	}
	meta, err := toml.DecodeFile(path, &t)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		if key.String() != "preset" {
			return nil, fmt.Errorf("%s: unknown key %q", path, key.String())
		}
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &t, nil
}

// PresetNames returns the names of the built-in targets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (t *Target) validate() error {
	for _, a := range []struct {
		name string
		v    uint8
	}{{"ubo_alignment", t.UBOAlignment}, {"ssbo_alignment", t.SSBOAlignment}} {
		if a.v == 0 || a.v&(a.v-1) != 0 {
			return fmt.Errorf("%s must be a power of two, got %d", a.name, a.v)
		}
	}
	if t.MaxBindingTableSize == 0 || t.MaxBindingTableSize == BindlessOffset {
		return fmt.Errorf("max_binding_table_size %d out of range", t.MaxBindingTableSize)
	}
	if t.MaxSamplerTableSize == 0 || t.MaxSamplerTableSize == BindlessOffset {
		return fmt.Errorf("max_sampler_table_size %d out of range", t.MaxSamplerTableSize)
	}
	if t.SSBOFormat.Is64Bit() || t.UBOFormat.Is64Bit() {
		if !t.HasA64BufferAccess {
			return fmt.Errorf("64-bit buffer address formats need has_a64_buffer_access")
		}
	}
	return nil
}

// LayoutFile is the TOML form of a pipeline layout: a list of sets, each a
// list of bindings.
//
//	[[set]]
//	[[set.binding]]
//	binding = 0
//	type = "uniform-buffer"
//	array_size = 1
//	stages = "vertex|fragment"
type LayoutFile struct {
	Sets []SetFile `toml:"set"`
}

// SetFile is one set of a LayoutFile.
type SetFile struct {
	Bindings []BindingDesc `toml:"binding"`
}

// Build computes the pipeline layout the file describes for target t.
func (f *LayoutFile) Build(t *Target) (*Layout, error) {
	sets := make([]*SetLayout, len(f.Sets))
	for i, s := range f.Sets {
		sl, err := NewSetLayout(t, s.Bindings)
		if err != nil {
			return nil, fmt.Errorf("set %d: %w", i, err)
		}
		sets[i] = sl
	}
	return NewLayout(sets...)
}

// Encode writes f as TOML.
func (f *LayoutFile) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(f)
}

// LoadLayout reads a pipeline layout from a TOML file and builds it for
// target t.
func LoadLayout(t *Target, path string) (*Layout, error) {
	var f LayoutFile
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	l, err := f.Build(t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}
