package pipeline

import (
	"bytes"
	"slices"
	"strings"
	"testing"
)

func sampleBindMap() *BindMap {
	dyn := entry(1, 3, 0, 4)
	dyn.DynamicOffsetIndex = 2
	m := &BindMap{
		Surfaces: []Entry{
			{Set: SetDescriptors, Index: 1, DynamicOffsetIndex: -1},
			entry(0, 0, 0, 0),
			dyn,
		},
		Samplers: []Entry{entry(0, 1, 0, 1)},
	}
	m.Seal()
	return m
}

func TestBindMap_DigestStable(t *testing.T) {
	a, b := sampleBindMap(), sampleBindMap()
	if a.SurfaceDigest != b.SurfaceDigest || a.SamplerDigest != b.SamplerDigest {
		t.Error("Expected equal maps to have equal digests")
	}

	b.Surfaces[1].WriteOnly = true
	b.Seal()
	if a.SurfaceDigest == b.SurfaceDigest {
		t.Error("Expected a changed entry to change the surface digest")
	}
	if a.SamplerDigest != b.SamplerDigest {
		t.Error("Expected the sampler digest to be unaffected")
	}

	var nilMap, emptyMap BindMap
	emptyMap.Surfaces = []Entry{}
	nilMap.Seal()
	emptyMap.Seal()
	if nilMap.SurfaceDigest != emptyMap.SurfaceDigest {
		t.Error("Expected nil and empty entry lists to hash the same")
	}
}

func TestBindMap_RoundTrip(t *testing.T) {
	m := sampleBindMap()
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	back, err := ReadBindMap(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(back.Surfaces, m.Surfaces) {
		t.Errorf("surfaces = %v, want %v", back.Surfaces, m.Surfaces)
	}
	if !slices.Equal(back.Samplers, m.Samplers) {
		t.Errorf("samplers = %v, want %v", back.Samplers, m.Samplers)
	}
	if back.SurfaceDigest != m.SurfaceDigest {
		t.Error("Expected the surface digest to survive the round trip")
	}
}

func TestReadBindMap_Tampered(t *testing.T) {
	m := sampleBindMap()
	m.Samplers[0].Binding = 9
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	_, err := ReadBindMap(&buf)
	if err == nil || !strings.Contains(err.Error(), "sampler digest mismatch") {
		t.Errorf("got %v, want a sampler digest mismatch", err)
	}

	if _, err := ReadBindMap(strings.NewReader("not msgpack")); err == nil {
		t.Error("Expected garbage input to fail")
	}
}

func TestBindMap_Dump(t *testing.T) {
	var sb strings.Builder
	if err := sampleBindMap().Dump(&sb); err != nil {
		t.Fatal(err)
	}
	want := "surface   0: descriptors(set=1)\n" +
		"surface   1: set=0 binding=0 element=0 index=0 plane=0\n" +
		"surface   2: set=1 binding=3 element=0 index=4 plane=0 dynamic=2\n" +
		"sampler   0: set=0 binding=1 element=0 index=1 plane=0\n"
	if sb.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", sb.String(), want)
	}
}

func TestEntry_String(t *testing.T) {
	tests := []struct {
		e    Entry
		want string
	}{
		{Entry{Set: SetShaderConstants, DynamicOffsetIndex: -1}, "shader-constants"},
		{Entry{Set: 0, Binding: 2, InputAttachmentIndex: 1, DynamicOffsetIndex: -1},
			"set=0 binding=2 element=0 index=0 plane=0 input_attachment=1"},
		{Entry{Set: 0, Binding: 1, WriteOnly: true, DynamicOffsetIndex: -1},
			"set=0 binding=1 element=0 index=0 plane=0 write-only"},
	}
	for _, tt := range tests {
		if got := tt.e.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
