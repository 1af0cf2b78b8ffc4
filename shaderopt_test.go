package shaderopt

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/gogpu/shaderopt/ir"
	"github.com/gogpu/shaderopt/pipeline"
	"github.com/gogpu/shaderopt/wgslin"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Validate = false // Skip naga validation for minimal shaders
	return opts
}

func mustValidate(t *testing.T, s *ir.Shader) {
	t.Helper()
	errs, err := ir.Validate(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range errs {
		t.Errorf("%s: unexpected validation error: %v", s.Name, e)
	}
}

func countIntrinsics(s *ir.Shader, op ir.IntrinsicOp) int {
	n := 0
	for fn := range s.Funcs() {
		for blk := range fn.Blocks() {
			for i := range blk.Instrs() {
				if in, ok := i.(*ir.Intrinsic); ok && in.Op == op {
					n++
				}
			}
		}
	}
	return n
}

func forEachTex(s *ir.Shader, f func(*ir.Tex)) {
	for fn := range s.Funcs() {
		for blk := range fn.Blocks() {
			for i := range blk.Instrs() {
				if t, ok := i.(*ir.Tex); ok {
					f(t)
				}
			}
		}
	}
}

// TestCompileWGSLUniformBuffer tests that uniform buffer loads become
// explicit buffer intrinsics addressed through the binding table.
func TestCompileWGSLUniformBuffer(t *testing.T) {
	source := `
@group(0) @binding(0) var<uniform> tint: vec4<f32>;

@fragment
fn main(@location(0) color: vec4<f32>) -> @location(0) vec4<f32> {
    return color * tint;
}
`
	results, err := CompileWGSL(context.Background(), source, testOptions())
	if err != nil {
		t.Fatalf("CompileWGSL failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	res := results[0]
	mustValidate(t, res.Shader)

	if !res.Progress {
		t.Error("Expected the passes to make progress")
	}
	if n := countIntrinsics(res.Shader, ir.OpLoadUBO); n != 1 {
		t.Errorf("got %d load_ubo, want 1", n)
	}
	for _, op := range []ir.IntrinsicOp{ir.OpLoadDeref, ir.OpVulkanResourceIndex, ir.OpLoadVulkanDescriptor} {
		if n := countIntrinsics(res.Shader, op); n != 0 {
			t.Errorf("got %d %s after lowering, want 0", n, op)
		}
	}

	found := false
	for _, e := range res.BindMap.Surfaces {
		if e.Set == 0 && e.Binding == 0 {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a surface entry for set 0 binding 0, got %v", res.BindMap.Surfaces)
	}
}

// TestCompileWGSLTexture tests that texture and sampler derefs are
// resolved to table indices or bindless handles.
func TestCompileWGSLTexture(t *testing.T) {
	source := `
@group(0) @binding(0) var tex: texture_2d<f32>;
@group(0) @binding(1) var samp: sampler;

@fragment
fn main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
    return textureSample(tex, samp, uv);
}
`
	results, err := CompileWGSL(context.Background(), source, testOptions())
	if err != nil {
		t.Fatalf("CompileWGSL failed: %v", err)
	}
	s := results[0].Shader
	mustValidate(t, s)

	texs := 0
	forEachTex(s, func(tx *ir.Tex) {
		texs++
		if tx.Src(ir.TexSrcTextureDeref) != nil || tx.Src(ir.TexSrcSamplerDeref) != nil {
			t.Errorf("Expected resource derefs to be lowered, got %s", ir.FormatInstr(tx))
		}
	})
	if texs != 1 {
		t.Errorf("got %d tex instructions, want 1", texs)
	}
}

// TestCompileWGSLStorageBuffer tests a read-write storage buffer on every
// preset target.
func TestCompileWGSLStorageBuffer(t *testing.T) {
	source := `
struct Data {
    values: array<u32>,
}

@group(0) @binding(0) var<storage, read_write> data: Data;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if gid.x < arrayLength(&data.values) {
        data.values[gid.x] = data.values[gid.x] * 2u;
    }
}
`
	for _, name := range pipeline.PresetNames() {
		t.Run(name, func(t *testing.T) {
			target := pipeline.Presets[name]
			opts := testOptions()
			opts.Target = &target
			results, err := CompileWGSL(context.Background(), source, opts)
			if err != nil {
				t.Fatalf("CompileWGSL failed: %v", err)
			}
			s := results[0].Shader
			mustValidate(t, s)
			if n := countIntrinsics(s, ir.OpLoadDeref) + countIntrinsics(s, ir.OpStoreDeref); n != 0 {
				t.Errorf("got %d buffer derefs after lowering, want 0", n)
			}
		})
	}
}

// TestCompileWGSLMultipleEntryPoints tests that every entry point of a
// module is optimized, in declaration order.
func TestCompileWGSLMultipleEntryPoints(t *testing.T) {
	results, err := CompileWGSL(context.Background(), shaderTriangleVertexFragment, testOptions())
	if err != nil {
		t.Fatalf("CompileWGSL failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	want := []string{"vs_main", "fs_main"}
	for i, res := range results {
		if res.Shader.Name != want[i] {
			t.Errorf("result %d: got %s, want %s", i, res.Shader.Name, want[i])
		}
		mustValidate(t, res.Shader)
	}
}

// TestCompileWGSLExplicitLayout tests compiling against a caller-supplied
// layout rather than a derived one.
func TestCompileWGSLExplicitLayout(t *testing.T) {
	source := `
@group(1) @binding(4) var<uniform> tint: vec4<f32>;

@fragment
fn main() -> @location(0) vec4<f32> {
    return tint;
}
`
	f := &pipeline.LayoutFile{Sets: []pipeline.SetFile{
		{},
		{Bindings: []pipeline.BindingDesc{{
			Binding:   4,
			Type:      ir.DescUniformBuffer,
			ArraySize: 1,
			Stages:    ir.StageFragment.Mask(),
		}}},
	}}
	layout, err := f.Build(&pipeline.TargetGen9)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	opts := testOptions()
	opts.Layout = layout
	results, err := CompileWGSL(context.Background(), source, opts)
	if err != nil {
		t.Fatalf("CompileWGSL failed: %v", err)
	}
	mustValidate(t, results[0].Shader)
}

// TestCompileWGSLErrors tests that front-end errors surface unchanged.
func TestCompileWGSLErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		kind   wgslin.ErrorKind
	}{
		{
			name:   "parse",
			source: "@fragment fn main( {",
			kind:   wgslin.ErrParse,
		},
		{
			name: "unsupported",
			source: `
fn helper() -> f32 { return 1.0; }

@fragment
fn main() -> @location(0) vec4<f32> {
    let x = helper();
    return vec4<f32>(x, x, x, x);
}`,
			kind: wgslin.ErrUnsupportedFeature,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileWGSL(context.Background(), tt.source, testOptions())
			var e *wgslin.Error
			if !errors.As(err, &e) || e.Kind != tt.kind {
				t.Errorf("got %v, want a %s error", err, tt.kind)
			}
		})
	}
}

// TestOptimizeAllViolation tests that a contract violation in one job is
// reported as an error instead of crashing the process.
func TestOptimizeAllViolation(t *testing.T) {
	good, err := wgslin.CompileWithOptions(shaderSmallFragment, wgslin.Options{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	bad, err := wgslin.CompileWithOptions(`
@group(3) @binding(0) var<uniform> tint: vec4<f32>;

@fragment
fn main() -> @location(0) vec4<f32> {
    return tint;
}
`, wgslin.Options{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	empty, err := (&pipeline.LayoutFile{}).Build(&pipeline.TargetGen9)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	jobs := []Job{
		{Shader: good[0], Layout: empty},
		{Shader: bad[0], Layout: empty},
	}
	_, err = OptimizeAll(context.Background(), jobs, testOptions())
	var v *ir.Violation
	if !errors.As(err, &v) {
		t.Fatalf("got %v, want a contract violation", err)
	}
	if v.Pass != "apply_pipeline_layout" {
		t.Errorf("violation reported by %q, want apply_pipeline_layout", v.Pass)
	}
	if !strings.HasPrefix(err.Error(), "main: ") {
		t.Errorf("Expected the error to name the shader, got %q", err.Error())
	}
}

// TestOptimizeAllOrder tests that results come back in job order whatever
// the concurrency limit.
func TestOptimizeAllOrder(t *testing.T) {
	for _, jobsLimit := range []int{0, 1, 3} {
		var jobs []Job
		for _, sc := range shadersByComplexity {
			shaders, err := wgslin.CompileWithOptions(sc.source, wgslin.Options{})
			if err != nil {
				t.Fatalf("%s: Compile failed: %v", sc.name, err)
			}
			m, err := wgslin.ParseWithOptions(sc.source, wgslin.Options{})
			if err != nil {
				t.Fatalf("%s: Parse failed: %v", sc.name, err)
			}
			f, err := wgslin.DeriveLayout(m)
			if err != nil {
				t.Fatalf("%s: DeriveLayout failed: %v", sc.name, err)
			}
			layout, err := f.Build(&pipeline.TargetGen9)
			if err != nil {
				t.Fatalf("%s: Build failed: %v", sc.name, err)
			}
			for _, s := range shaders {
				jobs = append(jobs, Job{Shader: s, Layout: layout})
			}
		}

		opts := testOptions()
		opts.Jobs = jobsLimit
		results, err := OptimizeAll(context.Background(), jobs, opts)
		if err != nil {
			t.Fatalf("jobs=%d: OptimizeAll failed: %v", jobsLimit, err)
		}
		if len(results) != len(jobs) {
			t.Fatalf("jobs=%d: got %d results, want %d", jobsLimit, len(results), len(jobs))
		}
		for i, res := range results {
			if res.Shader != jobs[i].Shader {
				t.Errorf("jobs=%d: result %d is %s, want %s", jobsLimit, i, res.Shader.Name, jobs[i].Shader.Name)
			}
			mustValidate(t, res.Shader)
		}
	}
}

// TestOptimizeAllCanceled tests that a canceled context stops the jobs.
func TestOptimizeAllCanceled(t *testing.T) {
	shaders, err := wgslin.CompileWithOptions(shaderSmallFragment, wgslin.Options{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	empty, err := (&pipeline.LayoutFile{}).Build(&pipeline.TargetGen9)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = OptimizeAll(ctx, []Job{{Shader: shaders[0], Layout: empty}}, testOptions())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

// TestSetLogger tests that pass diagnostics reach an installed logger and
// that nil restores silence.
func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer SetLogger(nil)

	if _, err := CompileWGSL(context.Background(), shaderSmallFragment, testOptions()); err != nil {
		t.Fatalf("CompileWGSL failed: %v", err)
	}
	if !strings.Contains(buf.String(), "shader optimized") {
		t.Errorf("Expected a debug record, got %q", buf.String())
	}

	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("Expected the default logger to be silent")
	}
}
