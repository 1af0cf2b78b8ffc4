// Package shaderopt optimizes shader IR for a GPU pipeline layout.
//
// The optimizer runs on the SSA form in package ir. For every shader it
// infers read-only and reorderable access qualifiers, lowers descriptor
// references against a pipeline layout for a target, and optionally lowers
// the remaining buffer derefs to explicit buffer intrinsics. The result
// carries the binding map a back end needs to fill its binding tables.
//
// Example usage:
//
//	source := `
//	@group(0) @binding(0) var<uniform> tint: vec4<f32>;
//
//	@fragment
//	fn main() -> @location(0) vec4<f32> {
//	    return tint;
//	}
//	`
//	results, err := shaderopt.CompileWGSL(context.Background(), source, shaderopt.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	results[0].BindMap.Dump(os.Stdout)
//
// Lower-level access is available through packages wgslin, access,
// pipeline and opt.
package shaderopt

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/shaderopt/access"
	"github.com/gogpu/shaderopt/internal/logging"
	"github.com/gogpu/shaderopt/ir"
	"github.com/gogpu/shaderopt/opt"
	"github.com/gogpu/shaderopt/pipeline"
	"github.com/gogpu/shaderopt/wgslin"
)

// Options configures optimization.
type Options struct {
	// Target is the back end the layout is lowered for (default: gen9).
	Target *pipeline.Target

	// Layout is the pipeline layout. When nil, CompileWGSL derives one
	// from the resource declarations of the source.
	Layout *pipeline.Layout

	// ExplicitIO lowers buffer derefs to buffer intrinsics after the
	// layout pass.
	ExplicitIO bool

	// Validate enables naga validation of WGSL input.
	Validate bool

	// Jobs bounds the number of shaders optimized at once. Zero means
	// GOMAXPROCS.
	Jobs int
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Target:     &pipeline.TargetGen9,
		ExplicitIO: true,
		Validate:   true,
	}
}

// Result is the outcome of optimizing one shader.
type Result struct {
	Shader  *ir.Shader
	BindMap *pipeline.BindMap

	// Progress reports whether any pass changed the shader.
	Progress bool
}

// Job pairs a shader with the layout it is optimized against.
type Job struct {
	Shader *ir.Shader
	Layout *pipeline.Layout
}

// Optimize runs the optimization pipeline on s in place.
//
// The passes run in order:
//  1. Access-qualifier inference
//  2. Pipeline-layout lowering against layout and target
//  3. Explicit buffer I/O lowering (if opts.ExplicitIO)
//  4. Dead-code elimination
//
// Malformed IR panics with a *ir.Violation.
func Optimize(s *ir.Shader, layout *pipeline.Layout, opts Options) *Result {
	target := opts.Target
	if target == nil {
		target = &pipeline.TargetGen9
	}
	res := &Result{Shader: s, BindMap: &pipeline.BindMap{}}

	if access.Infer(s) {
		res.Progress = true
	}
	if pipeline.Apply(s, layout, target, res.BindMap) {
		res.Progress = true
	}
	if opts.ExplicitIO && pipeline.LowerExplicitIO(s) {
		res.Progress = true
	}
	if opt.DCE(s) {
		res.Progress = true
	}

	logging.L().Debug("shader optimized", "shader", s.Name, "stage", s.Stage,
		"surfaces", len(res.BindMap.Surfaces), "samplers", len(res.BindMap.Samplers),
		"progress", res.Progress)
	return res
}

// OptimizeAll optimizes every job concurrently. Each job owns its shader,
// so jobs must not share one. Results are returned in job order.
//
// A contract violation in one job is returned as its error and cancels the
// jobs not yet started.
func OptimizeAll(ctx context.Context, jobs []Job, opts Options) ([]*Result, error) {
	limit := opts.Jobs
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := optimizeJob(job, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// optimizeJob runs Optimize, turning a contract violation into an error.
func optimizeJob(job Job, opts Options) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, ok := r.(*ir.Violation)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("%s: %w", job.Shader.Name, v)
		}
	}()
	return Optimize(job.Shader, job.Layout, opts), nil
}

// CompileWGSL lowers every entry point of a WGSL module and optimizes it.
//
// The compilation pipeline is:
//  1. Parse WGSL and lower it to naga IR
//  2. Validate naga IR (if enabled)
//  3. Derive the pipeline layout (unless opts.Layout is set)
//  4. Lower each entry point to shader IR
//  5. Optimize all shaders concurrently
func CompileWGSL(ctx context.Context, source string, opts Options) ([]*Result, error) {
	module, err := wgslin.ParseWithOptions(source, wgslin.Options{Validate: opts.Validate})
	if err != nil {
		return nil, err
	}

	target := opts.Target
	if target == nil {
		target = &pipeline.TargetGen9
	}
	layout := opts.Layout
	if layout == nil {
		f, err := wgslin.DeriveLayout(module)
		if err != nil {
			return nil, fmt.Errorf("layout derivation error: %w", err)
		}
		if layout, err = f.Build(target); err != nil {
			return nil, fmt.Errorf("layout error: %w", err)
		}
	}

	shaders, err := wgslin.LowerAll(module)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, len(shaders))
	for i, s := range shaders {
		jobs[i] = Job{Shader: s, Layout: layout}
	}
	return OptimizeAll(ctx, jobs, opts)
}
