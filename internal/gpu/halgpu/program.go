package halgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

type program struct {
	spec     *gpu.KernelSpec
	module   hal.ShaderModule
	bindings hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

func (p *program) Spec() *gpu.KernelSpec { return p.spec }

// uniformSize is the byte size of binding 0 for a kernel with n constants:
// one header vec4 plus enough vec4s to hold the constants.
func uniformSize(n int) uint64 {
	return 16 * uint64(1+(n+3)/4)
}

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(src string) ([]uint32, error) {
	raw, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compiling shader: %w", err)
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = uint32(raw[i*4]) |
			uint32(raw[i*4+1])<<8 |
			uint32(raw[i*4+2])<<16 |
			uint32(raw[i*4+3])<<24
	}
	return words, nil
}

// CreateProgram compiles the kernel's WGSL and builds its pipeline.
func (d *Device) CreateProgram(spec *gpu.KernelSpec) (gpu.Program, error) {
	if spec.WGSL == "" {
		return nil, fmt.Errorf("halgpu: kernel %s has no WGSL body", spec.Name)
	}
	spirv, err := CompileWGSL(spec.WGSL)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", spec.Name, err)
	}

	p := &program{spec: spec}
	if err := d.buildProgram(p, spirv); err != nil {
		d.destroyProgram(p)
		return nil, fmt.Errorf("kernel %s: %w", spec.Name, err)
	}
	gpu.Logger().Debug("halgpu: program created", "kernel", spec.Name, "spirv_words", len(spirv))
	return p, nil
}

func (d *Device) buildProgram(p *program, spirv []uint32) error {
	var err error
	p.module, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  p.spec.Name,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}

	entries := []gputypes.BindGroupLayoutEntry{{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}}
	binding := uint32(1)
	for range p.spec.Layout.Inputs {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		})
		binding++
	}
	for range p.spec.Layout.Outputs {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		})
		binding++
	}
	p.bindings, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   p.spec.Name + "_bindings",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}

	p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.spec.Name + "_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindings},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}

	p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   p.spec.Name,
		Layout:  p.layout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	return nil
}

// DestroyProgram releases the pipeline objects.
func (d *Device) DestroyProgram(p gpu.Program) {
	if hp, ok := p.(*program); ok {
		d.destroyProgram(hp)
	}
}

func (d *Device) destroyProgram(p *program) {
	if p.pipeline != nil {
		d.device.DestroyComputePipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.layout != nil {
		d.device.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	if p.bindings != nil {
		d.device.DestroyBindGroupLayout(p.bindings)
		p.bindings = nil
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
		p.module = nil
	}
}

var errForeignProgram = errors.New("halgpu: program created by another device")
