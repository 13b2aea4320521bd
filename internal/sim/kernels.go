package sim

import (
	"github.com/distortions81/stencilgpu/internal/gpu"
	"github.com/distortions81/stencilgpu/internal/wave"
)

var viewTile = gpu.Tile{X: 16, Y: 16}

// packedWidth is the word count of one row of half-pair packed heights.
func packedWidth(cols int) int { return (cols + 1) / 2 }

const unpackWGSL = `
@group(0) @binding(0) var<uniform> params: array<vec4<f32>, 1>;
@group(0) @binding(1) var<storage, read> packed: array<u32>;
@group(0) @binding(2) var<storage, read_write> heights: array<f32>;

fn half_to_f32(h: u32) -> f32 {
    let sign = (h & 0x8000u) << 16u;
    let e = (h >> 10u) & 0x1fu;
    let m = h & 0x3ffu;
    if (e == 0u) {
        let v = f32(m) * 5.9604645e-8;
        return select(v, -v, sign != 0u);
    }
    if (e == 0x1fu) {
        return bitcast<f32>(sign | 0x7f800000u | (m << 13u));
    }
    return bitcast<f32>(sign | ((e + 112u) << 23u) | (m << 13u));
}

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let w = u32(params[0].x);
    let h = u32(params[0].y);
    if (id.x >= w || id.y >= h) {
        return;
    }
    let pw = (w + 1u) / 2u;
    let word = packed[id.y * pw + id.x / 2u];
    heights[id.y * w + id.x] = half_to_f32((word >> ((id.x & 1u) * 16u)) & 0xffffu);
}
`

// unpackKernel expands a grid of half pairs, packedWidth(w) words per row,
// into w x h float heights.
var unpackKernel = &gpu.KernelSpec{
	Name:   "height_unpack",
	Tile:   viewTile,
	Layout: gpu.Layout{Inputs: 1, Outputs: 1},
	WGSL:   unpackWGSL,
	Thread: func(inv *gpu.Invocation) {
		packed, out := inv.In[0], inv.Out[0]
		if !out.InBounds(inv.X, inv.Y) {
			return
		}
		lo, hi := wave.UnpackHalfPair(packed.At(inv.X/2, inv.Y, 0))
		if inv.X&1 == 1 {
			lo = hi
		}
		out.Set(inv.X, inv.Y, 0, lo)
	},
}

const shadeWGSL = `
@group(0) @binding(0) var<uniform> params: array<vec4<f32>, 2>;
@group(0) @binding(1) var<storage, read> heights: array<f32>;
@group(0) @binding(2) var<storage, read_write> color: array<f32>;

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let w = u32(params[0].x);
    let h = u32(params[0].y);
    if (id.x >= w || id.y >= h) {
        return;
    }
    let c = id.y * w + id.x;
    let v = min(abs(heights[c] * params[1].x), 1.0);
    let o = c * 4u;
    color[o] = v;
    color[o + 1u] = v;
    color[o + 2u] = v;
    color[o + 3u] = 1.0;
}
`

// shadeKernel maps heights to opaque gray RGBA by absolute amplitude.
// Constant 0 is the gain.
var shadeKernel = &gpu.KernelSpec{
	Name:   "height_shade",
	Tile:   viewTile,
	Layout: gpu.Layout{Inputs: 1, Outputs: 1, Constants: 1},
	WGSL:   shadeWGSL,
	Thread: func(inv *gpu.Invocation) {
		heights, color := inv.In[0], inv.Out[0]
		if !color.InBounds(inv.X, inv.Y) {
			return
		}
		v := heights.At(inv.X, inv.Y, 0) * inv.Constants[0]
		if v < 0 {
			v = -v
		}
		v = min(v, 1)
		color.Set(inv.X, inv.Y, 0, v)
		color.Set(inv.X, inv.Y, 1, v)
		color.Set(inv.X, inv.Y, 2, v)
		color.Set(inv.X, inv.Y, 3, 1)
	},
}
