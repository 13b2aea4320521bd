package filter

import (
	"math"

	"github.com/distortions81/stencilgpu/internal/gpu"
)

const blurHeaderWGSL = `
@group(0) @binding(0) var<uniform> params: array<vec4<f32>, 4>;
@group(0) @binding(1) var<storage, read> src: array<f32>;
@group(0) @binding(2) var<storage, read_write> dst: array<f32>;

fn weight(k: u32) -> f32 {
    let n = k + 1u;
    return params[1u + n / 4u][n % 4u];
}

fn texel(x: i32, y: i32, w: i32) -> vec4<f32> {
    let i = u32(y * w + x) * 4u;
    return vec4<f32>(src[i], src[i + 1u], src[i + 2u], src[i + 3u]);
}

fn store(x: i32, y: i32, w: i32, v: vec4<f32>) {
    let o = u32(y * w + x) * 4u;
    dst[o] = v.x;
    dst[o + 1u] = v.y;
    dst[o + 2u] = v.z;
    dst[o + 3u] = v.w;
}
`

const blurHWGSL = blurHeaderWGSL + `
@compute @workgroup_size(256, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let w = i32(params[0].x);
    let h = i32(params[0].y);
    let x = i32(id.x);
    let y = i32(id.y);
    if (x >= w || y >= h) {
        return;
    }
    let r = i32(params[1].x);
    var acc = vec4<f32>(0.0);
    for (var k = -r; k <= r; k = k + 1) {
        acc = acc + weight(u32(k + r)) * texel(clamp(x + k, 0, w - 1), y, w);
    }
    store(x, y, w, acc);
}
`

const blurVWGSL = blurHeaderWGSL + `
@compute @workgroup_size(1, 256, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let w = i32(params[0].x);
    let h = i32(params[0].y);
    let x = i32(id.x);
    let y = i32(id.y);
    if (x >= w || y >= h) {
        return;
    }
    let r = i32(params[1].x);
    var acc = vec4<f32>(0.0);
    for (var k = -r; k <= r; k = k + 1) {
        acc = acc + weight(u32(k + r)) * texel(x, clamp(y + k, 0, h - 1), w);
    }
    store(x, y, w, acc);
}
`

// blurThread returns the CPU body of a blur along (dx, dy).
func blurThread(dx, dy int) gpu.ThreadFunc {
	return func(inv *gpu.Invocation) {
		in, out := inv.In[0], inv.Out[0]
		if !out.InBounds(inv.X, inv.Y) {
			return
		}
		r := inv.Int(0)
		weights := inv.Constants[1:]
		for c := range out.Channels {
			var acc float32
			for k := -r; k <= r; k++ {
				acc += weights[k+r] * in.Clamped(inv.X+k*dx, inv.Y+k*dy, c)
			}
			out.Set(inv.X, inv.Y, c, acc)
		}
	}
}

// BlurHKernel blurs rows. Constants are the radius and the padded weights.
var BlurHKernel = &gpu.KernelSpec{
	Name:   "blur_h",
	Tile:   gpu.Tile{X: 256, Y: 1},
	Layout: gpu.Layout{Inputs: 1, Outputs: 1, Constants: blurConstants},
	WGSL:   blurHWGSL,
	Thread: blurThread(1, 0),
}

// BlurVKernel blurs columns.
var BlurVKernel = &gpu.KernelSpec{
	Name:   "blur_v",
	Tile:   gpu.Tile{X: 1, Y: 256},
	Layout: gpu.Layout{Inputs: 1, Outputs: 1, Constants: blurConstants},
	WGSL:   blurVWGSL,
	Thread: blurThread(0, 1),
}

const sobelWGSL = `
@group(0) @binding(0) var<uniform> params: array<vec4<f32>, 1>;
@group(0) @binding(1) var<storage, read> src: array<f32>;
@group(0) @binding(2) var<storage, read_write> dst: array<f32>;

fn texel(x: i32, y: i32) -> vec4<f32> {
    let w = i32(params[0].x);
    let h = i32(params[0].y);
    let cx = clamp(x, 0, w - 1);
    let cy = clamp(y, 0, h - 1);
    let i = u32(cy * w + cx) * 4u;
    return vec4<f32>(src[i], src[i + 1u], src[i + 2u], src[i + 3u]);
}

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let w = i32(params[0].x);
    let h = i32(params[0].y);
    let x = i32(id.x);
    let y = i32(id.y);
    if (x >= w || y >= h) {
        return;
    }
    let c00 = texel(x - 1, y - 1);
    let c10 = texel(x, y - 1);
    let c20 = texel(x + 1, y - 1);
    let c01 = texel(x - 1, y);
    let c21 = texel(x + 1, y);
    let c02 = texel(x - 1, y + 1);
    let c12 = texel(x, y + 1);
    let c22 = texel(x + 1, y + 1);
    let gx = -c00 - 2.0 * c01 - c02 + c20 + 2.0 * c21 + c22;
    let gy = -c00 - 2.0 * c10 - c20 + c02 + 2.0 * c12 + c22;
    let mag = sqrt(gx * gx + gy * gy);
    let lum = dot(mag.rgb, vec3<f32>(0.299, 0.587, 0.114));
    let e = 1.0 - clamp(lum, 0.0, 1.0);
    let o = u32(y * w + x) * 4u;
    dst[o] = e;
    dst[o + 1u] = e;
    dst[o + 2u] = e;
    dst[o + 3u] = e;
}
`

// Luminance weights of the edge kernel.
const (
	lumR = 0.299
	lumG = 0.587
	lumB = 0.114
)

// SobelKernel writes 1 - saturate(luminance(|G|)) to every channel, where
// G is the per-channel Sobel gradient. Flat regions become 1, edges
// approach 0.
var SobelKernel = &gpu.KernelSpec{
	Name:   "sobel",
	Tile:   gpu.Tile{X: 16, Y: 16},
	Layout: gpu.Layout{Inputs: 1, Outputs: 1},
	WGSL:   sobelWGSL,
	Thread: func(inv *gpu.Invocation) {
		in, out := inv.In[0], inv.Out[0]
		x, y := inv.X, inv.Y
		if !out.InBounds(x, y) {
			return
		}
		var mag [3]float32
		for c := range min(3, in.Channels) {
			p := func(dx, dy int) float32 { return in.Clamped(x+dx, y+dy, c) }
			gx := -p(-1, -1) - 2*p(-1, 0) - p(-1, 1) + p(1, -1) + 2*p(1, 0) + p(1, 1)
			gy := -p(-1, -1) - 2*p(0, -1) - p(1, -1) + p(-1, 1) + 2*p(0, 1) + p(1, 1)
			mag[c] = sqrt32(gx*gx + gy*gy)
		}
		lum := Luminance(mag[0], mag[1], mag[2])
		e := 1 - min(max(lum, 0), 1)
		for c := range out.Channels {
			out.Set(x, y, c, e)
		}
	},
}

const compositeWGSL = `
@group(0) @binding(0) var<uniform> params: array<vec4<f32>, 2>;
@group(0) @binding(1) var<storage, read> base: array<f32>;
@group(0) @binding(2) var<storage, read> filtered: array<f32>;
@group(0) @binding(3) var<storage, read_write> dst: array<f32>;

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let w = u32(params[0].x);
    let h = u32(params[0].y);
    let ch = u32(params[0].z);
    if (id.x >= w || id.y >= h) {
        return;
    }
    let modulate = params[1].x > 0.5;
    let o = (id.y * w + id.x) * ch;
    for (var c = 0u; c < ch; c = c + 1u) {
        var v = filtered[o + c];
        if (modulate) {
            v = v * base[o + c];
        }
        dst[o + c] = v;
    }
}
`

// CompositeKernel combines the source image and the filtered result. The
// constant selects the CompositeMode.
var CompositeKernel = &gpu.KernelSpec{
	Name:   "composite",
	Tile:   gpu.Tile{X: 16, Y: 16},
	Layout: gpu.Layout{Inputs: 2, Outputs: 1, Constants: 1},
	WGSL:   compositeWGSL,
	Thread: func(inv *gpu.Invocation) {
		base, filtered, out := inv.In[0], inv.In[1], inv.Out[0]
		if !out.InBounds(inv.X, inv.Y) {
			return
		}
		modulate := CompositeMode(inv.Int(0)) == Modulate
		for c := range out.Channels {
			v := filtered.At(inv.X, inv.Y, c)
			if modulate {
				v *= base.At(inv.X, inv.Y, c)
			}
			out.Set(inv.X, inv.Y, c, v)
		}
	},
}

// Luminance weighs linear RGB the way the edge kernel does.
func Luminance(r, g, b float32) float32 { return lumR*r + lumG*g + lumB*b }

func sqrt32(v float32) float32 { return float32(math.Sqrt(float64(v))) }
