package wave

import "github.com/distortions81/stencilgpu/internal/gpu"

// stepTile is the thread-group size of the update kernel.
var stepTile = gpu.Tile{X: 16, Y: 16}

const stepWGSL = `
@group(0) @binding(0) var<uniform> params: array<vec4<f32>, 2>;
@group(0) @binding(1) var<storage, read> prev: array<f32>;
@group(0) @binding(2) var<storage, read> curr: array<f32>;
@group(0) @binding(3) var<storage, read_write> next: array<f32>;

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let w = u32(params[0].x);
    let h = u32(params[0].y);
    let x = id.x;
    let y = id.y;
    if (x < 1u || y < 1u || x + 1u >= w || y + 1u >= h) {
        return;
    }
    let k = params[1];
    let c = y * w + x;
    next[c] = k.x * prev[c] + k.y * curr[c] + k.z * (curr[c + w] + curr[c - w] + curr[c + 1u] + curr[c - 1u]);
}
`

// StepKernel computes next from prev and curr over the interior. Constants
// are K1, K2, K3. Boundary cells are never written.
var StepKernel = &gpu.KernelSpec{
	Name:   "wave_step",
	Tile:   stepTile,
	Layout: gpu.Layout{Inputs: 2, Outputs: 1, Constants: 3},
	WGSL:   stepWGSL,
	Thread: func(inv *gpu.Invocation) {
		prev, curr, next := inv.In[0], inv.In[1], inv.Out[0]
		x, y := inv.X, inv.Y
		if x < 1 || y < 1 || x+1 >= next.Width || y+1 >= next.Height {
			return
		}
		w := next.Width
		c := y*w + x
		k1, k2, k3 := inv.Constants[0], inv.Constants[1], inv.Constants[2]
		next.Data[c] = k1*prev.Data[c] + k2*curr.Data[c] + k3*(curr.Data[c+w]+curr.Data[c-w]+curr.Data[c+1]+curr.Data[c-1])
	},
}

const disturbWGSL = `
@group(0) @binding(0) var<uniform> params: array<vec4<f32>, 2>;
@group(0) @binding(1) var<storage, read_write> curr: array<f32>;

@compute @workgroup_size(1, 1, 1)
fn main() {
    let w = u32(params[0].x);
    let i = u32(params[1].x);
    let j = u32(params[1].y);
    let m = params[1].z;
    let half_m = 0.5 * m;
    let c = i * w + j;
    curr[c] = curr[c] + m;
    curr[c + w] = curr[c + w] + half_m;
    curr[c - w] = curr[c - w] + half_m;
    curr[c + 1u] = curr[c + 1u] + half_m;
    curr[c - 1u] = curr[c - 1u] + half_m;
}
`

// DisturbKernel adds a magnitude to one cell and half of it to the four
// neighbors, in place. Constants are row, column and magnitude; it runs as
// a single thread.
var DisturbKernel = &gpu.KernelSpec{
	Name:   "wave_disturb",
	Tile:   gpu.Tile{X: 1, Y: 1},
	Layout: gpu.Layout{Inputs: 0, Outputs: 1, Constants: 3},
	WGSL:   disturbWGSL,
	Thread: func(inv *gpu.Invocation) {
		if inv.X != 0 || inv.Y != 0 {
			return
		}
		curr := inv.Out[0]
		i, j, m := inv.Int(0), inv.Int(1), inv.Constants[2]
		half := 0.5 * m
		w := curr.Width
		c := i*w + j
		curr.Data[c] += m
		curr.Data[c+w] += half
		curr.Data[c-w] += half
		curr.Data[c+1] += half
		curr.Data[c-1] += half
	},
}
