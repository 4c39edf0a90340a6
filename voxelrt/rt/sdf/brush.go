package sdf

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

// ConditionType tags a brush layer's activation condition, matching the
// GPU-side {type_tag: u32, f32 x 4} encoding.
type ConditionType uint32

const (
	ConditionSdfDistance ConditionType = iota
	ConditionDepth
	ConditionGradient
	ConditionPosition
	ConditionNoise
)

// Condition is one brush layer's activation test.
type Condition struct {
	Type ConditionType

	// SdfDistance / Depth / Gradient share Min/Max.
	Min, Max float32

	// Position uses an AABB in world space. The GPU encoding carries the
	// AABB's bounding cube (center + largest half-extent), since a full
	// AABB does not fit the fixed f32x4 condition block; cubical AABBs
	// evaluate identically on both paths.
	AABBMin, AABBMax mgl32.Vec3

	// Noise uses a threshold against a deterministic value-noise sample.
	Threshold float32
}

// Matches evaluates the condition at a point given its SDF value and
// surface gradient (depth = -sdf).
func (c Condition) Matches(p mgl32.Vec3, sdfValue float32, gradient mgl32.Vec3, noise func(mgl32.Vec3) float32) bool {
	switch c.Type {
	case ConditionSdfDistance:
		return sdfValue >= c.Min && sdfValue <= c.Max
	case ConditionDepth:
		depth := -sdfValue
		return depth >= c.Min && depth <= c.Max
	case ConditionGradient:
		g := gradient.Y() // vertical component is the common "slope" test
		return g >= c.Min && g <= c.Max
	case ConditionPosition:
		return p.X() >= c.AABBMin.X() && p.X() <= c.AABBMax.X() &&
			p.Y() >= c.AABBMin.Y() && p.Y() <= c.AABBMax.Y() &&
			p.Z() >= c.AABBMin.Z() && p.Z() <= c.AABBMax.Z()
	case ConditionNoise:
		if noise == nil {
			return false
		}
		return noise(p) >= c.Threshold
	default:
		return false
	}
}

// Layer is one prioritized rule in the brush stack.
type Layer struct {
	Condition Condition
	Voxel     worldgen.Voxel
	Priority  int32
	Weight    float32
}

// Stack is an ordered brush schema. Evaluate picks the matching layer
// with the highest priority, breaking ties by weight.
type Stack struct {
	Layers []Layer
}

// Evaluate runs the three-step brush evaluation: compute SDF + gradient
// (done by the caller and passed in), test every layer's condition,
// retain the highest-priority match (ties broken by weight), and emit
// that layer's voxel or air if nothing matched.
func (s Stack) Evaluate(p mgl32.Vec3, sdfValue float32, gradient mgl32.Vec3, noise func(mgl32.Vec3) float32) worldgen.Voxel {
	best := -1
	for i, layer := range s.Layers {
		if !layer.Condition.Matches(p, sdfValue, gradient, noise) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cur := s.Layers[best]
		if layer.Priority > cur.Priority ||
			(layer.Priority == cur.Priority && layer.Weight > cur.Weight) {
			best = i
		}
	}
	if best == -1 {
		return worldgen.VoxelAir
	}
	return s.Layers[best].Voxel
}

// brushConditionGPUSize matches the WGSL BrushCondition struct stride:
// type_tag (4) + pad to the vec4's 16-byte alignment (12) + params (16).
const brushConditionGPUSize = 32

const conditionParamsOffset = 16

// SerializeBrushInstructions flattens the brush stack into the
// brush_instructions + brush_layers buffers the worldgen_brush shader
// reads: one {type_tag, f32x4} condition block per layer, followed by
// the {voxel, priority, weight, pad} layer metadata block.
func SerializeBrushInstructions(s Stack) (instructions, layers []byte) {
	instructions = make([]byte, len(s.Layers)*brushConditionGPUSize)
	layers = make([]byte, len(s.Layers)*16)

	for i, layer := range s.Layers {
		off := i * brushConditionGPUSize
		binary.LittleEndian.PutUint32(instructions[off:], uint32(layer.Condition.Type))

		var params [4]float32
		switch layer.Condition.Type {
		case ConditionSdfDistance, ConditionDepth, ConditionGradient:
			params = [4]float32{layer.Condition.Min, layer.Condition.Max, 0, 0}
		case ConditionPosition:
			// Bounding cube of the AABB: center plus the largest half-extent.
			center := layer.Condition.AABBMin.Add(layer.Condition.AABBMax).Mul(0.5)
			half := layer.Condition.AABBMax.Sub(layer.Condition.AABBMin).Mul(0.5)
			params = [4]float32{center.X(), center.Y(), center.Z(), maxf(half.X(), maxf(half.Y(), half.Z()))}
		case ConditionNoise:
			params = [4]float32{layer.Condition.Threshold, 0, 0, 0}
		}
		for j, v := range params {
			binary.LittleEndian.PutUint32(instructions[off+conditionParamsOffset+j*4:], math.Float32bits(v))
		}

		lOff := i * 16
		binary.LittleEndian.PutUint32(layers[lOff:], uint32(layer.Voxel))
		binary.LittleEndian.PutUint32(layers[lOff+4:], uint32(layer.Priority))
		binary.LittleEndian.PutUint32(layers[lOff+8:], math.Float32bits(layer.Weight))
	}
	return instructions, layers
}

// ValueNoise returns a deterministic noise sampler in [0,1) over unit
// lattice cells, using the same integer hash as the worldgen_brush
// shader so Noise-conditioned layers agree across the CPU and GPU paths.
func ValueNoise(seed uint32) func(mgl32.Vec3) float32 {
	return func(p mgl32.Vec3) float32 {
		ix := uint32(int32(math.Floor(float64(p.X()))))
		iy := uint32(int32(math.Floor(float64(p.Y()))))
		iz := uint32(int32(math.Floor(float64(p.Z()))))
		h := noiseHash(ix*0x8da6b343 ^ iy*0xd8163841 ^ iz*0xcb1ab31f ^ seed)
		return float32(h) * (1.0 / 4294967296.0)
	}
}

func noiseHash(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}
