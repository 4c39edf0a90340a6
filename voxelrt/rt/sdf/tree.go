// Package sdf evaluates the signed-distance-function tree and the
// material brush stack that together describe a declarative world. The
// tree is a recursive object graph for the CPU path and tests, and
// flattens to the fixed-size node array the worldgen_sdf compute shader
// expects for the GPU path via a pre-order walk where the root sits at
// index 0 and children reference later indices than their parent.
package sdf

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// NodeType tags a GPU-serialized SDF node's discriminated union variant.
type NodeType uint32

const (
	NodeSphere NodeType = iota
	NodeBox
	NodePlane
	NodeUnion
	NodeIntersect
	NodeSubtract
	NodeTransform
)

// MaxTreeDepth is the upload-time depth limit: deeper trees fail fast
// instead of reading uninitialized GPU memory.
const MaxTreeDepth = 32

// ErrTreeTooDeep is returned by Flatten when a tree exceeds MaxTreeDepth.
var ErrTreeTooDeep = fmt.Errorf("sdf: tree exceeds max depth %d", MaxTreeDepth)

// Node is a Sphere | Box | Plane | Union | Intersect | Subtract | Transform.
// Composite nodes recurse through Children.
type Node struct {
	Type NodeType

	// Sphere: Center, Radius (Params[0]).
	// Box: Center, HalfExtents.
	// Plane: Normal (unit), PlaneDistance (Params[0]).
	// Transform: 4x4 matrix (mgl32, column-major) in Matrix, its inverse
	// in MatrixInv; single Child.
	Center        mgl32.Vec3
	Radius        float32
	HalfExtents   mgl32.Vec3
	Normal        mgl32.Vec3
	PlaneDistance float32
	Matrix        mgl32.Mat4
	MatrixInv     mgl32.Mat4
	Children      []*Node
}

// Sphere returns a sphere SDF node.
func Sphere(center mgl32.Vec3, radius float32) *Node {
	return &Node{Type: NodeSphere, Center: center, Radius: radius}
}

// Box returns a box SDF node with the given half-extents.
func Box(center, halfExtents mgl32.Vec3) *Node {
	return &Node{Type: NodeBox, Center: center, HalfExtents: halfExtents}
}

// Plane returns a half-space SDF node: negative on the side normal points away from.
func Plane(normal mgl32.Vec3, distance float32) *Node {
	return &Node{Type: NodePlane, Normal: normal.Normalize(), PlaneDistance: distance}
}

// Union returns the SDF min() of its children. The GPU node format only
// carries two child indices, so more than two children are folded into a
// left-leaning chain of binary Union nodes; the CPU Distance() path
// evaluates identically either way.
func Union(children ...*Node) *Node {
	return foldBinary(NodeUnion, children)
}

// Intersect returns the SDF max() of its children, folded the same way as Union.
func Intersect(children ...*Node) *Node {
	return foldBinary(NodeIntersect, children)
}

func foldBinary(t NodeType, children []*Node) *Node {
	switch len(children) {
	case 0:
		return &Node{Type: t}
	case 1:
		return children[0]
	case 2:
		return &Node{Type: t, Children: children[:2]}
	default:
		return &Node{Type: t, Children: []*Node{foldBinary(t, children[:len(children)-1]), children[len(children)-1]}}
	}
}

// Subtract returns children[0] minus children[1] (max(a, -b)).
func Subtract(a, b *Node) *Node {
	return &Node{Type: NodeSubtract, Children: []*Node{a, b}}
}

// Transform applies an object-to-world matrix to its single child before
// evaluating distance in the child's local space.
func Transform(child *Node, m mgl32.Mat4) *Node {
	return &Node{Type: NodeTransform, Children: []*Node{child}, Matrix: m, MatrixInv: m.Inv()}
}

// Distance evaluates the signed distance at p via direct recursive
// traversal, the CPU path used by unit tests and as a fallback.
func (n *Node) Distance(p mgl32.Vec3) float32 {
	switch n.Type {
	case NodeSphere:
		return p.Sub(n.Center).Len() - n.Radius
	case NodeBox:
		d := p.Sub(n.Center)
		qx := float32(math.Abs(float64(d.X()))) - n.HalfExtents.X()
		qy := float32(math.Abs(float64(d.Y()))) - n.HalfExtents.Y()
		qz := float32(math.Abs(float64(d.Z()))) - n.HalfExtents.Z()
		outside := mgl32.Vec3{maxf(qx, 0), maxf(qy, 0), maxf(qz, 0)}.Len()
		inside := minf(maxf(qx, maxf(qy, qz)), 0)
		return outside + inside
	case NodePlane:
		return p.Dot(n.Normal) - n.PlaneDistance
	case NodeUnion:
		d := float32(math.Inf(1))
		for _, c := range n.Children {
			d = minf(d, c.Distance(p))
		}
		return d
	case NodeIntersect:
		d := float32(math.Inf(-1))
		for _, c := range n.Children {
			d = maxf(d, c.Distance(p))
		}
		return d
	case NodeSubtract:
		a := n.Children[0].Distance(p)
		b := n.Children[1].Distance(p)
		return maxf(a, -b)
	case NodeTransform:
		lp := n.MatrixInv.Mul4x1(p.Vec4(1)).Vec3()
		return n.Children[0].Distance(lp)
	default:
		return float32(math.Inf(1))
	}
}

// Gradient estimates the unit-length surface normal at p via central
// difference on the SDF field. A degenerate gradient (near-zero, or not
// finite because the field itself is not finite around p) defaults to +Z.
func Gradient(n *Node, p mgl32.Vec3, eps float32) mgl32.Vec3 {
	dx := n.Distance(p.Add(mgl32.Vec3{eps, 0, 0})) - n.Distance(p.Sub(mgl32.Vec3{eps, 0, 0}))
	dy := n.Distance(p.Add(mgl32.Vec3{0, eps, 0})) - n.Distance(p.Sub(mgl32.Vec3{0, eps, 0}))
	dz := n.Distance(p.Add(mgl32.Vec3{0, 0, eps})) - n.Distance(p.Sub(mgl32.Vec3{0, 0, eps}))
	g := mgl32.Vec3{dx, dy, dz}
	l := g.Len()
	if l < 1e-8 || math.IsNaN(float64(l)) || math.IsInf(float64(l), 0) {
		return mgl32.Vec3{0, 0, 1}
	}
	return g.Mul(1 / l)
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// Depth returns the tree's maximum depth, root counted as depth 1.
func (n *Node) Depth() int {
	if n == nil || len(n.Children) == 0 {
		return 1
	}
	maxChild := 0
	for _, c := range n.Children {
		if d := c.Depth(); d > maxChild {
			maxChild = d
		}
	}
	return maxChild + 1
}
