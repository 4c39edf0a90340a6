package sdf

import (
	"encoding/binary"
	"math"
)

// GPUNodeSize is the fixed byte size of one serialized node, laid out to
// match the WGSL GpuNode struct's alignment rules: type_tag (4) + pad to
// the params array's 16-byte alignment (12) + params[4][4] (64) +
// children[2] (8) + tail pad to the 16-byte struct stride (8).
const GPUNodeSize = 96

const (
	nodeParamsOffset   = 16
	nodeChildrenOffset = 80
)

// Flatten walks the tree and produces the fixed-size node array the
// worldgen_sdf shader interprets: a pre-order-indexed array where the
// root is at index 0 and every node's children reference later indices
// than the node itself: allocate an index up front, recurse, then
// serialize fields into a fixed-size byte block per node.
//
// Returns ErrTreeTooDeep if the tree exceeds MaxTreeDepth.
func Flatten(root *Node) ([]byte, error) {
	if root.Depth() > MaxTreeDepth {
		return nil, ErrTreeTooDeep
	}

	var nodes []gpuNode
	allocate(root, &nodes)

	out := make([]byte, len(nodes)*GPUNodeSize)
	for i, n := range nodes {
		n.writeTo(out[i*GPUNodeSize : (i+1)*GPUNodeSize])
	}
	return out, nil
}

type gpuNode struct {
	typeTag  uint32
	params   [4][4]float32
	children [2]int32
}

// allocate assigns this node's index before recursing into children (so
// the root lands at index 0), matching recursiveBuild's
// allocate-then-recurse shape, and fills in the node's own fields plus
// its children's already-known indices afterward.
func allocate(n *Node, nodes *[]gpuNode) int32 {
	idx := int32(len(*nodes))
	*nodes = append(*nodes, gpuNode{children: [2]int32{-1, -1}})

	g := gpuNode{typeTag: uint32(n.Type), children: [2]int32{-1, -1}}

	switch n.Type {
	case NodeSphere:
		g.params[0] = [4]float32{n.Center.X(), n.Center.Y(), n.Center.Z(), n.Radius}
	case NodeBox:
		g.params[0] = [4]float32{n.Center.X(), n.Center.Y(), n.Center.Z(), 0}
		g.params[1] = [4]float32{n.HalfExtents.X(), n.HalfExtents.Y(), n.HalfExtents.Z(), 0}
	case NodePlane:
		g.params[0] = [4]float32{n.Normal.X(), n.Normal.Y(), n.Normal.Z(), n.PlaneDistance}
	case NodeUnion, NodeIntersect:
		for i, c := range n.Children {
			if i >= 2 {
				break
			}
			g.children[i] = allocate(c, nodes)
		}
	case NodeSubtract:
		g.children[0] = allocate(n.Children[0], nodes)
		g.children[1] = allocate(n.Children[1], nodes)
	case NodeTransform:
		// params[c] holds column c, the order WGSL's mat4x4 constructor takes.
		for r := 0; r < 4; r++ {
			for c := 0; c < 4; c++ {
				g.params[c][r] = n.MatrixInv[c*4+r]
			}
		}
		g.children[0] = allocate(n.Children[0], nodes)
	}

	(*nodes)[idx] = g
	return idx
}

func (g gpuNode) writeTo(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], g.typeTag)
	off := nodeParamsOffset
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			binary.LittleEndian.PutUint32(dst[off:off+4], math.Float32bits(g.params[r][c]))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(dst[nodeChildrenOffset:], uint32(g.children[0]))
	binary.LittleEndian.PutUint32(dst[nodeChildrenOffset+4:], uint32(g.children[1]))
}
