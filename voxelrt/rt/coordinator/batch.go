package coordinator

import (
	"container/heap"

	"github.com/AngeliteAI/voxelgen/voxelrt/rt/worldgen"
)

// minichunkBatch is a slice of one chunk's minichunk descriptors sized to
// the scheduler's current workgroup budget.
type minichunkBatch struct {
	chunkID    worldgen.ChunkId
	minichunks []worldgen.MinichunkDescriptor
	priority   int32
	seed       uint64 // threaded from the request's GenParams into SDFParams
	seq        uint64 // FIFO tie-break: lower seq submitted first
}

// batchHeap orders by priority descending, then FIFO (lower seq first)
// within equal priority.
type batchHeap []*minichunkBatch

func (h batchHeap) Len() int { return len(h) }
func (h batchHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h batchHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *batchHeap) Push(x any)   { *h = append(*h, x.(*minichunkBatch)) }
func (h *batchHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*batchHeap)(nil)
