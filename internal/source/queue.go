// ABOUTME: Priority queue of audio chunks ordered by timestamp
// ABOUTME: Backs the scheduled source with a container/heap
package source

import (
	"container/heap"

	"github.com/Sendspin/sendspin-playback/pkg/audio"
)

// ChunkQueue is a min-heap of chunks keyed by Timestamp
type ChunkQueue struct {
	items   []audio.Buffer
	samples int
}

func NewChunkQueue() *ChunkQueue {
	q := &ChunkQueue{}
	heap.Init(q)
	return q
}

// Implement heap.Interface
func (q *ChunkQueue) Len() int { return len(q.items) }

func (q *ChunkQueue) Less(i, j int) bool {
	return q.items[i].Timestamp < q.items[j].Timestamp
}

func (q *ChunkQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *ChunkQueue) Push(x any) {
	buf := x.(audio.Buffer)
	q.samples += len(buf.Samples)
	q.items = append(q.items, buf)
}

func (q *ChunkQueue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = audio.Buffer{}
	q.items = q.items[:n-1]
	q.samples -= len(item.Samples)
	return item
}

// Peek returns the earliest chunk. The queue must not be empty.
func (q *ChunkQueue) Peek() audio.Buffer {
	return q.items[0]
}

// Samples returns the number of queued samples across all chunks
func (q *ChunkQueue) Samples() int {
	return q.samples
}

// Clear empties the queue
func (q *ChunkQueue) Clear() {
	clear(q.items)
	q.items = q.items[:0]
	q.samples = 0
}
