// Package telemetry buffers frames going back to the handset.
package telemetry

import (
	"sync"

	"github.com/robotalks/crsflink/pkg/crsf"
)

// DefaultQueueSize is the number of frames buffered by default.
const DefaultQueueSize = 8

// Queue is a bounded FIFO of outbound frames. When full, the oldest frame
// is dropped.
type Queue struct {
	lock    sync.Mutex
	frames  []crsf.Frame
	size    int
	dropped uint64
}

// NewQueue creates a Queue holding at most size frames.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{size: size, frames: make([]crsf.Frame, 0, size)}
}

// Enqueue appends a frame. It returns false if an older frame was dropped
// to make room.
func (q *Queue) Enqueue(frame crsf.Frame) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	kept := true
	if len(q.frames) >= q.size {
		q.removeHead()
		q.dropped++
		kept = false
	}
	q.frames = append(q.frames, frame)
	return kept
}

// EnqueueExtended builds an extended frame from the bridge to the handset
// and appends it.
func (q *Queue) EnqueueExtended(typ crsf.FrameType, payload []byte) error {
	frame, err := crsf.BuildExtendedFrame(typ, crsf.AddrHandset, crsf.AddrModule, payload)
	if err != nil {
		return err
	}
	q.Enqueue(frame)
	return nil
}

// Pop removes the head frame if it fits in budget bytes. A head frame
// larger than limit can never be sent and is dropped.
func (q *Queue) Pop(budget, limit int) crsf.Frame {
	q.lock.Lock()
	defer q.lock.Unlock()
	for len(q.frames) > 0 {
		frame := q.frames[0]
		if len(frame) > limit {
			q.removeHead()
			q.dropped++
			continue
		}
		if len(frame) > budget {
			return nil
		}
		q.removeHead()
		return frame
	}
	return nil
}

func (q *Queue) removeHead() {
	last := len(q.frames) - 1
	copy(q.frames, q.frames[1:])
	q.frames[last] = nil
	q.frames = q.frames[:last]
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.frames)
}

// Dropped returns the number of frames dropped so far.
func (q *Queue) Dropped() uint64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.dropped
}

// Reset discards all queued frames.
func (q *Queue) Reset() {
	q.lock.Lock()
	q.frames = make([]crsf.Frame, 0, q.size)
	q.lock.Unlock()
}
