// Package framecell holds the newest decoded video frame for the render loop.
package framecell

import (
	"fmt"
	"sync/atomic"
)

// VideoFrame is one decoded RGBA picture. It is never mutated after Store.
type VideoFrame struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// NewVideoFrame copies pixels into a frame after checking the RGBA size.
func NewVideoFrame(width, height uint32, pixels []byte) (*VideoFrame, error) {
	want := int(width) * int(height) * 4
	if len(pixels) != want {
		return nil, fmt.Errorf("rgba buffer is %d bytes, want %d for %dx%d", len(pixels), want, width, height)
	}
	data := make([]byte, want)
	copy(data, pixels)
	return &VideoFrame{Width: width, Height: height, Pixels: data}, nil
}

type slot struct {
	frame *VideoFrame
	seq   uint64
}

// Cell is a single-slot, last-writer-wins frame holder. Writers replace the
// whole slot, so a reader sees either the old frame or the new one.
type Cell struct {
	current  atomic.Pointer[slot]
	seq      atomic.Uint64
	lastRead atomic.Uint64
	dropped  atomic.Uint64
}

// New returns an empty cell.
func New() *Cell {
	return &Cell{}
}

// Store replaces the held frame. A frame that was never polled before being
// replaced counts as dropped.
func (c *Cell) Store(f *VideoFrame) {
	if f == nil {
		return
	}
	next := &slot{frame: f, seq: c.seq.Add(1)}
	prev := c.current.Swap(next)
	if prev != nil && prev.seq > c.lastRead.Load() {
		c.dropped.Add(1)
	}
}

// Poll returns the newest frame, or false when nothing was written yet.
func (c *Cell) Poll() (*VideoFrame, bool) {
	s := c.current.Load()
	if s == nil {
		return nil, false
	}
	for {
		read := c.lastRead.Load()
		if read >= s.seq || c.lastRead.CompareAndSwap(read, s.seq) {
			break
		}
	}
	return s.frame, true
}

// Clear drops the held frame.
func (c *Cell) Clear() {
	c.current.Store(nil)
}

// Stats reports how many frames were stored and how many were overwritten unseen.
func (c *Cell) Stats() (written, dropped uint64) {
	return c.seq.Load(), c.dropped.Load()
}
