package framecell

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, w, h uint32, fill byte) *VideoFrame {
	t.Helper()
	px := make([]byte, int(w*h*4))
	for i := range px {
		px[i] = fill
	}
	f, err := NewVideoFrame(w, h, px)
	require.NoError(t, err)
	return f
}

func TestPollEmpty(t *testing.T) {
	c := New()
	f, ok := c.Poll()
	assert.False(t, ok)
	assert.Nil(t, f)
}

func TestLastWriterWins(t *testing.T) {
	c := New()
	for i := 1; i <= 10; i++ {
		c.Store(frame(t, uint32(i), uint32(i*2), byte(i)))
	}

	f, ok := c.Poll()
	require.True(t, ok)
	assert.Equal(t, uint32(10), f.Width)
	assert.Equal(t, uint32(20), f.Height)
	assert.Len(t, f.Pixels, 10*20*4)
	for _, b := range f.Pixels {
		if b != 10 {
			t.Fatalf("pixel from an overwritten frame: %d", b)
		}
	}

	written, dropped := c.Stats()
	assert.Equal(t, uint64(10), written)
	assert.Equal(t, uint64(9), dropped)
}

func TestReadFrameIsNotCountedAsDropped(t *testing.T) {
	c := New()
	c.Store(frame(t, 2, 2, 1))
	_, ok := c.Poll()
	require.True(t, ok)
	c.Store(frame(t, 2, 2, 2))

	_, dropped := c.Stats()
	assert.Zero(t, dropped)
}

func TestNewVideoFrameRejectsBadSize(t *testing.T) {
	_, err := NewVideoFrame(4, 4, make([]byte, 10))
	assert.Error(t, err)
}

func TestNewVideoFrameCopiesPixels(t *testing.T) {
	px := make([]byte, 4)
	f, err := NewVideoFrame(1, 1, px)
	require.NoError(t, err)
	px[0] = 0xff
	assert.Equal(t, byte(0), f.Pixels[0])
}

func TestConcurrentWritersNeverTear(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(fill byte) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				px := make([]byte, 8*8*4)
				for j := range px {
					px[j] = fill
				}
				f, _ := NewVideoFrame(8, 8, px)
				c.Store(f)
			}
		}(byte(w + 1))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			f, ok := c.Poll()
			if !ok {
				continue
			}
			first := f.Pixels[0]
			for _, b := range f.Pixels {
				if b != first {
					t.Errorf("torn frame: %d != %d", b, first)
					return
				}
			}
		}
	}()

	wg.Wait()
	<-done
	written, _ := c.Stats()
	assert.Equal(t, uint64(800), written)
}

func TestClear(t *testing.T) {
	c := New()
	c.Store(frame(t, 1, 1, 1))
	c.Clear()
	_, ok := c.Poll()
	assert.False(t, ok)
}
