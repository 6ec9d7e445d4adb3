package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera plays back a pre-built frame sequence for testing.
type MockCamera struct {
	frames   []gocv.Mat
	index    int
	loop     bool
	controls map[gocv.VideoCaptureProperties]float64
	mu       sync.Mutex
	running  bool
}

// NewMockCamera creates a MockCamera over the given frames. The camera does
// not take ownership of the Mats; the caller closes them after the test.
func NewMockCamera(frames []gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame(dst *gocv.Mat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || len(c.frames) == 0 {
		return false
	}
	if c.index >= len(c.frames) {
		if !c.loop {
			return false
		}
		c.index = 0
	}

	c.frames[c.index].CopyTo(dst)
	c.index++
	return true
}

func (c *MockCamera) DropFrame() {}

func (c *MockCamera) Width() int {
	if len(c.frames) == 0 {
		return 0
	}
	return c.frames[0].Cols()
}

func (c *MockCamera) Height() int {
	if len(c.frames) == 0 {
		return 0
	}
	return c.frames[0].Rows()
}

func (c *MockCamera) Framerate() int { return 30 }
func (c *MockCamera) LatencyMs() int { return 33 }

func (c *MockCamera) SetControl(prop gocv.VideoCaptureProperties, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controls == nil {
		c.controls = make(map[gocv.VideoCaptureProperties]float64)
	}
	c.controls[prop] = value
}

func (c *MockCamera) Control(prop gocv.VideoCaptureProperties) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls[prop]
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetFrames replaces the frame sequence and restarts playback.
func (c *MockCamera) SetFrames(frames []gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reset restarts playback from the beginning.
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
