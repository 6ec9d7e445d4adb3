package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"
)

// ErrNoDisplay is returned when the requested monitor cannot be captured.
var ErrNoDisplay = errors.New("display capture unavailable")

// ScreenSource supplies the most recent framebuffer of a single monitor as a
// 32bpp BGRA image at the monitor's native size.
//
// Read writes the frame into dst and reports whether a fresh frame was
// obtained within the timeout. Callers must tolerate spurious repeats of the
// last frame. A ScreenSource is safe to use from a different goroutine than
// the one consuming camera frames.
type ScreenSource interface {
	Read(dst *gocv.Mat, timeout time.Duration) bool
	Bounds() image.Rectangle
	Close() error
}

// Display polls a monitor's framebuffer through the platform screenshot API.
type Display struct {
	index  int
	bounds image.Rectangle
}

// OpenDisplay opens a screen source for the given monitor index.
func OpenDisplay(index int) (*Display, error) {
	if index < 0 || index >= screenshot.NumActiveDisplays() {
		return nil, fmt.Errorf("%w: monitor %d", ErrNoDisplay, index)
	}
	return &Display{
		index:  index,
		bounds: screenshot.GetDisplayBounds(index),
	}, nil
}

// Read captures the monitor framebuffer into dst as BGRA. The platform API
// is synchronous, so every successful capture counts as a fresh frame. The
// timeout is not applied: Read returns only when the capture call returns.
func (d *Display) Read(dst *gocv.Mat, timeout time.Duration) bool {
	img, err := screenshot.CaptureRect(d.bounds)
	if err != nil {
		return false
	}

	rgba, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return false
	}
	defer rgba.Close()

	// Swapping R and B is symmetric, so the BGRA->RGBA code converts the
	// captured RGBA frame to BGRA.
	gocv.CvtColor(rgba, dst, gocv.ColorBGRAToRGBA)
	return true
}

// Bounds returns the monitor rectangle in virtual-desktop coordinates.
func (d *Display) Bounds() image.Rectangle { return d.bounds }

// Close releases the display handle. The screenshot API is stateless, so
// this only marks the source unusable.
func (d *Display) Close() error { return nil }

// MockScreen serves a fixed frame for testing. The frame can be swapped
// between reads to simulate changing screen content.
type MockScreen struct {
	mu    sync.Mutex
	frame gocv.Mat
	fresh bool
}

// NewMockScreen creates a MockScreen serving the given BGRA frame.
func NewMockScreen(frame gocv.Mat) *MockScreen {
	return &MockScreen{frame: frame, fresh: true}
}

func (s *MockScreen) Read(dst *gocv.Mat, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fresh || s.frame.Empty() {
		return false
	}
	s.frame.CopyTo(dst)
	return true
}

func (s *MockScreen) Bounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return image.Rect(0, 0, s.frame.Cols(), s.frame.Rows())
}

func (s *MockScreen) Close() error { return nil }

// SetFrame replaces the served frame.
func (s *MockScreen) SetFrame(frame gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
	s.fresh = true
}

// SetFresh controls whether subsequent reads report a fresh frame, which
// simulates capture timeouts.
func (s *MockScreen) SetFresh(fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fresh = fresh
}
