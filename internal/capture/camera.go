// Package capture provides the camera and screen-content sources for the
// virtual touchscreen, built on GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera defines the interface for camera capture implementations.
//
// ReadFrame writes the next frame into dst and reports whether a frame was
// produced. DropFrame discards a buffered frame without decoding it, which
// is used to flush stale frames before an averaged calibration capture.
// SetControl and Control expose the raw capture properties so the calibrator
// can lock exposure, focus and white balance.
type Camera interface {
	Open() error
	Close() error
	ReadFrame(dst *gocv.Mat) bool
	DropFrame()
	Width() int
	Height() int
	Framerate() int
	LatencyMs() int
	SetControl(prop gocv.VideoCaptureProperties, value float64)
	Control(prop gocv.VideoCaptureProperties) float64
	IsOpen() bool
}

// Webcam captures frames from a physical camera device.
type Webcam struct {
	deviceID  int
	reqWidth  int
	reqHeight int
	reqFPS    int

	capture   *gocv.VideoCapture
	width     int
	height    int
	framerate int
	latencyMs int

	mu      sync.Mutex
	running bool
}

// NewWebcam creates a Webcam for the given device id. The requested size and
// framerate are applied on Open but are not guaranteed by the hardware; the
// accessors report what the device actually produces.
func NewWebcam(deviceID int, size image.Point, fps int) *Webcam {
	return &Webcam{
		deviceID:  deviceID,
		reqWidth:  size.X,
		reqHeight: size.Y,
		reqFPS:    fps,
	}
}

// Open opens the camera device and applies the requested capture properties.
func (w *Webcam) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		return fmt.Errorf("failed to open camera %d: %w", w.deviceID, err)
	}

	capture.Set(gocv.VideoCaptureFPS, float64(w.reqFPS))
	capture.Set(gocv.VideoCaptureFrameWidth, float64(w.reqWidth))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(w.reqHeight))

	// Report the properties the device actually settled on.
	w.width = int(capture.Get(gocv.VideoCaptureFrameWidth))
	w.height = int(capture.Get(gocv.VideoCaptureFrameHeight))
	w.framerate = int(capture.Get(gocv.VideoCaptureFPS))
	if w.framerate <= 0 {
		w.framerate = w.reqFPS
	}
	w.latencyMs = int(math.Round(1000.0 / float64(w.framerate)))

	w.capture = capture
	w.running = true
	return nil
}

// Close closes the camera device and releases resources.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running || w.capture == nil {
		w.running = false
		return nil
	}

	err := w.capture.Close()
	w.capture = nil
	w.running = false
	return err
}

// ReadFrame reads the next frame into dst.
func (w *Webcam) ReadFrame(dst *gocv.Mat) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running || w.capture == nil {
		return false
	}
	if ok := w.capture.Read(dst); !ok {
		return false
	}
	return !dst.Empty()
}

// DropFrame grabs and discards a single buffered frame.
func (w *Webcam) DropFrame() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running || w.capture == nil {
		return
	}
	w.capture.Grab(1)
}

// Width returns the actual frame width in pixels.
func (w *Webcam) Width() int { return w.width }

// Height returns the actual frame height in pixels.
func (w *Webcam) Height() int { return w.height }

// Framerate returns the actual capture framerate.
func (w *Webcam) Framerate() int { return w.framerate }

// LatencyMs returns the nominal time between frames in milliseconds.
func (w *Webcam) LatencyMs() int { return w.latencyMs }

// SetControl sets a raw capture property on the device.
func (w *Webcam) SetControl(prop gocv.VideoCaptureProperties, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.capture != nil {
		w.capture.Set(prop, value)
	}
}

// Control reads a raw capture property from the device.
func (w *Webcam) Control(prop gocv.VideoCaptureProperties) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.capture == nil {
		return 0
	}
	return w.capture.Get(prop)
}

// IsOpen reports whether the camera is currently open.
func (w *Webcam) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
