// Package app wires the virtual touchscreen pipeline together and owns the
// main processing loop.
package app

import (
	"sync"

	"github.com/joen0001/virtualtouch/internal/calib"
	"github.com/joen0001/virtualtouch/internal/capture"
	"github.com/joen0001/virtualtouch/internal/mask"
	"github.com/joen0001/virtualtouch/internal/pointer"
	"github.com/joen0001/virtualtouch/internal/server"
	"github.com/joen0001/virtualtouch/internal/touch"
	"github.com/joen0001/virtualtouch/internal/track"
)

// FocusSize is the tracking window placed around the active fingertip.
// Detection stays inside it until the finger is lost for long enough that
// the tracker widens back to the full canvas.
const FocusSize = 256

// Config holds the assembled pipeline components. Camera, Calibrator,
// Screen and Mouse are required; Feed and Fingertips are optional debug
// sinks.
type Config struct {
	Camera     capture.Camera
	Screen     capture.ScreenSource
	Calibrator *calib.ViewCalibrator
	Mouse      *pointer.Mouse

	Feed       *server.Feed
	Fingertips *server.FingertipHandler
}

// App is the main application orchestrating the vision pipeline.
type App struct {
	config Config

	generator *mask.Generator
	tracker   *track.Tracker
	decider   *touch.Decider

	enabled bool
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// New creates a new App instance with the given configuration.
func New(config Config) *App {
	return &App{
		config:    config,
		generator: mask.NewGenerator(),
		tracker:   track.NewTracker(config.Calibrator.OutputResolution()),
		decider:   touch.NewDecider(),
		enabled:   true,
	}
}

// SetEnabled enables or disables pointer injection. The vision pipeline
// keeps running either way; held buttons are released on disable by the
// pipeline's next no-finger frame.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled returns whether pointer injection is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Stop asks a blocked Run to return after its current frame.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
}
