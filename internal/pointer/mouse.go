// Package pointer drives the host pointing device from output-space touch
// points.
package pointer

import (
	"image"
	"math"

	"github.com/go-vgo/robotgo"
)

// Smoothing behaviour: small deltas are damped almost to rest, medium
// deltas follow at drag speed, and anything past the jump threshold snaps.
const (
	dragThreshold = 20.0
	jumpThreshold = 150.0
	stopRate      = 0.05
	dragRate      = 0.8
)

// Injector performs the raw pointer operations on the host.
type Injector interface {
	MoveTo(x, y int)
	LeftDown()
	LeftUp()
	RightDown()
	RightUp()
}

// robotInjector drives the host pointer through robotgo.
type robotInjector struct{}

func (robotInjector) MoveTo(x, y int) { robotgo.Move(x, y) }
func (robotInjector) LeftDown()       { robotgo.Toggle("left", "down") }
func (robotInjector) LeftUp()         { robotgo.Toggle("left", "up") }
func (robotInjector) RightDown()      { robotgo.Toggle("right", "down") }
func (robotInjector) RightUp()        { robotgo.Toggle("right", "up") }

// Mouse maps points from the working canvas onto the primary monitor and
// latches button state so holds survive across frames.
type Mouse struct {
	injector Injector

	offset    image.Point
	scaleX    float64
	scaleY    float64
	coordX    float64
	coordY    float64
	leftDown  bool
	rightDown bool
}

// NewMouse creates a Mouse mapping inputRegion onto the primary monitor.
// The monitor geometry is captured once here.
func NewMouse(inputRegion image.Point) *Mouse {
	w, h := robotgo.GetScreenSize()
	return NewMouseWithInjector(inputRegion, image.Rect(0, 0, w, h), robotInjector{})
}

// NewMouseWithInjector creates a Mouse against an explicit monitor rectangle
// and injector. Tests use this to observe pointer operations.
func NewMouseWithInjector(inputRegion image.Point, monitor image.Rectangle, injector Injector) *Mouse {
	return &Mouse{
		injector: injector,
		offset:   monitor.Min,
		scaleX:   float64(monitor.Dx()) / float64(inputRegion.X),
		scaleY:   float64(monitor.Dy()) / float64(inputRegion.Y),
	}
}

// Move places the pointer at the monitor location of an output-space point.
// With smoothing enabled the step contracts towards the target unless the
// jump threshold is exceeded, in which case the pointer snaps.
func (m *Mouse) Move(point image.Point, smoothing bool) {
	newX := float64(point.X)*m.scaleX + float64(m.offset.X)
	newY := float64(point.Y)*m.scaleY + float64(m.offset.Y)

	if smoothing {
		dx := newX - m.coordX
		dy := newY - m.coordY
		dist := math.Hypot(dx, dy)

		switch {
		case dist > jumpThreshold:
			m.coordX, m.coordY = newX, newY
		case dist > dragThreshold:
			m.coordX += dragRate * dx
			m.coordY += dragRate * dy
		default:
			m.coordX += stopRate * dx
			m.coordY += stopRate * dy
		}
	} else {
		m.coordX, m.coordY = newX, newY
	}

	m.injector.MoveTo(int(m.coordX), int(m.coordY))
}

// HoldLeft presses and latches the left button. Pressing an already held
// button is harmless.
func (m *Mouse) HoldLeft() {
	m.injector.LeftDown()
	m.leftDown = true
}

// HoldRight presses and latches the right button.
func (m *Mouse) HoldRight() {
	m.injector.RightDown()
	m.rightDown = true
}

// ReleaseHold releases whichever buttons are latched.
func (m *Mouse) ReleaseHold() {
	if m.leftDown {
		m.injector.LeftUp()
		m.leftDown = false
	}
	if m.rightDown {
		m.injector.RightUp()
		m.rightDown = false
	}
}

// Position returns the current smoothed pointer coordinate.
func (m *Mouse) Position() (float64, float64) {
	return m.coordX, m.coordY
}
