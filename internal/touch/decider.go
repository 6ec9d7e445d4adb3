// Package touch selects a single fingertip per frame and decides whether it
// is touching the surface.
package touch

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/track"
)

const (
	// minFingerAge filters tracking noise: a fingertip must survive this
	// many frames before it can drive the pointer.
	minFingerAge = 5

	// Shadow/foreground ratio bounds. A cast shadow coincides with the
	// finger on contact, so the ratio is minimal for a touch but never
	// zero: the shadow still outlines the hand.
	touchThreshold = 0.20
	hoverThreshold = 0.30
)

// Action is the per-frame pointer decision.
type Action struct {
	Point image.Point
	Touch bool
}

// Decider holds the sticky fingertip selection across frames.
type Decider struct {
	last     track.Fingertip
	selected bool
}

// NewDecider creates a Decider with no selection history.
func NewDecider() *Decider {
	return &Decider{}
}

// Decide picks the fingertip to act on and tests it for touch. It prefers
// the previously selected fingertip, otherwise the oldest candidate of
// sufficient age. It reports false when no fingertip is usable or the
// shadow ratio indicates free air.
func (d *Decider) Decide(fingertips []track.Fingertip, foregroundMask, shadowMask gocv.Mat) (Action, bool) {
	var chosen *track.Fingertip

	oldestAge := minFingerAge
	for i := range fingertips {
		f := &fingertips[i]
		if d.selected && f.ID == d.last.ID {
			chosen = f
			break
		}
		if f.Age >= oldestAge {
			oldestAge = f.Age
			chosen = f
		}
	}
	if chosen == nil {
		return Action{}, false
	}
	d.last = *chosen
	d.selected = true

	// Measure the shadow to foreground ratio in a region around the
	// fingertip, sized to cover the tip and the base of the finger.
	dx := float64(chosen.COM.X - chosen.Point.X)
	dy := float64(chosen.COM.Y - chosen.Point.Y)
	radius := int(math.Sqrt(dx*dx+dy*dy)) + 7

	roi := image.Rect(
		max(chosen.COM.X-radius, 0),
		max(chosen.COM.Y-radius, 0),
		min(chosen.COM.X+radius, shadowMask.Cols()-2),
		min(chosen.COM.Y+radius, shadowMask.Rows()-2),
	)
	if roi.Empty() {
		return Action{}, false
	}

	shadowRegion := shadowMask.Region(roi)
	shadow := gocv.CountNonZero(shadowRegion)
	shadowRegion.Close()

	foregroundRegion := foregroundMask.Region(roi)
	foreground := gocv.CountNonZero(foregroundRegion)
	foregroundRegion.Close()

	if foreground == 0 {
		return Action{}, false
	}
	ratio := float64(shadow) / float64(foreground)

	if ratio <= touchThreshold {
		return Action{Point: chosen.Point, Touch: true}, true
	}
	if ratio <= hoverThreshold {
		return Action{Point: chosen.Point, Touch: false}, true
	}
	return Action{}, false
}
