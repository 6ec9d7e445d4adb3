// Package calib recovers the geometric and photometric mapping between what
// the host renders and what the camera sees. The resulting model rectifies
// camera frames to display coordinates and predicts the expected camera
// appearance of any rendered frame.
package calib

import (
	"image"

	"gocv.io/x/gocv"
)

// Colour map dimensions. The map samples the display colour cube on an
// 8x8x8 grid, so neighbouring nodes are 1/7 apart in normalised colour.
const (
	CMapSize = 8
	CMapStep = 1.0 / float32(CMapSize-1)
)

// Vec3f is a BGR colour triplet in camera response space.
type Vec3f [3]float32

// ViewProperties is the serialisable calibration state. It is produced once
// by a calibration run, never mutated afterwards, and can be cloned across
// worker goroutines.
type ViewProperties struct {
	// OutputResolution is the working resolution of all rectified images.
	OutputResolution image.Point

	// ViewHomography maps lens-corrected camera pixels to output coordinates.
	ViewHomography gocv.Mat

	// CorrectionMap bakes lens undistortion and the view homography into a
	// single per-pixel remap of OutputResolution size (CV_32FC2).
	CorrectionMap gocv.Mat

	// ScreenContour holds the four corners of the physical display in the
	// raw camera image, counter-clockwise from the top left.
	ScreenContour []gocv.Point2f

	// ColourMap is the display-to-camera colour table. Entry (x,y,z) holds
	// the observed camera colour for display BGR (x,y,z)*CMapStep*255.
	ColourMap [CMapSize * CMapSize * CMapSize]Vec3f

	// ReflectanceMap is the per-pixel gain of the surface under uniform
	// white, normalised to 1 at the white point (CV_32FC3).
	ReflectanceMap gocv.Mat
}

// Clone deep-copies the properties, including all Mats, so the copy can be
// handed to another goroutine with its own buffer lifetimes.
func (p ViewProperties) Clone() ViewProperties {
	out := ViewProperties{
		OutputResolution: p.OutputResolution,
		ViewHomography:   p.ViewHomography.Clone(),
		CorrectionMap:    p.CorrectionMap.Clone(),
		ScreenContour:    append([]gocv.Point2f(nil), p.ScreenContour...),
		ColourMap:        p.ColourMap,
	}
	out.ReflectanceMap = p.ReflectanceMap.Clone()
	return out
}

// Close releases the Mats owned by the properties.
func (p *ViewProperties) Close() {
	p.ViewHomography.Close()
	p.CorrectionMap.Close()
	p.ReflectanceMap.Close()
}

// AmbientIntensity returns the channel mean of the camera reading for
// display black. It is a lower bound on pixel values even in shadow.
func (p *ViewProperties) AmbientIntensity() float32 {
	ambient := p.ColourMap[0]
	return (ambient[0] + ambient[1] + ambient[2]) / 3.0
}

// cmapIndex flattens a colour cube coordinate, x indexing blue, y green and
// z red.
func cmapIndex(x, y, z int) int {
	return (z*CMapSize+y)*CMapSize + x
}

func lerp(v0, v1 Vec3f, x float32) Vec3f {
	return Vec3f{
		v0[0]*(1-x) + v1[0]*x,
		v0[1]*(1-x) + v1[1]*x,
		v0[2]*(1-x) + v1[2]*x,
	}
}

func bilerp(v00, v01, v11, v10 Vec3f, x, y float32) Vec3f {
	return lerp(lerp(v00, v10, x), lerp(v01, v11, x), y)
}

func trilerp(
	v000, v010, v110, v100 Vec3f,
	v001, v011, v111, v101 Vec3f,
	x, y, z float32,
) Vec3f {
	return lerp(bilerp(v000, v010, v110, v100, x, y), bilerp(v001, v011, v111, v101, x, y), z)
}
