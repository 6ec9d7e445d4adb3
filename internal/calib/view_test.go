package calib

import (
	"image"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

// identityProperties builds calibration properties whose colour map is the
// identity response and whose reflectance is uniform, so predictions
// reproduce the input.
func identityProperties(resolution image.Point) ViewProperties {
	props := ViewProperties{
		OutputResolution: resolution,
		ViewHomography:   gocv.Eye(3, 3, gocv.MatTypeCV32F),
		ScreenContour: []gocv.Point2f{
			{X: 0, Y: 0},
			{X: 0, Y: float32(resolution.Y)},
			{X: float32(resolution.X), Y: float32(resolution.Y)},
			{X: float32(resolution.X), Y: 0},
		},
	}

	// Identity remap: every output pixel samples itself.
	props.CorrectionMap = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV32FC2)
	for y := 0; y < resolution.Y; y++ {
		for x := 0; x < resolution.X; x++ {
			props.CorrectionMap.SetFloatAt(y, x*2+0, float32(x))
			props.CorrectionMap.SetFloatAt(y, x*2+1, float32(y))
		}
	}

	// Identity colour response: each cube node maps to its own colour.
	for z := 0; z < CMapSize; z++ {
		for y := 0; y < CMapSize; y++ {
			for x := 0; x < CMapSize; x++ {
				props.ColourMap[cmapIndex(x, y, z)] = Vec3f{
					float32(x) * CMapStep * 255.0,
					float32(y) * CMapStep * 255.0,
					float32(z) * CMapStep * 255.0,
				}
			}
		}
	}

	props.ReflectanceMap = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV32FC3)
	props.ReflectanceMap.SetTo(gocv.NewScalar(1, 1, 1, 0))

	return props
}

func TestPredict_NodeColoursAreFixedPoints(t *testing.T) {
	resolution := image.Pt(16, 16)
	props := identityProperties(resolution)
	defer props.Close()
	cal := NewViewCalibratorFromProperties(props)
	defer cal.Close()

	src := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC3)
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	// A frame filled with a cube node colour predicts to itself. The 8-bit
	// frame holds the node colour rounded to the nearest integer.
	for _, node := range []int{0, 3, 7} {
		value := math.Round(float64(float32(node) * CMapStep * 255.0))
		src.SetTo(gocv.NewScalar(value, value, value, 0))

		cal.Predict(src, &dst)

		got := dst.GetFloatAt(8, 8*3)
		if math.Abs(float64(got)-value) > 0.01 {
			t.Errorf("node %d: predicted %f, want %f", node, got, value)
		}
	}
}

func TestPredict_InterpolatesBetweenNodes(t *testing.T) {
	resolution := image.Pt(8, 8)
	props := identityProperties(resolution)
	defer props.Close()
	cal := NewViewCalibratorFromProperties(props)
	defer cal.Close()

	src := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.SetTo(gocv.NewScalar(128, 128, 128, 0))
	dst := gocv.NewMat()
	defer dst.Close()

	cal.Predict(src, &dst)

	// The identity map is linear, so interpolation reproduces the input
	// exactly even between nodes.
	got := dst.GetFloatAt(4, 4*3)
	if math.Abs(float64(got)-128.0) > 0.01 {
		t.Errorf("predicted %f, want 128", got)
	}
}

func TestPredict_AppliesReflectance(t *testing.T) {
	resolution := image.Pt(8, 8)
	props := identityProperties(resolution)
	props.ReflectanceMap.SetTo(gocv.NewScalar(0.5, 0.5, 0.5, 0))
	defer props.Close()
	cal := NewViewCalibratorFromProperties(props)
	defer cal.Close()

	src := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.SetTo(gocv.NewScalar(255, 255, 255, 0))
	dst := gocv.NewMat()
	defer dst.Close()

	cal.Predict(src, &dst)

	got := dst.GetFloatAt(0, 0)
	if math.Abs(float64(got)-127.5) > 0.01 {
		t.Errorf("predicted %f, want 127.5", got)
	}
}

func TestPredict_FullIntensityStaysInRange(t *testing.T) {
	// Full white quantises onto the last sub-cube; the lookup must not
	// step outside the map.
	if got := cubeIndex(1.0); got != CMapSize-2 {
		t.Errorf("cubeIndex(1.0) = %d, want %d", got, CMapSize-2)
	}
	if got := cubeIndex(0.0); got != 0 {
		t.Errorf("cubeIndex(0.0) = %d, want 0", got)
	}
}

func TestCorrect_IdentityMapPreservesImage(t *testing.T) {
	resolution := image.Pt(32, 32)
	props := identityProperties(resolution)
	defer props.Close()
	cal := NewViewCalibratorFromProperties(props)
	defer cal.Close()

	src := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.SetTo(gocv.NewScalar(10, 150, 240, 0))
	dst := gocv.NewMat()
	defer dst.Close()

	cal.Correct(src, &dst)

	if dst.Cols() != resolution.X || dst.Rows() != resolution.Y {
		t.Fatalf("corrected size = %dx%d, want %v", dst.Cols(), dst.Rows(), resolution)
	}
	if got := dst.GetUCharAt(16, 16*3+1); got != 150 {
		t.Errorf("corrected pixel = %d, want 150", got)
	}
}

func TestOrderCorners(t *testing.T) {
	// Corners in arbitrary order come back counter-clockwise from the top
	// left, assigned by quadrant around the centroid.
	corners := []gocv.Point2f{
		{X: 90, Y: 10},  // top right
		{X: 10, Y: 12},  // top left
		{X: 95, Y: 100}, // bottom right
		{X: 8, Y: 98},   // bottom left
	}

	ordered := orderCorners(corners)

	want := []gocv.Point2f{
		{X: 10, Y: 12},
		{X: 8, Y: 98},
		{X: 95, Y: 100},
		{X: 90, Y: 10},
	}
	for i := range want {
		if ordered[i] != want[i] {
			t.Errorf("corner %d = %v, want %v", i, ordered[i], want[i])
		}
	}
}

func TestMeetsCoverage(t *testing.T) {
	resolution := image.Pt(640, 480)

	// A 50x50 contour on a 640x480 canvas is far below ten percent
	// coverage and must be rejected.
	small := []gocv.Point2f{
		{X: 100, Y: 100}, {X: 100, Y: 150}, {X: 150, Y: 150}, {X: 150, Y: 100},
	}
	if meetsCoverage(small, 0.10, resolution) {
		t.Error("expected a 50x50 contour to fail coverage")
	}

	large := []gocv.Point2f{
		{X: 50, Y: 50}, {X: 50, Y: 430}, {X: 590, Y: 430}, {X: 590, Y: 50},
	}
	if !meetsCoverage(large, 0.10, resolution) {
		t.Error("expected a near-full contour to pass coverage")
	}
}

func TestContext_RoundTrip(t *testing.T) {
	resolution := image.Pt(8, 8)
	props := identityProperties(resolution)
	defer props.Close()
	cal := NewViewCalibratorFromProperties(props)
	defer cal.Close()

	ctx := cal.Context()
	defer ctx.Close()

	if ctx.OutputResolution != resolution {
		t.Errorf("context resolution = %v, want %v", ctx.OutputResolution, resolution)
	}
	if len(ctx.ScreenContour) != 4 {
		t.Errorf("context contour has %d corners", len(ctx.ScreenContour))
	}
	if ctx.ColourMap != props.ColourMap {
		t.Error("context colour map differs")
	}

	rebuilt := NewViewCalibratorFromProperties(ctx)
	defer rebuilt.Close()
	if rebuilt.AmbientIntensity() != cal.AmbientIntensity() {
		t.Error("rebuilt calibrator ambient intensity differs")
	}
}
