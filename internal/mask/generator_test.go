package mask

import (
	"image"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/calib"
	"github.com/joen0001/virtualtouch/internal/capture"
)

// identityCalibrator builds a calibrator whose prediction reproduces the
// displayed frame: identity colour response and uniform reflectance.
func identityCalibrator(resolution image.Point) *calib.ViewCalibrator {
	props := calib.ViewProperties{
		OutputResolution: resolution,
		ViewHomography:   gocv.Eye(3, 3, gocv.MatTypeCV32F),
	}

	props.CorrectionMap = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV32FC2)
	for y := 0; y < resolution.Y; y++ {
		for x := 0; x < resolution.X; x++ {
			props.CorrectionMap.SetFloatAt(y, x*2+0, float32(x))
			props.CorrectionMap.SetFloatAt(y, x*2+1, float32(y))
		}
	}

	for z := 0; z < calib.CMapSize; z++ {
		for y := 0; y < calib.CMapSize; y++ {
			for x := 0; x < calib.CMapSize; x++ {
				index := (z*calib.CMapSize+y)*calib.CMapSize + x
				props.ColourMap[index] = calib.Vec3f{
					float32(x) * calib.CMapStep * 255.0,
					float32(y) * calib.CMapStep * 255.0,
					float32(z) * calib.CMapStep * 255.0,
				}
			}
		}
	}

	props.ReflectanceMap = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV32FC3)
	props.ReflectanceMap.SetTo(gocv.NewScalar(1, 1, 1, 0))

	cal := calib.NewViewCalibratorFromProperties(props)
	props.Close()
	return cal
}

func greyScreen(resolution image.Point) gocv.Mat {
	frame := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC4)
	frame.SetTo(gocv.NewScalar(128, 128, 128, 255))
	return frame
}

func TestSegment_StaticSceneProducesNoForeground(t *testing.T) {
	resolution := image.Pt(64, 64)

	cal := identityCalibrator(resolution)
	defer cal.Close()

	screenFrame := greyScreen(resolution)
	defer screenFrame.Close()
	screen := capture.NewMockScreen(screenFrame)

	g := NewGenerator()
	g.Start(screen, cal)
	defer g.Stop()

	// Let the predictor fill the latency queue with grey predictions.
	time.Sleep(10 * predictionRate)

	view := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC3)
	defer view.Close()
	view.SetTo(gocv.NewScalar(128, 128, 128, 0))

	foreground := gocv.NewMat()
	defer foreground.Close()
	shadow := gocv.NewMat()
	defer shadow.Close()

	// With the camera seeing exactly the predicted scene, nothing rises
	// above the noise floor.
	for i := 0; i < 3; i++ {
		g.Segment(view, &foreground, &shadow)
	}

	if got := gocv.CountNonZero(foreground); got != 0 {
		t.Errorf("foreground has %d set pixels, want 0", got)
	}
}

func TestSegment_ShadowIgnoresLitBackground(t *testing.T) {
	resolution := image.Pt(64, 64)

	cal := identityCalibrator(resolution)
	defer cal.Close()

	screenFrame := greyScreen(resolution)
	defer screenFrame.Close()
	screen := capture.NewMockScreen(screenFrame)

	g := NewGenerator()
	g.Start(screen, cal)
	defer g.Stop()

	time.Sleep(10 * predictionRate)

	// A bright static view: dark pixels would be shadow, but the whole
	// background is masked to full intensity first.
	view := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC3)
	defer view.Close()
	view.SetTo(gocv.NewScalar(128, 128, 128, 0))

	foreground := gocv.NewMat()
	defer foreground.Close()
	shadow := gocv.NewMat()
	defer shadow.Close()

	g.Segment(view, &foreground, &shadow)

	if got := gocv.CountNonZero(shadow); got != 0 {
		t.Errorf("shadow has %d set pixels, want 0", got)
	}
}

func TestSegment_PanicsWhenNotRunning(t *testing.T) {
	g := NewGenerator()

	view := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer view.Close()
	foreground := gocv.NewMat()
	defer foreground.Close()
	shadow := gocv.NewMat()
	defer shadow.Close()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for Segment before Start")
		}
	}()
	g.Segment(view, &foreground, &shadow)
}

func TestStop_Idempotent(t *testing.T) {
	resolution := image.Pt(16, 16)

	cal := identityCalibrator(resolution)
	defer cal.Close()

	screenFrame := greyScreen(resolution)
	defer screenFrame.Close()

	g := NewGenerator()
	g.Start(capture.NewMockScreen(screenFrame), cal)

	g.Stop()
	g.Stop()
}
