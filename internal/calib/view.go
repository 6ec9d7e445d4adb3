package calib

import (
	"image"
	"image/color"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/capture"
	"github.com/joen0001/virtualtouch/internal/config"
)

// The calibration colours used for detecting the screen and anchoring the
// photometric model. They are chosen for apparent brightness and a high
// green component, which holds up across cameras.
var calibrationColours = []color.RGBA{
	{R: 255, G: 255, B: 255},
	{R: 0, G: 255, B: 0},
	{R: 255, G: 255, B: 0},
	{R: 0, G: 255, B: 255},
}

// ViewCalibrator owns the geometric and photometric view model. Calibrate
// fits it interactively against a live camera. A calibrator from
// NewViewCalibrator has a zero-filled correction map and no reflectance map
// until then, so Correct does not pass frames through and Predict cannot be
// used.
type ViewCalibrator struct {
	outputResolution image.Point

	// Geometric calibration.
	correctionMap  gocv.Mat
	viewHomography gocv.Mat
	screenContour  []gocv.Point2f

	// Photometric calibration.
	colourMap      [CMapSize * CMapSize * CMapSize]Vec3f
	reflectanceMap gocv.Mat
}

// NewViewCalibrator creates an uncalibrated view model working at the given
// output resolution.
func NewViewCalibrator(outputResolution image.Point) *ViewCalibrator {
	if outputResolution.X <= 0 || outputResolution.Y <= 0 {
		panic("calib: output resolution must be positive")
	}
	return &ViewCalibrator{
		outputResolution: outputResolution,
		correctionMap: gocv.NewMatWithSize(
			outputResolution.Y, outputResolution.X, gocv.MatTypeCV32FC2,
		),
		viewHomography: gocv.Eye(3, 3, gocv.MatTypeCV32F),
	}
}

// NewViewCalibratorFromProperties rebuilds a calibrated view model from
// saved properties. The properties are cloned, so the calibrator can live on
// a different goroutine than the source.
func NewViewCalibratorFromProperties(props ViewProperties) *ViewCalibrator {
	clone := props.Clone()
	return &ViewCalibrator{
		outputResolution: clone.OutputResolution,
		correctionMap:    clone.CorrectionMap,
		viewHomography:   clone.ViewHomography,
		screenContour:    clone.ScreenContour,
		colourMap:        clone.ColourMap,
		reflectanceMap:   clone.ReflectanceMap,
	}
}

// Close releases the Mats owned by the calibrator.
func (v *ViewCalibrator) Close() {
	v.correctionMap.Close()
	v.viewHomography.Close()
	if !v.reflectanceMap.Empty() {
		v.reflectanceMap.Close()
	}
}

// OutputResolution returns the working resolution of all rectified images.
func (v *ViewCalibrator) OutputResolution() image.Point {
	return v.outputResolution
}

// AmbientIntensity returns the channel mean of the camera reading for
// display black.
func (v *ViewCalibrator) AmbientIntensity() float32 {
	ambient := v.colourMap[0]
	return (ambient[0] + ambient[1] + ambient[2]) / 3.0
}

// Context returns a deep copy of the calibration state.
func (v *ViewCalibrator) Context() ViewProperties {
	props := ViewProperties{
		OutputResolution: v.outputResolution,
		ViewHomography:   v.viewHomography.Clone(),
		CorrectionMap:    v.correctionMap.Clone(),
		ScreenContour:    append([]gocv.Point2f(nil), v.screenContour...),
		ColourMap:        v.colourMap,
	}
	if v.reflectanceMap.Empty() {
		props.ReflectanceMap = gocv.NewMat()
	} else {
		props.ReflectanceMap = v.reflectanceMap.Clone()
	}
	return props
}

// Correct rectifies a raw camera frame into output coordinates by applying
// the baked lens and homography remap with cubic interpolation.
func (v *ViewCalibrator) Correct(src gocv.Mat, dst *gocv.Mat) {
	noMap := gocv.NewMat()
	defer noMap.Close()
	gocv.Remap(
		src, dst, &v.correctionMap, &noMap,
		gocv.InterpolationCubic, gocv.BorderConstant, color.RGBA{},
	)
}

// Predict produces the expected camera image of a rendered frame. Each pixel
// is quantised into the colour cube, trilinearly interpolated through the
// eight surrounding map entries and scaled by the pixel's reflectance. The
// source must be 8-bit BGR; the destination is float BGR in [0,255].
func (v *ViewCalibrator) Predict(src gocv.Mat, dst *gocv.Mat) {
	if src.Type() != gocv.MatTypeCV8UC3 {
		panic("calib: Predict requires an 8-bit BGR source")
	}
	if dst.Empty() || dst.Rows() != src.Rows() || dst.Cols() != src.Cols() || dst.Type() != gocv.MatTypeCV32FC3 {
		newDst := gocv.NewMatWithSize(src.Rows(), src.Cols(), gocv.MatTypeCV32FC3)
		newDst.CopyTo(dst)
		newDst.Close()
	}

	srcData, err := src.DataPtrUint8()
	if err != nil {
		panic(err)
	}
	dstData, err := dst.DataPtrFloat32()
	if err != nil {
		panic(err)
	}
	refData, err := v.reflectanceMap.DataPtrFloat32()
	if err != nil {
		panic(err)
	}

	for i := 0; i < len(srcData); i += 3 {
		norm := Vec3f{
			float32(srcData[i+0]) / 255.0,
			float32(srcData[i+1]) / 255.0,
			float32(srcData[i+2]) / 255.0,
		}

		// Locate the sub-cube within the map. Full-intensity channels are
		// clamped onto the last cube so all eight neighbours stay in range.
		x := cubeIndex(norm[0])
		y := cubeIndex(norm[1])
		z := cubeIndex(norm[2])

		fx := norm[0]/CMapStep - float32(x)
		fy := norm[1]/CMapStep - float32(y)
		fz := norm[2]/CMapStep - float32(z)

		prediction := trilerp(
			v.colourMap[cmapIndex(x, y, z)],
			v.colourMap[cmapIndex(x, y+1, z)],
			v.colourMap[cmapIndex(x+1, y+1, z)],
			v.colourMap[cmapIndex(x+1, y, z)],
			v.colourMap[cmapIndex(x, y, z+1)],
			v.colourMap[cmapIndex(x, y+1, z+1)],
			v.colourMap[cmapIndex(x+1, y+1, z+1)],
			v.colourMap[cmapIndex(x+1, y, z+1)],
			fx, fy, fz,
		)

		dstData[i+0] = prediction[0] * refData[i+0]
		dstData[i+1] = prediction[1] * refData[i+1]
		dstData[i+2] = prediction[2] * refData[i+2]
	}
}

// cubeIndex quantises a normalised channel into a colour cube coordinate,
// clamped so the upper neighbour is always addressable.
func cubeIndex(norm float32) int {
	i := int(norm / CMapStep)
	if i > CMapSize-2 {
		i = CMapSize - 2
	}
	return i
}

// Calibrate interactively fits the geometric and photometric models against
// the live camera. It blocks on the user and loops until a calibration with
// sufficient screen coverage succeeds.
func (v *ViewCalibrator) Calibrate(cam capture.Camera, minCoverage float64, settle time.Duration) {
	if !cam.IsOpen() {
		panic("calib: Calibrate requires an open camera")
	}

	win := gocv.NewWindow("Screen Calibrator")
	defer win.Close()
	fullscreenWindow(win)

	if !config.AutoStartCalibration {
		showFeedback(
			cam, win,
			"Please ensure the entire screen is visible and in focus!",
			"Press any key to start the calibration...",
		)
	}

	colourSamples := make([]gocv.Mat, len(calibrationColours))
	for i := range colourSamples {
		colourSamples[i] = gocv.NewMat()
	}
	defer func() {
		for i := range colourSamples {
			colourSamples[i].Close()
		}
	}()

	chessboardSample := gocv.NewMat()
	defer chessboardSample.Close()

	for {
		if !config.SkipAutoExposure {
			calibrateExposure(cam, win, 250)
		}

		// Capture all required colour samples.
		for i, colour := range calibrationColours {
			captureColour(cam, win, colour, settle, config.CaptureSamples, &colourSamples[i])
		}

		// Capture the chessboard pattern for lens distortion calibration.
		chessboardSize := image.Pt(config.ChessboardCols, config.ChessboardRows)
		pattern := MakeChessboard(
			chessboardSize,
			color.RGBA{},
			color.RGBA{R: 255, G: 255, B: 255},
		)
		captureImage(cam, win, pattern, settle, config.CaptureSamples, &chessboardSample)
		pattern.Close()

		screenCorners, err := v.findGeometricModel(colourSamples, chessboardSample, chessboardSize)
		if err != nil {
			log.Printf("Calibration failed: %v", err)
			showFeedback(
				cam, win,
				"Failed to find the screen or chessboard corners",
				"Press any key to try again",
			)
			continue
		}
		v.screenContour = screenCorners

		// Check that the detected screen meets minimum coverage.
		if !meetsCoverage(v.screenContour, minCoverage, v.outputResolution) {
			showFeedback(
				cam, win,
				"Please move the camera closer",
				"Press any key to try again",
			)
			continue
		}

		// Rectify the colour samples with the fresh geometric model and fit
		// the photometric model against them.
		correctedWhite := gocv.NewMat()
		v.Correct(colourSamples[0], &correctedWhite)
		v.findPhotometricModel(cam, win, settle, correctedWhite)
		correctedWhite.Close()
		break
	}

	// Show the result by drawing the screen outline over the last sample.
	last := v.screenContour[len(v.screenContour)-1]
	magenta := color.RGBA{R: 255, B: 255}
	for _, corner := range v.screenContour {
		gocv.Line(
			&chessboardSample,
			image.Pt(int(last.X), int(last.Y)),
			image.Pt(int(corner.X), int(corner.Y)),
			magenta, 2,
		)
		last = corner
	}
	win.IMShow(chessboardSample)
	win.WaitKey(2000)
}

// meetsCoverage reports whether the screen contour covers at least the given
// fraction of the area of resolution. Calibrate passes the output resolution.
func meetsCoverage(contour []gocv.Point2f, minCoverage float64, resolution image.Point) bool {
	pts := make([]image.Point, len(contour))
	for i, p := range contour {
		pts[i] = image.Pt(int(p.X), int(p.Y))
	}
	pv := gocv.NewPointVectorFromPoints(pts)
	defer pv.Close()

	area := gocv.ContourArea(pv)
	return area >= minCoverage*float64(resolution.X)*float64(resolution.Y)
}
