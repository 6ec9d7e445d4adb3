package calib

import (
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/capture"
	"github.com/joen0001/virtualtouch/internal/config"
)

// fullscreenWindow puts the calibration window into fullscreen so displayed
// patterns cover the whole monitor.
func fullscreenWindow(win *gocv.Window) {
	win.SetWindowProperty(gocv.WindowPropertyFullscreen, gocv.WindowFullscreen)
}

// calibrateExposure locks focus and white balance, then steps the exposure
// level down until the brightest pixel of a white display capture is at or
// below brightnessTarget. This keeps later colour measurements linear and
// dominated by the display rather than the room.
func calibrateExposure(cam capture.Camera, win *gocv.Window, brightnessTarget float64) {
	// Lock the focus where it currently is; the camera is assumed to be
	// focused on the surface already.
	cam.SetControl(gocv.VideoCaptureAutoFocus, 0)
	cam.SetControl(gocv.VideoCaptureFocus, cam.Control(gocv.VideoCaptureFocus))

	// Pin the white balance to a neutral temperature.
	cam.SetControl(gocv.VideoCaptureAutoWB, 0)
	cam.SetControl(gocv.VideoCaptureWBTemperature, 4500)

	// Disable auto-exposure and gain.
	cam.SetControl(gocv.VideoCaptureAutoExposure, 0.25)
	cam.SetControl(gocv.VideoCaptureGain, 0)

	sample := gocv.NewMat()
	defer sample.Close()
	intensity := gocv.NewMat()
	defer intensity.Close()

	settle := time.Duration(cam.LatencyMs()*2) * time.Millisecond
	exposureLevel := 0
	for {
		cam.SetControl(gocv.VideoCaptureExposure, float64(exposureLevel))
		exposureLevel--

		captureColour(cam, win, color.RGBA{R: 255, G: 255, B: 255}, settle, 3, &sample)
		gocv.CvtColor(sample, &intensity, gocv.ColorBGRToGray)
		_, maxBrightness, _, _ := gocv.MinMaxLoc(intensity)

		if config.ShowExposureSamples {
			dbg := gocv.NewWindow("Exposure Samples")
			dbg.IMShow(intensity)
			dbg.WaitKey(1)
		}

		if float64(maxBrightness) <= brightnessTarget {
			return
		}
	}
}

// captureColour displays a solid colour fullscreen and captures the averaged
// camera response.
func captureColour(cam capture.Camera, win *gocv.Window, c color.RGBA, settle time.Duration, samples int, dst *gocv.Mat) {
	// A 1x1 image stretches to fill the window.
	solid := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0),
		1, 1, gocv.MatTypeCV8UC3,
	)
	defer solid.Close()

	captureImage(cam, win, solid, settle, samples, dst)
}

// captureImage displays an image fullscreen, waits for the display and
// camera to settle, then averages several captures into dst.
func captureImage(cam capture.Camera, win *gocv.Window, img gocv.Mat, settle time.Duration, samples int, dst *gocv.Mat) {
	fullscreenWindow(win)
	win.IMShow(img)
	win.WaitKey(1)

	time.Sleep(settle)

	// Flush frames buffered before the pattern appeared.
	cam.DropFrame()
	cam.DropFrame()
	cam.DropFrame()
	cam.ReadFrame(dst)
	cam.ReadFrame(dst)
	cam.ReadFrame(dst)

	if samples <= 1 {
		cam.ReadFrame(dst)
		return
	}

	average := gocv.NewMatWithSize(cam.Height(), cam.Width(), gocv.MatTypeCV64FC3)
	defer average.Close()
	average.SetTo(gocv.NewScalar(0, 0, 0, 0))

	frame64 := gocv.NewMat()
	defer frame64.Close()

	for i := 0; i < samples; i++ {
		cam.ReadFrame(dst)
		dst.ConvertTo(&frame64, gocv.MatTypeCV64FC3)
		gocv.Add(average, frame64, &average)
	}
	average.DivideFloat(float32(samples))
	average.ConvertTo(dst, gocv.MatTypeCV8UC3)
}

// showFeedback displays instructions with a live camera inset until the user
// presses any key.
func showFeedback(cam capture.Camera, win *gocv.Window, topText, botText string) {
	fullscreenWindow(win)

	// The highgui API gives no reliable way to query the fullscreen pixel
	// size, so the feedback canvas is rendered at a fixed resolution and
	// stretched by the window.
	windowSize := image.Pt(1280, 720)

	// Scale the camera view to fit between the header and footer text.
	const headerSize, footerSize = 80.0, 80.0
	verticalSpace := float64(windowSize.Y) - headerSize - footerSize

	hs := verticalSpace / float64(cam.Height())
	ws := float64(windowSize.X) / float64(cam.Width())
	scaling := hs
	if ws < scaling {
		scaling = ws
	}

	camSize := image.Pt(
		int(float64(cam.Width())*scaling),
		int(float64(cam.Height())*scaling),
	)
	camSlot := image.Rectangle{
		Min: image.Pt((windowSize.X-camSize.X)/2, (windowSize.Y-camSize.Y)/2),
		Max: image.Pt((windowSize.X+camSize.X)/2, (windowSize.Y+camSize.Y)/2),
	}

	frame := gocv.NewMatWithSize(windowSize.Y, windowSize.X, gocv.MatTypeCV8UC3)
	defer frame.Close()
	camFrame := gocv.NewMat()
	defer camFrame.Close()
	camScaled := gocv.NewMat()
	defer camScaled.Close()

	black := color.RGBA{}
	for win.WaitKey(cam.LatencyMs()) == -1 {
		frame.SetTo(gocv.NewScalar(255, 255, 255, 0))

		if cam.ReadFrame(&camFrame) {
			gocv.Resize(camFrame, &camScaled, camSize, 0, 0, gocv.InterpolationLinear)
			slot := frame.Region(camSlot)
			camScaled.CopyTo(&slot)
			slot.Close()
		}

		gocv.PutTextWithParams(
			&frame, topText, image.Pt(10, 50),
			gocv.FontHersheyComplexSmall, 2, black, 3, gocv.LineAA, false,
		)
		gocv.PutTextWithParams(
			&frame, botText, image.Pt(10, windowSize.Y-50),
			gocv.FontHersheyComplexSmall, 2, black, 3, gocv.LineAA, false,
		)

		win.IMShow(frame)
	}
}

// MakeChessboard builds a cell-per-pixel chessboard pattern that stretches
// to a full chessboard when displayed fullscreen. Both dimensions must be
// even and greater than one.
func MakeChessboard(size image.Point, colour1, colour2 color.RGBA) gocv.Mat {
	if size.X%2 != 0 || size.Y%2 != 0 || size.X <= 1 || size.Y <= 1 {
		panic("calib: chessboard size must be even and greater than one")
	}

	pattern := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV8UC3)
	for r := 0; r < size.Y; r++ {
		for c := 0; c < size.X; c++ {
			colour := colour1
			if (r+c)%2 == 1 {
				colour = colour2
			}
			pattern.SetUCharAt(r, c*3+0, colour.B)
			pattern.SetUCharAt(r, c*3+1, colour.G)
			pattern.SetUCharAt(r, c*3+2, colour.R)
		}
	}
	return pattern
}
