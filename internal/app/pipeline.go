package app

import (
	"image"
	"log"
	"time"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/config"
)

// Run executes the main processing loop: camera read, rectify, segment,
// detect, decide, drive pointer. It blocks until the camera stops producing
// frames or Stop is called.
//
// The predictor worker is started against the screen source before the
// first frame and joined on return.
func (a *App) Run() error {
	a.mu.Lock()
	if a.stopCh != nil {
		a.mu.Unlock()
		return nil
	}
	a.stopCh = make(chan struct{})
	stopCh := a.stopCh
	a.mu.Unlock()

	a.generator.Start(a.config.Screen, a.config.Calibrator)
	defer a.generator.Stop()

	rawFrame := gocv.NewMat()
	defer rawFrame.Close()
	screenFrame := gocv.NewMat()
	defer screenFrame.Close()
	foregroundMask := gocv.NewMat()
	defer foregroundMask.Close()
	shadowMask := gocv.NewMat()
	defer shadowMask.Close()

	var rawWindow *gocv.Window
	if config.ShowRawWebcam {
		rawWindow = gocv.NewWindow("Raw Capture")
		defer rawWindow.Close()
	}

	frameStart := time.Now()
	for a.config.Camera.ReadFrame(&rawFrame) {
		select {
		case <-stopCh:
			return nil
		default:
		}

		processStart := time.Now()

		if rawWindow != nil {
			rawWindow.IMShow(rawFrame)
			rawWindow.WaitKey(1)
		}

		a.config.Calibrator.Correct(rawFrame, &screenFrame)
		a.generator.Segment(screenFrame, &foregroundMask, &shadowMask)

		fingertips := a.tracker.Detect(foregroundMask, shadowMask)
		if a.config.Fingertips != nil {
			a.config.Fingertips.Broadcast(fingertips)
		}

		if action, ok := a.decider.Decide(fingertips, foregroundMask, shadowMask); ok {
			a.tracker.Focus(action.Point, image.Pt(FocusSize, FocusSize))

			if a.IsEnabled() {
				a.config.Mouse.Move(action.Point, true)
				if action.Touch {
					a.config.Mouse.HoldLeft()
				}
			}

			if config.ShowRatioPatch {
				showRatioPatch(screenFrame, action.Point)
			}
		} else {
			a.config.Mouse.ReleaseHold()
		}

		if a.config.Feed != nil {
			publishDebugFrame(a.config.Feed, screenFrame, foregroundMask, shadowMask)
		}

		if config.ShowLatencies {
			frameMs := float64(time.Since(frameStart).Microseconds()) / 1000.0
			processMs := float64(time.Since(processStart).Microseconds()) / 1000.0
			log.Printf("Latency: %.2f/%.2fms (%.1f%%)", processMs, frameMs, processMs/frameMs*100.0)
			frameStart = time.Now()
		}
	}

	return nil
}

// showRatioPatch magnifies the camera view around the active fingertip.
var ratioWindow *gocv.Window

func showRatioPatch(view gocv.Mat, point image.Point) {
	if ratioWindow == nil {
		ratioWindow = gocv.NewWindow("Ratio Patch")
	}

	const half = 64
	roi := image.Rect(
		max(point.X-half, 0),
		max(point.Y-half, 0),
		min(point.X+half, view.Cols()-1),
		min(point.Y+half, view.Rows()-1),
	)
	if roi.Empty() {
		return
	}

	region := view.Region(roi)
	defer region.Close()
	patch := gocv.NewMat()
	defer patch.Close()
	gocv.Resize(region, &patch, image.Pt(512, 512), 0, 0, gocv.InterpolationNearestNeighbor)

	ratioWindow.IMShow(patch)
	ratioWindow.WaitKey(1)
}
