// Package mask segments foreground and shadow from rectified camera frames
// by subtracting a continuously predicted view of the display contents.
package mask

import (
	"image"
	"image/color"
	"runtime"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/calib"
	"github.com/joen0001/virtualtouch/internal/capture"
	"github.com/joen0001/virtualtouch/internal/config"
)

const (
	// Pixels darker than ambient plus this offset are classified as shadow.
	shadowOffset = 50
	// Difference scores above the background noise floor plus this offset
	// are classified as foreground.
	noiseOffset = 15

	predictionRateHz = 60
	predictionRate   = time.Second / predictionRateHz
)

// Generator runs the predictor worker and produces foreground and shadow
// masks from rectified camera frames.
type Generator struct {
	view       gocv.Mat
	background gocv.Mat
	difference gocv.Mat
	score      gocv.Mat

	foregroundView gocv.Mat
	backgroundMask gocv.Mat
	noiseMask      gocv.Mat
	borderMask     gocv.Mat
	borderBlobs    gocv.Mat
	labels         gocv.Mat

	sharpenKernel gocv.Mat
	scoreWeights  gocv.Mat
	morphKernel   gocv.Mat

	ambientIntensity float32

	queue   *frameQueue
	running atomic.Bool
	done    chan struct{}
}

// NewGenerator creates an idle Generator. Start must be called before
// Segment.
func NewGenerator() *Generator {
	g := &Generator{}

	// Light sharpening kernel applied to the camera view before
	// subtraction.
	g.sharpenKernel = gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	g.sharpenKernel.SetFloatAt(0, 1, -0.25)
	g.sharpenKernel.SetFloatAt(1, 0, -0.25)
	g.sharpenKernel.SetFloatAt(1, 1, 2.00)
	g.sharpenKernel.SetFloatAt(1, 2, -0.25)
	g.sharpenKernel.SetFloatAt(2, 1, -0.25)

	// Red-biased projection of the colour difference; skin reflects red
	// strongly, so this lifts hands above content mispredictions.
	g.scoreWeights = gocv.NewMatWithSize(1, 3, gocv.MatTypeCV32F)
	g.scoreWeights.SetFloatAt(0, 0, 0.75)
	g.scoreWeights.SetFloatAt(0, 1, 0.75)
	g.scoreWeights.SetFloatAt(0, 2, 1.00)

	g.morphKernel = gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))

	return g
}

// Start allocates buffers, fills the latency queue with zeros and launches
// the predictor worker against a copy of the calibration. The screen source
// is owned by the worker from here on.
func (g *Generator) Start(screen capture.ScreenSource, calibration *calib.ViewCalibrator) {
	resolution := calibration.OutputResolution()

	g.view = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV32FC3)
	g.background = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV32FC3)
	g.difference = gocv.NewMat()
	g.score = gocv.NewMat()
	g.foregroundView = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC1)
	g.noiseMask = gocv.NewMat()
	g.borderBlobs = gocv.NewMat()
	g.labels = gocv.NewMat()

	// Before the first frame the whole canvas counts as background for the
	// noise-floor estimate.
	g.backgroundMask = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC1)
	g.backgroundMask.SetTo(gocv.NewScalar(255, 0, 0, 0))

	// One-pixel border used to keep only blobs entering from the screen
	// edge.
	g.borderMask = gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC1)
	g.borderMask.SetTo(gocv.NewScalar(0, 0, 0, 0))
	white := color.RGBA{R: 255, G: 255, B: 255}
	gocv.Rectangle(&g.borderMask, image.Rect(0, 0, resolution.X, resolution.Y), white, 1)

	g.ambientIntensity = calibration.AmbientIntensity()

	g.queue = newFrameQueue(config.PredictionDelay, resolution)

	g.running.Store(true)
	g.done = make(chan struct{})
	go g.predictorLoop(screen, calibration.Context())
}

// Segment produces the foreground and shadow masks for a rectified camera
// frame. It is only valid between Start and Stop and is deterministic given
// the current queue state.
func (g *Generator) Segment(view gocv.Mat, foregroundMask, shadowMask *gocv.Mat) {
	if !g.running.Load() {
		panic("mask: Segment called while generator is not running")
	}

	// Sharpen the view and subtract the predicted background.
	gocv.Filter2D(view, &g.view, gocv.MatTypeCV32F, g.sharpenKernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	g.queue.read(&g.background)

	gocv.AbsDiff(g.background, g.view, &g.difference)
	gocv.Transform(g.difference, &g.score, g.scoreWeights)

	// Differences within the background noise floor are discarded.
	noiseFloor := g.score.MeanWithMask(g.backgroundMask)
	gocv.Threshold(g.score, &g.score, float32(noiseFloor.Val1)+noiseOffset, 255, gocv.ThresholdBinary)
	g.score.ConvertTo(foregroundMask, gocv.MatTypeCV8U)

	if config.ShowPrediction {
		showPrediction(g.view, g.background, *foregroundMask)
	}

	// Erode away speckle and thin lines.
	gocv.ErodeWithParams(*foregroundMask, foregroundMask, g.morphKernel, image.Pt(-1, -1), 2, int(gocv.BorderConstant))

	// A hand has to enter from outside the screen, so only blobs 4-connected
	// to the border survive; interior blobs are prediction noise. The blobs
	// merged with the border form one component, everything else is removed.
	gocv.Add(*foregroundMask, g.borderMask, &g.noiseMask)
	gocv.ConnectedComponentsWithParams(g.noiseMask, &g.labels, 4, gocv.MatTypeCV32S)
	borderLabel := gocv.NewScalar(float64(g.labels.GetIntAt(0, 0)), 0, 0, 0)
	gocv.InRangeWithScalar(g.labels, borderLabel, borderLabel, &g.borderBlobs)
	gocv.BitwiseNot(g.borderBlobs, &g.borderBlobs)
	gocv.BitwiseAnd(g.noiseMask, g.borderBlobs, &g.noiseMask)
	gocv.Subtract(*foregroundMask, g.noiseMask, foregroundMask)
	gocv.Subtract(*foregroundMask, g.borderMask, foregroundMask)

	// Dilate back out and smooth the jagged edges.
	gocv.DilateWithParams(*foregroundMask, foregroundMask, g.morphKernel, image.Pt(-1, -1), 2, gocv.BorderConstant, color.RGBA{})
	gocv.Blur(*foregroundMask, foregroundMask, image.Pt(5, 5))
	gocv.Threshold(*foregroundMask, foregroundMask, 192, 255, gocv.ThresholdBinary)

	// Shadow is any foreground pixel no brighter than ambient plus
	// shadowOffset. The background area is forced to full intensity first so
	// the brightly lit surface cannot read as shadow.
	gocv.BitwiseNot(*foregroundMask, &g.backgroundMask)
	gocv.CvtColor(view, &g.foregroundView, gocv.ColorBGRToGray)
	gocv.BitwiseOr(g.foregroundView, g.backgroundMask, &g.foregroundView)
	gocv.Threshold(g.foregroundView, shadowMask, g.ambientIntensity+shadowOffset, 255, gocv.ThresholdBinaryInv)

	if config.ShowMaskOutputs {
		showMasks(*foregroundMask, *shadowMask)
	}
}

// Stop clears the running flag and joins the predictor worker. It is
// idempotent once the worker has exited.
func (g *Generator) Stop() {
	if !g.running.Swap(false) {
		return
	}
	<-g.done
	g.queue.close()

	for _, m := range []*gocv.Mat{
		&g.view, &g.background, &g.difference, &g.score,
		&g.foregroundView, &g.backgroundMask, &g.noiseMask,
		&g.borderMask, &g.borderBlobs, &g.labels,
	} {
		m.Close()
	}
}

// predictorLoop polls the screen source at the prediction rate, predicts the
// camera appearance of each frame and publishes it into the latency queue.
// It owns its own calibrator built from the cloned properties so no Mats are
// shared with the main goroutine.
func (g *Generator) predictorLoop(screen capture.ScreenSource, properties calib.ViewProperties) {
	defer close(g.done)
	defer properties.Close()

	calibrator := calib.NewViewCalibratorFromProperties(properties)
	defer calibrator.Close()

	resolution := properties.OutputResolution

	rawCapture := gocv.NewMat()
	defer rawCapture.Close()
	resizeBuffer := gocv.NewMat()
	defer resizeBuffer.Close()
	frameBuffer := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV8UC3)
	defer frameBuffer.Close()
	predictionBuffer := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV32FC3)
	defer predictionBuffer.Close()
	predictionBuffer.SetTo(gocv.NewScalar(0, 0, 0, 0))

	for g.running.Load() {
		start := time.Now()

		// A timed-out read is non-fatal: the previous prediction is simply
		// republished below.
		if screen.Read(&rawCapture, predictionRate-time.Millisecond) {
			gocv.CvtColor(rawCapture, &resizeBuffer, gocv.ColorBGRAToBGR)
			gocv.Resize(resizeBuffer, &frameBuffer, resolution, 0, 0, gocv.InterpolationLinear)
			calibrator.Predict(frameBuffer, &predictionBuffer)
		}

		// Hold the publication cadence steady at the prediction rate.
		for time.Since(start) < predictionRate {
			runtime.Gosched()
		}

		g.queue.write(predictionBuffer)
	}
}

func showPrediction(view, background, rawMask gocv.Mat) {
	dbg := gocv.NewWindow("View vs. Prediction vs. Raw Mask")
	v8 := gocv.NewMat()
	defer v8.Close()
	b8 := gocv.NewMat()
	defer b8.Close()
	m8 := gocv.NewMat()
	defer m8.Close()

	view.ConvertTo(&v8, gocv.MatTypeCV8UC3)
	background.ConvertTo(&b8, gocv.MatTypeCV8UC3)
	gocv.CvtColor(rawMask, &m8, gocv.ColorGrayToBGR)

	pair := gocv.NewMat()
	defer pair.Close()
	row := gocv.NewMat()
	defer row.Close()
	gocv.Hconcat(v8, b8, &pair)
	gocv.Hconcat(pair, m8, &row)
	dbg.IMShow(row)
	dbg.WaitKey(1)
}

func showMasks(foreground, shadow gocv.Mat) {
	fgWin := gocv.NewWindow("Foreground Mask")
	fgWin.IMShow(foreground)
	shWin := gocv.NewWindow("Shadow Mask")
	shWin.IMShow(shadow)
	fgWin.WaitKey(1)
}
