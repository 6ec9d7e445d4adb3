// Package config holds process-wide defaults and debug switches for the
// virtual touchscreen.
package config

// Camera and calibration defaults.
const (
	// DefaultCameraID is the hardware id used when none is given on the CLI.
	DefaultCameraID = 0

	// WebcamWidth and WebcamHeight are the requested capture resolution.
	WebcamWidth  = 640
	WebcamHeight = 480
	// WebcamFPS is the requested capture framerate.
	WebcamFPS = 30

	// OutputWidth and OutputHeight define the rectified working canvas.
	OutputWidth  = 640
	OutputHeight = 480

	// SettleTimeMs is how long a calibration pattern is left on screen
	// before the camera response is sampled.
	SettleTimeMs = 1000
	// MinCoverage is the minimum fraction of the output canvas area the
	// screen contour must cover for a calibration to be accepted.
	MinCoverage = 0.10
	// CaptureSamples is the number of frames averaged per calibration capture.
	CaptureSamples = 6
	// ChessboardCols and ChessboardRows size the lens calibration pattern.
	ChessboardCols = 22
	ChessboardRows = 18

	// PredictionDelay is the number of predicted frames the ring queue holds
	// back to model the display-to-camera round-trip latency.
	PredictionDelay = 3
)

// Debug switches. These are compile-time booleans: flip one on, rebuild,
// observe. Each opens a gocv window or writes extra lines to stderr.
const (
	ShowRawWebcam           = false
	ShowExposureSamples     = false
	ShowScreenDetectMasks   = false
	ShowChessboardDetection = false
	ShowPhotometricSamples  = false
	ShowPrediction          = false
	ShowMaskOutputs         = false
	ShowTrackingDebug       = false
	ShowRatioPatch          = false
	ShowLatencies           = false

	// AutoStartCalibration skips the initial "position your camera" prompt.
	AutoStartCalibration = false
	// SkipAutoExposure leaves the camera exposure untouched during calibration.
	SkipAutoExposure = false
)
