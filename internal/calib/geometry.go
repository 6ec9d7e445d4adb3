package calib

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/config"
)

// Geometric calibration failures. All of them are retryable: the calibrate
// loop reports them to the user and runs another pass.
var (
	errNoScreenContour  = errors.New("no screen contour detected")
	errScreenNotQuad    = errors.New("screen contour is not a quadrilateral")
	errScreenOnBorder   = errors.New("screen touches the border of the image")
	errChessboardCorner = errors.New("chessboard corners not found")
)

// findGeometricModel fits the lens and homography model from the captured
// colour samples and chessboard sample. On success the correction map and
// view homography are updated and the raw screen corners are returned.
//
// The fit runs in two passes: a rough lens calibration from the raw
// chessboard corners, then a re-detection of the screen and chessboard on
// lens-corrected samples to anchor the final homography.
func (v *ViewCalibrator) findGeometricModel(
	samples []gocv.Mat,
	chessboardSample gocv.Mat,
	chessboardSize image.Point,
) ([]gocv.Point2f, error) {
	webcamResolution := image.Pt(chessboardSample.Cols(), chessboardSample.Rows())

	screenCorners, err := detectScreen(samples)
	if err != nil {
		return nil, fmt.Errorf("screen detection: %w", err)
	}

	chessboardCorners, err := detectChessboard(screenCorners, chessboardSample, chessboardSize)
	if err != nil {
		return nil, fmt.Errorf("chessboard detection: %w", err)
	}

	// The ideal chessboard corner grid in output coordinates.
	squareW := float32(v.outputResolution.X) / float32(chessboardSize.X)
	squareH := float32(v.outputResolution.Y) / float32(chessboardSize.Y)

	var idealChessboardCorners []gocv.Point2f
	for r := 1; r < chessboardSize.Y; r++ {
		for c := 1; c < chessboardSize.X; c++ {
			idealChessboardCorners = append(idealChessboardCorners, gocv.Point2f{
				X: float32(c) * squareW,
				Y: float32(r) * squareH,
			})
		}
	}

	// Solve the intrinsic camera model from the single corner sample.
	idealPoints := make([]gocv.Point3f, len(idealChessboardCorners))
	for i, p := range idealChessboardCorners {
		idealPoints[i] = gocv.Point3f{X: p.X, Y: p.Y, Z: 0}
	}
	objectPoints := gocv.NewPoints3fVectorFromPoints([][]gocv.Point3f{idealPoints})
	defer objectPoints.Close()
	imagePoints := gocv.NewPoints2fVectorFromPoints([][]gocv.Point2f{chessboardCorners})
	defer imagePoints.Close()

	cameraMatrix := gocv.NewMat()
	defer cameraMatrix.Close()
	distCoeffs := gocv.NewMat()
	defer distCoeffs.Close()
	rvecs := gocv.NewMat()
	defer rvecs.Close()
	tvecs := gocv.NewMat()
	defer tvecs.Close()

	gocv.CalibrateCamera(
		objectPoints, imagePoints, webcamResolution,
		&cameraMatrix, &distCoeffs, &rvecs, &tvecs, gocv.CalibFlag(0),
	)

	optimalMatrix, _ := gocv.GetOptimalNewCameraMatrixWithParams(
		cameraMatrix, distCoeffs, webcamResolution, 1.0, webcamResolution, false,
	)
	defer optimalMatrix.Close()

	// Bake the intrinsics into a per-pixel lens correction map.
	lensMap := gocv.NewMat()
	defer lensMap.Close()
	noMap := gocv.NewMat()
	defer noMap.Close()
	noRotation := gocv.NewMat()
	defer noRotation.Close()

	gocv.InitUndistortRectifyMap(
		cameraMatrix, distCoeffs, noRotation, optimalMatrix,
		webcamResolution, int(gocv.MatTypeCV32FC2), lensMap, noMap,
	)

	// Undistort the samples and redo both detections on corrected images.
	correctedChessboard := gocv.NewMat()
	defer correctedChessboard.Close()
	gocv.Remap(
		chessboardSample, &correctedChessboard, &lensMap, &noMap,
		gocv.InterpolationLanczos4, gocv.BorderConstant, color.RGBA{},
	)

	correctedSamples := make([]gocv.Mat, len(samples))
	for i := range samples {
		correctedSamples[i] = gocv.NewMat()
		gocv.Remap(
			samples[i], &correctedSamples[i], &lensMap, &noMap,
			gocv.InterpolationLanczos4, gocv.BorderConstant, color.RGBA{},
		)
	}
	defer func() {
		for i := range correctedSamples {
			correctedSamples[i].Close()
		}
	}()

	correctedScreenCorners, err := detectScreen(correctedSamples)
	if err != nil {
		return nil, fmt.Errorf("screen detection on corrected samples: %w", err)
	}

	correctedChessboardCorners, err := detectChessboard(
		correctedScreenCorners, correctedChessboard, chessboardSize,
	)
	if err != nil {
		return nil, fmt.Errorf("chessboard detection on corrected sample: %w", err)
	}

	// The homography is anchored on both the screen corners and the full
	// chessboard grid so the fit is constrained across the whole surface.
	screenPoints := append(
		append([]gocv.Point2f(nil), correctedScreenCorners...),
		correctedChessboardCorners...,
	)

	br := gocv.Point2f{X: float32(v.outputResolution.X), Y: float32(v.outputResolution.Y)}
	idealCorners := []gocv.Point2f{
		{X: 0, Y: 0},
		{X: 0, Y: br.Y},
		{X: br.X, Y: br.Y},
		{X: br.X, Y: 0},
	}
	idealCorners = append(idealCorners, idealChessboardCorners...)

	srcMat := point2fMat(screenPoints)
	defer srcMat.Close()
	dstMat := point2fMat(idealCorners)
	defer dstMat.Close()

	inlierMask := gocv.NewMat()
	defer inlierMask.Close()

	homography := gocv.FindHomography(
		srcMat, &dstMat, gocv.HomographyMethodRANSAC, 3,
		&inlierMask, 1000, 0.999,
	)
	v.viewHomography.Close()
	v.viewHomography = homography

	// Warp the lens map through the homography to bake both corrections
	// into a single remap.
	gocv.WarpPerspectiveWithParams(
		lensMap, &v.correctionMap, v.viewHomography, v.outputResolution,
		gocv.InterpolationLanczos4, gocv.BorderConstant, color.RGBA{},
	)

	return screenCorners, nil
}

// detectScreen locates the display in the camera image by intersecting the
// Otsu-thresholded colour difference masks of all calibration samples. The
// returned corners are sub-pixel refined and ordered counter-clockwise from
// the top left.
func detectScreen(samples []gocv.Mat) ([]gocv.Point2f, error) {
	if len(samples) != len(calibrationColours) {
		panic("calib: sample count must match the calibration colours")
	}

	difference := gocv.NewMat()
	defer difference.Close()
	colourMask := gocv.NewMat()
	defer colourMask.Close()

	mask := gocv.NewMatWithSize(samples[0].Rows(), samples[0].Cols(), gocv.MatTypeCV8UC1)
	defer mask.Close()
	mask.SetTo(gocv.NewScalar(255, 0, 0, 0))

	for i, colour := range calibrationColours {
		solid := gocv.NewMatWithSizeFromScalar(
			gocv.NewScalar(float64(colour.B), float64(colour.G), float64(colour.R), 0),
			samples[i].Rows(), samples[i].Cols(), gocv.MatTypeCV8UC3,
		)
		gocv.AbsDiff(samples[i], solid, &difference)
		solid.Close()

		gocv.CvtColor(difference, &colourMask, gocv.ColorBGRToGray)
		gocv.Threshold(colourMask, &colourMask, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

		gocv.BitwiseAnd(mask, colourMask, &mask)

		if config.ShowScreenDetectMasks {
			dbg := gocv.NewWindow(fmt.Sprintf("Screen Mask %d", i))
			dbg.IMShow(colourMask)
			dbg.WaitKey(1)
		}
	}

	// The screen should be the largest surviving external contour.
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil, errNoScreenContour
	}

	bestIndex, bestArea := 0, 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			bestIndex, bestArea = i, area
		}
	}

	// A properly detected screen simplifies to exactly four vertices.
	approx := gocv.ApproxPolyDP(contours.At(bestIndex), 4, true)
	defer approx.Close()
	if approx.Size() != 4 {
		return nil, fmt.Errorf("%w: %d vertices", errScreenNotQuad, approx.Size())
	}

	// A vertex on the image border means part of the screen is cut off.
	corners := make([]gocv.Point2f, 0, 4)
	for i := 0; i < approx.Size(); i++ {
		vertex := approx.At(i)
		if vertex.X <= 0 || vertex.Y <= 0 || vertex.X >= mask.Cols()-1 || vertex.Y >= mask.Rows()-1 {
			return nil, errScreenOnBorder
		}
		corners = append(corners, gocv.Point2f{X: float32(vertex.X), Y: float32(vertex.Y)})
	}

	// Refine to sub-pixel accuracy against the mask.
	cornerMat := point2fMat(corners)
	defer cornerMat.Close()
	gocv.CornerSubPix(
		mask, &cornerMat, image.Pt(30, 30), image.Pt(-1, -1),
		gocv.NewTermCriteria(gocv.Count, 500, 0),
	)
	for i := range corners {
		corners[i] = gocv.Point2f{
			X: cornerMat.GetFloatAt(i, 0),
			Y: cornerMat.GetFloatAt(i, 1),
		}
	}

	return orderCorners(corners), nil
}

// orderCorners sorts four corners counter-clockwise from the top left by
// assigning each to the quadrant it occupies around the centroid.
func orderCorners(corners []gocv.Point2f) []gocv.Point2f {
	var cx, cy float32
	for _, c := range corners {
		cx += c.X
		cy += c.Y
	}
	cx *= 0.25
	cy *= 0.25

	ordered := make([]gocv.Point2f, 4)
	for _, c := range corners {
		var index int
		if c.X < cx {
			if c.Y < cy {
				index = 0
			} else {
				index = 1
			}
		} else {
			if c.Y < cy {
				index = 3
			} else {
				index = 2
			}
		}
		ordered[index] = c
	}
	return ordered
}

// detectChessboard finds the inner chessboard corners in a captured sample.
// The corner finder needs a bordered pattern, so the area outside the
// detected screen polygon is filled white first.
func detectChessboard(
	screenBounds []gocv.Point2f,
	chessboardSample gocv.Mat,
	chessboardSize image.Point,
) ([]gocv.Point2f, error) {
	innerSize := image.Pt(chessboardSize.X-1, chessboardSize.Y-1)

	// Composite the sample onto a white surround: fill the screen polygon
	// white on black, invert, then add the sample.
	screenPoly := make([]image.Point, len(screenBounds))
	for i, p := range screenBounds {
		screenPoly[i] = image.Pt(int(p.X), int(p.Y))
	}
	contour := gocv.NewPointsVectorFromPoints([][]image.Point{screenPoly})
	defer contour.Close()

	bordered := gocv.NewMatWithSize(
		chessboardSample.Rows(), chessboardSample.Cols(), gocv.MatTypeCV8UC3,
	)
	defer bordered.Close()
	bordered.SetTo(gocv.NewScalar(0, 0, 0, 0))
	gocv.DrawContours(&bordered, contour, -1, color.RGBA{R: 255, G: 255, B: 255}, -1)
	gocv.BitwiseNot(bordered, &bordered)
	gocv.Add(bordered, chessboardSample, &bordered)

	if config.ShowChessboardDetection {
		dbg := gocv.NewWindow("Detection Pattern")
		dbg.IMShow(bordered)
		dbg.WaitKey(1)
	}

	cornerMat := gocv.NewMat()
	defer cornerMat.Close()
	if !gocv.FindChessboardCorners(bordered, innerSize, &cornerMat) {
		return nil, errChessboardCorner
	}

	corners := make([]gocv.Point2f, cornerMat.Rows())
	for i := range corners {
		corners[i] = gocv.Point2f{
			X: cornerMat.GetFloatAt(i, 0),
			Y: cornerMat.GetFloatAt(i, 1),
		}
	}
	return corners, nil
}

// point2fMat packs points into an Nx1 CV_32FC2 Mat for the calib3d APIs.
func point2fMat(points []gocv.Point2f) gocv.Mat {
	mat := gocv.NewMatWithSize(len(points), 1, gocv.MatTypeCV32FC2)
	for i, p := range points {
		mat.SetFloatAt(i, 0, p.X)
		mat.SetFloatAt(i, 1, p.Y)
	}
	return mat
}
