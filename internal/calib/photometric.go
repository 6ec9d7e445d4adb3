package calib

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/capture"
	"github.com/joen0001/virtualtouch/internal/config"
)

// findPhotometricModel fits the reflectance map from the rectified white
// sample and fills the colour map by displaying the 8x8x8 colour cube as two
// 16x16 tiled patterns.
func (v *ViewCalibrator) findPhotometricModel(
	cam capture.Camera,
	win *gocv.Window,
	settle time.Duration,
	whiteSample gocv.Mat,
) {
	// The reflectance at each pixel is its white response relative to the
	// mean white point. It absorbs surface albedo and camera vignetting.
	whitePoint := whiteSample.Mean()

	whiteResponse := gocv.NewMat()
	defer whiteResponse.Close()
	whiteSample.ConvertTo(&whiteResponse, gocv.MatTypeCV32FC3)

	if !v.reflectanceMap.Empty() {
		v.reflectanceMap.Close()
	}
	v.reflectanceMap = gocv.NewMatWithSize(
		v.outputResolution.Y, v.outputResolution.X, gocv.MatTypeCV32FC3,
	)

	refData, err := v.reflectanceMap.DataPtrFloat32()
	if err != nil {
		panic(err)
	}
	whiteData, err := whiteResponse.DataPtrFloat32()
	if err != nil {
		panic(err)
	}
	for i := 0; i < len(refData); i += 3 {
		refData[i+0] = whiteData[i+0] / float32(whitePoint.Val1)
		refData[i+1] = whiteData[i+1] / float32(whitePoint.Val2)
		refData[i+2] = whiteData[i+2] / float32(whitePoint.Val3)
	}

	captureBuffer := gocv.NewMat()
	defer captureBuffer.Close()
	sampleBuffer := gocv.NewMat()
	defer sampleBuffer.Close()
	cpuBuffer := gocv.NewMat()
	defer cpuBuffer.Close()

	// Two 16x16 patterns cover the 512 colour cube nodes.
	for k := 0; k < 2; k++ {
		pattern := gocv.NewMatWithSize(16, 16, gocv.MatTypeCV8UC3)

		for i := 0; i < 256; i++ {
			mapIndex := k*256 + i

			x := mapIndex % CMapSize
			y := (mapIndex / CMapSize) % CMapSize
			z := mapIndex / (CMapSize * CMapSize)

			r, c := i/16, i%16
			pattern.SetUCharAt(r, c*3+0, saturateUint8(float32(x)*CMapStep*255.0))
			pattern.SetUCharAt(r, c*3+1, saturateUint8(float32(y)*CMapStep*255.0))
			pattern.SetUCharAt(r, c*3+2, saturateUint8(float32(z)*CMapStep*255.0))
		}

		captureImage(cam, win, pattern, settle, config.CaptureSamples, &captureBuffer)
		v.Correct(captureBuffer, &sampleBuffer)
		sampleBuffer.ConvertTo(&cpuBuffer, gocv.MatTypeCV32FC3)

		if config.ShowPhotometricSamples {
			dbg := gocv.NewWindow(fmt.Sprintf("Photometric Pattern %d", k))
			dbg.IMShow(sampleBuffer)
			dbg.WaitKey(1)
		}

		// Average each tile, compensating for the local reflectance, and
		// store the result as the cube node colour.
		sampleW := v.outputResolution.X / pattern.Cols()
		sampleH := v.outputResolution.Y / pattern.Rows()

		cpuData, err := cpuBuffer.DataPtrFloat32()
		if err != nil {
			panic(err)
		}

		for r := 0; r < pattern.Rows(); r++ {
			for c := 0; c < pattern.Cols(); c++ {
				roi := image.Rect(c*sampleW, r*sampleH, (c+1)*sampleW, (r+1)*sampleH)

				var measured Vec3f
				for y := roi.Min.Y; y < roi.Max.Y; y++ {
					for x := roi.Min.X; x < roi.Max.X; x++ {
						base := (y*v.outputResolution.X + x) * 3
						measured[0] += cpuData[base+0] / refData[base+0]
						measured[1] += cpuData[base+1] / refData[base+1]
						measured[2] += cpuData[base+2] / refData[base+2]
					}
				}
				area := float32(roi.Dx() * roi.Dy())
				measured[0] /= area
				measured[1] /= area
				measured[2] /= area

				mapIndex := k*256 + r*pattern.Cols() + c
				v.colourMap[mapIndex] = measured
			}
		}

		pattern.Close()
	}
}

func saturateUint8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
