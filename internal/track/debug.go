package track

import (
	"image/color"

	"gocv.io/x/gocv"
)

var debugWindow *gocv.Window

// renderDebug draws the current masks and fingertips into a debug window.
// Matched tracks are green, fresh tracks yellow.
func renderDebug(foregroundMask, shadowMask gocv.Mat, fingertips []Fingertip) {
	if debugWindow == nil {
		debugWindow = gocv.NewWindow("Fingertip Debug Map")
	}

	render := gocv.NewMat()
	defer render.Close()
	gocv.CvtColor(foregroundMask, &render, gocv.ColorGrayToBGR)

	shadow := gocv.NewMat()
	defer shadow.Close()
	gocv.CvtColor(shadowMask, &shadow, gocv.ColorGrayToBGR)
	gocv.AddWeighted(render, 1.0, shadow, 0.25, 0, &render)

	for _, f := range fingertips {
		colour := color.RGBA{G: 255}
		if f.Age == 1 {
			colour = color.RGBA{R: 255, G: 255}
		}
		gocv.Circle(&render, f.Point, 2, colour, 2)
		gocv.Circle(&render, f.COM, 1, color.RGBA{R: 255, B: 255}, 1)
	}

	debugWindow.IMShow(render)
	debugWindow.WaitKey(1)
}
