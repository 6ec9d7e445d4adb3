package app

import (
	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/server"
)

// publishDebugFrame encodes the view/foreground/shadow triptych and pushes
// it into the MJPEG feed.
func publishDebugFrame(feed *server.Feed, view, foregroundMask, shadowMask gocv.Mat) {
	fg := gocv.NewMat()
	defer fg.Close()
	sh := gocv.NewMat()
	defer sh.Close()
	gocv.CvtColor(foregroundMask, &fg, gocv.ColorGrayToBGR)
	gocv.CvtColor(shadowMask, &sh, gocv.ColorGrayToBGR)

	pair := gocv.NewMat()
	defer pair.Close()
	row := gocv.NewMat()
	defer row.Close()
	gocv.Hconcat(view, fg, &pair)
	gocv.Hconcat(pair, sh, &row)

	buf, err := gocv.IMEncode(".jpg", row)
	if err != nil {
		return
	}
	defer buf.Close()

	feed.Publish(buf.GetBytes())
}
