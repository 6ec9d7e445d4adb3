package mask

import (
	"image"
	"testing"

	"gocv.io/x/gocv"
)

func valueFrame(resolution image.Point, value float64) gocv.Mat {
	frame := gocv.NewMatWithSize(resolution.Y, resolution.X, gocv.MatTypeCV32FC3)
	frame.SetTo(gocv.NewScalar(value, value, value, 0))
	return frame
}

func frameValue(frame gocv.Mat) float32 {
	return frame.GetFloatAt(0, 0)
}

func TestFrameQueue_StartsZeroed(t *testing.T) {
	resolution := image.Pt(4, 4)
	q := newFrameQueue(3, resolution)
	defer q.close()

	dst := gocv.NewMat()
	defer dst.Close()

	q.read(&dst)
	if got := frameValue(dst); got != 0 {
		t.Errorf("initial frame value = %f, want 0", got)
	}
}

func TestFrameQueue_FixedDelay(t *testing.T) {
	resolution := image.Pt(4, 4)
	const delay = 3
	q := newFrameQueue(delay, resolution)
	defer q.close()

	dst := gocv.NewMat()
	defer dst.Close()

	// Reads serve the oldest of the last three writes: the consumer sees
	// frame n-2 after n writes, and zeros while the queue is filling.
	for n := 1; n <= 10; n++ {
		frame := valueFrame(resolution, float64(n))
		q.write(frame)
		frame.Close()

		q.read(&dst)
		want := float32(0)
		if n >= delay {
			want = float32(n - delay + 1)
		}
		if got := frameValue(dst); got != want {
			t.Errorf("after %d writes: read %f, want %f", n, got, want)
		}
	}
}

func TestFrameQueue_ReadDoesNotAdvance(t *testing.T) {
	resolution := image.Pt(4, 4)
	q := newFrameQueue(2, resolution)
	defer q.close()

	frame := valueFrame(resolution, 7)
	defer frame.Close()
	q.write(frame)

	dst := gocv.NewMat()
	defer dst.Close()

	q.read(&dst)
	first := frameValue(dst)
	q.read(&dst)
	second := frameValue(dst)

	if first != second {
		t.Errorf("consecutive reads differ: %f vs %f", first, second)
	}
}
