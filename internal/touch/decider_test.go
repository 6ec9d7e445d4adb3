package touch

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/track"
)

const (
	maskW = 640
	maskH = 480
)

func blankMask() gocv.Mat {
	mask := gocv.NewMatWithSize(maskH, maskW, gocv.MatTypeCV8UC1)
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))
	return mask
}

func fullMask() gocv.Mat {
	mask := gocv.NewMatWithSize(maskH, maskW, gocv.MatTypeCV8UC1)
	mask.SetTo(gocv.NewScalar(255, 0, 0, 0))
	return mask
}

// fingerScene builds foreground and shadow masks around a fingertip at
// (300,280) with its base proxy at (300,300). The shadow square is sized to
// hit the requested ratio against the foreground disc.
func fingerScene(shadowSide int) (gocv.Mat, gocv.Mat) {
	fg := blankMask()
	shadow := blankMask()

	white := color.RGBA{R: 255, G: 255, B: 255}
	gocv.Circle(&fg, image.Pt(300, 300), 20, white, -1)
	if shadowSide > 0 {
		gocv.Rectangle(
			&shadow,
			image.Rect(305, 305, 305+shadowSide, 305+shadowSide),
			white, -1,
		)
	}
	return fg, shadow
}

func tip(id uint64, age int) track.Fingertip {
	return track.Fingertip{
		Point: image.Pt(300, 280),
		COM:   image.Pt(300, 300),
		Age:   age,
		ID:    id,
	}
}

func TestDecide_NoFingertips(t *testing.T) {
	d := NewDecider()
	fg := blankMask()
	defer fg.Close()
	shadow := blankMask()
	defer shadow.Close()

	if _, ok := d.Decide(nil, fg, shadow); ok {
		t.Error("expected no action for empty fingertip list")
	}
}

func TestDecide_AgeFilter(t *testing.T) {
	d := NewDecider()
	fg, shadow := fingerScene(0)
	defer fg.Close()
	defer shadow.Close()

	// Young fingertips are noise and never drive the pointer.
	if _, ok := d.Decide([]track.Fingertip{tip(1, 4)}, fg, shadow); ok {
		t.Error("expected no action for age below the minimum")
	}

	if _, ok := d.Decide([]track.Fingertip{tip(1, 5)}, fg, shadow); !ok {
		t.Error("expected action at the minimum age")
	}
}

func TestDecide_TouchHoverAndReject(t *testing.T) {
	tests := []struct {
		name       string
		shadowSide int
		wantOK     bool
		wantTouch  bool
	}{
		{name: "no shadow touches", shadowSide: 0, wantOK: true, wantTouch: true},
		{name: "quarter shadow hovers", shadowSide: 18, wantOK: true, wantTouch: false},
		{name: "large shadow rejects", shadowSide: 25, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecider()
			fg, shadow := fingerScene(tt.shadowSide)
			defer fg.Close()
			defer shadow.Close()

			action, ok := d.Decide([]track.Fingertip{tip(1, 10)}, fg, shadow)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if action.Touch != tt.wantTouch {
				t.Errorf("touch = %v, want %v", action.Touch, tt.wantTouch)
			}
			if action.Point != image.Pt(300, 280) {
				t.Errorf("point = %v, want (300,280)", action.Point)
			}
		})
	}
}

func TestDecide_StickySelection(t *testing.T) {
	d := NewDecider()
	fg := fullMask()
	defer fg.Close()
	shadow := blankMask()
	defer shadow.Close()

	at := func(id uint64, age int, p image.Point) track.Fingertip {
		return track.Fingertip{Point: p, COM: p.Add(image.Pt(0, 20)), Age: age, ID: id}
	}

	older := at(3, 20, image.Pt(300, 280))
	younger := at(7, 10, image.Pt(500, 380))

	// With no history the oldest candidate wins.
	action, ok := d.Decide([]track.Fingertip{younger, older}, fg, shadow)
	if !ok {
		t.Fatal("expected an action")
	}
	if action.Point != older.Point {
		t.Fatalf("picked %v, want the oldest candidate at %v", action.Point, older.Point)
	}

	// The selected id stays sticky even when an older candidate appears.
	oldest := at(9, 30, image.Pt(100, 100))
	action, ok = d.Decide([]track.Fingertip{oldest, older, younger}, fg, shadow)
	if !ok {
		t.Fatal("expected an action")
	}
	if action.Point != older.Point {
		t.Errorf("picked %v, want the sticky candidate at %v", action.Point, older.Point)
	}

	// Once the sticky id disappears the oldest remaining candidate takes
	// over.
	action, ok = d.Decide([]track.Fingertip{younger, oldest}, fg, shadow)
	if !ok {
		t.Fatal("expected an action after the sticky candidate left")
	}
	if action.Point != oldest.Point {
		t.Errorf("picked %v, want the oldest candidate at %v", action.Point, oldest.Point)
	}
}

func TestDecide_ZeroForeground(t *testing.T) {
	d := NewDecider()
	fg := blankMask()
	defer fg.Close()
	shadow := fullMask()
	defer shadow.Close()

	if _, ok := d.Decide([]track.Fingertip{tip(1, 10)}, fg, shadow); ok {
		t.Error("expected no action when the foreground is empty")
	}
}
