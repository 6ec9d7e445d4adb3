// Package track detects fingertips in the foreground mask by convex-hull
// arc analysis and tracks their identity across frames.
package track

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/config"
)

const (
	// Contours smaller than this area are treated as noise.
	minContourArea = 500

	// Arc test settings.
	arcMinScore   = 50
	arcTestLength = 450
	// Hull vertices whose squared distance is within this bound belong to
	// the same candidate cluster.
	nonmaxProximity = 500

	// Tracking settings.
	maxTrackingRange = 75
	maxTrackingLife  = 10
	focusResetTime   = 10
)

// Fingertip is a tracked fingertip candidate. The COM point is a local
// base-of-finger proxy taken from the contour either side of the tip. IDs
// are unique per track and never reused; Age counts the frames in which the
// track was detected, including frames after a short loss and recovery.
type Fingertip struct {
	Point image.Point
	COM   image.Point
	Age   int
	ID    uint64
}

type entry struct {
	tip  Fingertip
	life int
}

type candidate struct {
	tip image.Point
	com image.Point
}

// Tracker owns the detection state: the focus region, the tracking memory
// and the id counter. It is not safe for concurrent use.
type Tracker struct {
	canvas     image.Point
	region     image.Rectangle
	resetTimer int

	nextID     uint64
	memory     []entry
	candidates []candidate
}

// NewTracker creates a Tracker over the given working canvas.
func NewTracker(canvas image.Point) *Tracker {
	return &Tracker{
		canvas: canvas,
		region: image.Rect(0, 0, canvas.X, canvas.Y),
	}
}

// Region returns the rectangle contour search is currently confined to.
func (t *Tracker) Region() image.Rectangle {
	return t.region
}

// Focus restricts subsequent detection to a rectangle of the given size
// centred on point, clamped to the canvas, and rearms the reset timer.
// Without a fresh Focus the region expands back to the full canvas after
// focusResetTime detection calls.
func (t *Tracker) Focus(point image.Point, size image.Point) {
	half := size.Div(2)
	topLeft := image.Pt(
		max(point.X-half.X, 0),
		max(point.Y-half.Y, 0),
	)
	botRight := image.Pt(
		min(point.X+half.X, t.canvas.X-1),
		min(point.Y+half.Y, t.canvas.Y-1),
	)

	t.region = image.Rectangle{Min: topLeft, Max: botRight}
	t.resetTimer = focusResetTime
}

// Detect returns the fingertips of the current frame, inheriting ids from
// the tracking memory where a candidate matches a known track.
func (t *Tracker) Detect(foregroundMask, shadowMask gocv.Mat) []Fingertip {
	// Expire the focus region. The focused rectangle survives exactly
	// focusResetTime detection calls without a fresh Focus.
	t.resetTimer--
	if t.resetTimer < 0 {
		t.region = image.Rect(0, 0, foregroundMask.Cols(), foregroundMask.Rows())
	}

	t.findCandidates(foregroundMask)

	var fingertips []Fingertip

	// Match candidates against tracked fingertips, greedily in memory
	// order. Matched pairs leave both pools so each entry matches at most
	// one candidate and vice versa.
	for m := 0; m < len(t.memory); m++ {
		tracked := t.memory[m]

		matchIndex := -1
		closest := maxTrackingRange * maxTrackingRange
		for c := range t.candidates {
			dx := tracked.tip.Point.X - t.candidates[c].tip.X
			dy := tracked.tip.Point.Y - t.candidates[c].tip.Y
			if d := dx*dx + dy*dy; d < closest {
				closest = d
				matchIndex = c
			}
		}
		if matchIndex < 0 {
			continue
		}

		matched := t.candidates[matchIndex]
		fingertips = append(fingertips, Fingertip{
			Point: matched.tip,
			COM:   matched.com,
			Age:   tracked.tip.Age + 1,
			ID:    tracked.tip.ID,
		})

		t.memory[m] = t.memory[len(t.memory)-1]
		t.memory = t.memory[:len(t.memory)-1]
		m--

		t.candidates[matchIndex] = t.candidates[len(t.candidates)-1]
		t.candidates = t.candidates[:len(t.candidates)-1]
	}

	// Remaining candidates become new tracks.
	for _, c := range t.candidates {
		fingertips = append(fingertips, Fingertip{
			Point: c.tip,
			COM:   c.com,
			Age:   1,
			ID:    t.nextID,
		})
		t.nextID++
	}

	t.candidates = t.candidates[:0]
	t.updateMemory(fingertips)

	if config.ShowTrackingDebug {
		renderDebug(foregroundMask, shadowMask, fingertips)
	}

	return fingertips
}

// findCandidates fills the candidate pool from the foreground contours
// within the focus region.
func (t *Tracker) findCandidates(mask gocv.Mat) {
	region := mask.Region(t.region)
	defer region.Close()

	hierarchy := gocv.NewMat()
	defer hierarchy.Close()
	contours := gocv.FindContoursWithParams(
		region, &hierarchy, gocv.RetrievalExternal, gocv.ChainApproxNone,
	)
	defer contours.Close()

	offset := t.region.Min
	hull := gocv.NewMat()
	defer hull.Close()

	for i := 0; i < contours.Size(); i++ {
		pv := contours.At(i)
		if gocv.ContourArea(pv) < minContourArea {
			continue
		}

		// Translate the contour back into canvas coordinates.
		contour := pv.ToPoints()
		for j := range contour {
			contour[j] = contour[j].Add(offset)
		}

		// Hull vertices are the mask extremities; an outstretched finger
		// always terminates at one.
		gocv.ConvexHull(pv, &hull, false, false)
		n := hull.Rows()
		if n == 0 {
			continue
		}
		extremities := make([]int, n)
		for j := 0; j < n; j++ {
			extremities[j] = int(hull.GetIntAt(j, 0))
		}

		// Start the traversal at a hull vertex on the region edge so a
		// candidate cluster never spans the traversal wrap.
		start := 0
		for ; start < len(extremities); start++ {
			if t.onEdge(contour[extremities[start]]) {
				break
			}
		}

		t.scanHull(contour, extremities, start%len(extremities))
	}
}

// scanHull walks the hull vertices in order, grouping nearby vertices into
// clusters and keeping the best-scoring vertex of each cluster as a
// fingertip candidate.
func (t *Tracker) scanHull(contour []image.Point, extremities []int, start int) {
	last := extremities[start]
	best := -1
	bestScore := arcMinScore

	emit := func() {
		if best < 0 {
			return
		}
		n := len(contour)
		ahead := contour[mod(best+15, n)]
		behind := contour[mod(best-15, n)]
		t.candidates = append(t.candidates, candidate{
			tip: contour[best],
			com: ahead.Add(behind).Div(2),
		})
	}

	for i := 0; i < len(extremities); i++ {
		index := extremities[(start+i)%len(extremities)]
		score := t.arcScore(contour, index)

		// A vertex beyond the proximity bound closes the current cluster.
		v := contour[index].Sub(contour[last])
		if v.X*v.X+v.Y*v.Y > nonmaxProximity {
			emit()
			bestScore = arcMinScore
			best = -1
		}
		last = index

		if score > bestScore {
			bestScore = score
			best = index
		}
	}
}

// arcScore walks the contour outward from a hull vertex in both directions
// and counts how many steps stay within the fingertip arc characteristic:
// tightly curved at the tip, widening to finger width further out.
func (t *Tracker) arcScore(contour []image.Point, index int) int {
	ref := contour[index]
	if t.onEdge(ref) {
		return 0
	}

	n := len(contour)
	score := 0
	for i := 4; i < arcTestLength+4; i++ {
		prev := contour[mod(index-i, n)]
		next := contour[mod(index+i, n)]

		if t.onEdge(prev) || t.onEdge(next) {
			break
		}

		angle := math.Mod(
			360.0+signedAngle(next.Sub(ref), prev.Sub(ref)),
			360.0,
		)
		if angle < arcCharMin(i) || angle > arcCharMax(i) {
			break
		}
		score++
	}
	return score
}

// The arc characteristic curves are empirical; the coefficients are not to
// be rounded.
func arcCharMax(i int) float64 {
	x := float64(i)
	if i < 40 {
		return -0.05*x*x + 175
	}
	return -0.001*x*x + 75
}

func arcCharMin(i int) float64 {
	x := float64(i)
	return math.Max(-0.1*x*x+50, 10)
}

// signedAngle returns the signed angle in degrees from v to u.
func signedAngle(v, u image.Point) float64 {
	return math.Atan2(
		float64(u.X*v.Y-u.Y*v.X),
		float64(u.X*v.X+u.Y*v.Y),
	) * (180.0 / math.Pi)
}

// onEdge reports whether a point lies on the tracking region boundary. Edge
// candidates are rejected so the wrist crossing the screen border is never
// tracked as a fingertip.
func (t *Tracker) onEdge(p image.Point) bool {
	return p.X == t.region.Min.X ||
		p.Y == t.region.Min.Y ||
		p.X == t.region.Max.X-1 ||
		p.Y == t.region.Max.Y-1
}

// mod wraps an index into [0, n).
func mod(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// updateMemory ages out unmatched tracks and reseeds the memory from the
// current frame's fingertips at full life.
func (t *Tracker) updateMemory(fingertips []Fingertip) {
	for m := 0; m < len(t.memory); m++ {
		t.memory[m].life--
		if t.memory[m].life <= 0 {
			t.memory[m] = t.memory[len(t.memory)-1]
			t.memory = t.memory[:len(t.memory)-1]
			m--
		}
	}

	for _, f := range fingertips {
		t.memory = append(t.memory, entry{tip: f, life: maxTrackingLife})
	}
}
