package store

import (
	"errors"
	"image"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/calib"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProperties() calib.ViewProperties {
	props := calib.ViewProperties{
		OutputResolution: image.Pt(8, 8),
		ViewHomography:   gocv.Eye(3, 3, gocv.MatTypeCV64F),
		CorrectionMap:    gocv.NewMatWithSize(8, 8, gocv.MatTypeCV32FC2),
		ScreenContour: []gocv.Point2f{
			{X: 10, Y: 12}, {X: 8, Y: 98}, {X: 95, Y: 100}, {X: 90, Y: 10},
		},
		ReflectanceMap: gocv.NewMatWithSize(8, 8, gocv.MatTypeCV32FC3),
	}
	props.CorrectionMap.SetFloatAt(3, 4*2, 17.5)
	props.ReflectanceMap.SetTo(gocv.NewScalar(1, 1, 1, 0))
	props.ColourMap[0] = calib.Vec3f{10, 20, 30}
	props.ColourMap[511] = calib.Vec3f{250, 251, 252}
	return props
}

func TestProfiles_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	props := testProperties()
	defer props.Close()

	id, err := s.Profiles().Save(props)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if id == "" {
		t.Fatal("save returned an empty id")
	}

	loaded, err := s.Profiles().LoadLatest()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	defer loaded.Close()

	if loaded.OutputResolution != props.OutputResolution {
		t.Errorf("resolution = %v, want %v", loaded.OutputResolution, props.OutputResolution)
	}
	if loaded.ViewHomography.GetDoubleAt(1, 1) != 1 {
		t.Errorf("homography (1,1) = %f, want 1", loaded.ViewHomography.GetDoubleAt(1, 1))
	}
	if got := loaded.CorrectionMap.GetFloatAt(3, 4*2); got != 17.5 {
		t.Errorf("correction map (3,4) = %f, want 17.5", got)
	}
	if loaded.ColourMap[0] != props.ColourMap[0] || loaded.ColourMap[511] != props.ColourMap[511] {
		t.Error("colour map did not round-trip")
	}
	if len(loaded.ScreenContour) != 4 || loaded.ScreenContour[2] != props.ScreenContour[2] {
		t.Errorf("screen contour = %v", loaded.ScreenContour)
	}
	if loaded.ReflectanceMap.Rows() != 8 || loaded.ReflectanceMap.Type() != gocv.MatTypeCV32FC3 {
		t.Error("reflectance map did not round-trip")
	}
}

func TestProfiles_LoadLatestEmpty(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Profiles().LoadLatest()
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestProfiles_ListAndDelete(t *testing.T) {
	s := newTestStore(t)

	props := testProperties()
	defer props.Close()

	first, err := s.Profiles().Save(props)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second, err := s.Profiles().Save(props)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	profiles, err := s.Profiles().List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("listed %d profiles, want 2", len(profiles))
	}
	for _, p := range profiles {
		if p.Width != 8 || p.Height != 8 {
			t.Errorf("profile %s size = %dx%d, want 8x8", p.ID, p.Width, p.Height)
		}
	}

	if err := s.Profiles().Delete(first); err != nil {
		t.Errorf("delete failed: %v", err)
	}
	if err := s.Profiles().Delete(first); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}

	profiles, err = s.Profiles().List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(profiles) != 1 || profiles[0].ID != second {
		t.Errorf("remaining profiles = %v, want only %s", profiles, second)
	}
}
