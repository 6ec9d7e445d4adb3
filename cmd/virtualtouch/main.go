package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joen0001/virtualtouch/internal/app"
	"github.com/joen0001/virtualtouch/internal/calib"
	"github.com/joen0001/virtualtouch/internal/capture"
	"github.com/joen0001/virtualtouch/internal/config"
	"github.com/joen0001/virtualtouch/internal/pointer"
	"github.com/joen0001/virtualtouch/internal/server"
	"github.com/joen0001/virtualtouch/internal/store"
	"github.com/joen0001/virtualtouch/internal/tray"
)

func main() {
	useProfile := flag.Bool("profile", false, "load the latest saved calibration instead of calibrating")
	saveProfile := flag.Bool("save-profile", false, "save the calibration after a successful run")
	debugAddr := flag.String("debug-addr", "", "address for the debug HTTP server (disabled when empty)")
	monitor := flag.Int("monitor", 0, "monitor index observed by the camera")
	useTray := flag.Bool("tray", false, "run with a system tray toggle")
	flag.Parse()

	// Optional single positional argument: the camera hardware id.
	cameraID := config.DefaultCameraID
	if args := flag.Args(); len(args) == 1 {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatalf("Invalid camera id %q", args[0])
		}
		cameraID = id
	}

	fmt.Println("Virtual Touchscreen")

	// Initialize the profile store.
	st, err := openStore()
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	// Open the camera.
	camera := capture.NewWebcam(
		cameraID,
		image.Pt(config.WebcamWidth, config.WebcamHeight),
		config.WebcamFPS,
	)
	if err := camera.Open(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load webcam with hardware ID: %d\n", cameraID)
		os.Exit(-1)
	}
	defer camera.Close()
	fmt.Printf("Loaded webcam (%dx%d@%d)\n", camera.Width(), camera.Height(), camera.Framerate())

	// Calibrate the camera view, or rebuild it from the latest profile.
	outputResolution := image.Pt(config.OutputWidth, config.OutputHeight)
	var calibrator *calib.ViewCalibrator

	if *useProfile {
		props, err := st.Profiles().LoadLatest()
		if errors.Is(err, store.ErrNotFound) {
			log.Fatalf("No saved calibration profile; run once without -profile")
		}
		if err != nil {
			log.Fatalf("Failed to load calibration profile: %v", err)
		}
		calibrator = calib.NewViewCalibratorFromProperties(props)
		props.Close()
		log.Printf("Loaded calibration profile (%dx%d)", calibrator.OutputResolution().X, calibrator.OutputResolution().Y)
	} else {
		calibrator = calib.NewViewCalibrator(outputResolution)
		calibrator.Calibrate(camera, config.MinCoverage, config.SettleTimeMs*time.Millisecond)

		if *saveProfile {
			props := calibrator.Context()
			id, err := st.Profiles().Save(props)
			props.Close()
			if err != nil {
				log.Printf("Failed to save calibration profile: %v", err)
			} else {
				log.Printf("Saved calibration profile %s", id)
			}
		}
	}
	defer calibrator.Close()

	// Open the screen-content source for the predictor.
	screen, err := capture.OpenDisplay(*monitor)
	if err != nil {
		log.Fatalf("Failed to start screen capture: %v", err)
	}
	defer screen.Close()

	appConfig := app.Config{
		Camera:     camera,
		Screen:     screen,
		Calibrator: calibrator,
		Mouse:      pointer.NewMouse(calibrator.OutputResolution()),
	}

	// Start the debug server when requested.
	if *debugAddr != "" {
		feed := server.NewFeed()
		srv := server.New(server.Config{Store: st, Feed: feed})
		appConfig.Feed = feed
		appConfig.Fingertips = srv.Fingertips()

		go func() {
			log.Printf("Debug server listening on %s", *debugAddr)
			if err := srv.ListenAndServe(*debugAddr); err != nil {
				log.Printf("Debug server failed: %v", err)
			}
		}()
	}

	application := app.New(appConfig)

	if *useTray {
		t := tray.New()
		t.OnToggle(application.SetEnabled)
		t.OnQuit(application.Stop)

		go func() {
			if err := application.Run(); err != nil {
				log.Printf("Pipeline failed: %v", err)
			}
			t.Quit()
		}()

		// systray owns the main thread until quit.
		t.Run()
		return
	}

	if err := application.Run(); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}
}

// openStore opens the calibration profile database under the user's home
// directory.
func openStore() (*store.Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dbDir := filepath.Join(homeDir, ".virtualtouch")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, err
	}

	return store.New(filepath.Join(dbDir, "virtualtouch.db"))
}
