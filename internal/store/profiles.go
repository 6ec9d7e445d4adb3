package store

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/joen0001/virtualtouch/internal/calib"
)

// Profile is a stored calibration run.
type Profile struct {
	ID        string
	CreatedAt time.Time
	Width     int
	Height    int
}

// ProfileRepository provides persistence for calibration profiles.
type ProfileRepository struct {
	db *sql.DB
}

// Profiles returns the profile repository for this store.
func (s *Store) Profiles() *ProfileRepository {
	return &ProfileRepository{db: s.db}
}

// Save stores calibration properties as a new profile and returns its id.
func (r *ProfileRepository) Save(props calib.ViewProperties) (string, error) {
	id := uuid.NewString()

	homography, err := encodeMat(props.ViewHomography)
	if err != nil {
		return "", fmt.Errorf("encode homography: %w", err)
	}
	correctionMap, err := encodeMat(props.CorrectionMap)
	if err != nil {
		return "", fmt.Errorf("encode correction map: %w", err)
	}
	reflectanceMap, err := encodeMat(props.ReflectanceMap)
	if err != nil {
		return "", fmt.Errorf("encode reflectance map: %w", err)
	}

	contour, err := json.Marshal(props.ScreenContour)
	if err != nil {
		return "", fmt.Errorf("encode screen contour: %w", err)
	}

	colourMap := new(bytes.Buffer)
	if err := binary.Write(colourMap, binary.LittleEndian, props.ColourMap[:]); err != nil {
		return "", fmt.Errorf("encode colour map: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO calibration_profiles
		 (id, width, height, view_homography, correction_map, screen_contour, colour_map, reflectance_map)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, props.OutputResolution.X, props.OutputResolution.Y,
		homography, correctionMap, string(contour), colourMap.Bytes(), reflectanceMap,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// LoadLatest returns the most recently saved calibration properties. The
// caller owns the Mats in the result.
func (r *ProfileRepository) LoadLatest() (calib.ViewProperties, error) {
	row := r.db.QueryRow(
		`SELECT width, height, view_homography, correction_map, screen_contour, colour_map, reflectance_map
		 FROM calibration_profiles ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	)

	var props calib.ViewProperties
	var width, height int
	var homography, correctionMap, colourMap, reflectanceMap []byte
	var contour string

	err := row.Scan(&width, &height, &homography, &correctionMap, &contour, &colourMap, &reflectanceMap)
	if err == sql.ErrNoRows {
		return props, ErrNotFound
	}
	if err != nil {
		return props, err
	}

	props.OutputResolution = image.Pt(width, height)

	if props.ViewHomography, err = decodeMat(homography); err != nil {
		return props, fmt.Errorf("decode homography: %w", err)
	}
	if props.CorrectionMap, err = decodeMat(correctionMap); err != nil {
		return props, fmt.Errorf("decode correction map: %w", err)
	}
	if props.ReflectanceMap, err = decodeMat(reflectanceMap); err != nil {
		return props, fmt.Errorf("decode reflectance map: %w", err)
	}

	if err := json.Unmarshal([]byte(contour), &props.ScreenContour); err != nil {
		return props, fmt.Errorf("decode screen contour: %w", err)
	}

	reader := bytes.NewReader(colourMap)
	if err := binary.Read(reader, binary.LittleEndian, props.ColourMap[:]); err != nil {
		return props, fmt.Errorf("decode colour map: %w", err)
	}

	return props, nil
}

// List returns the stored profiles, newest first.
func (r *ProfileRepository) List() ([]Profile, error) {
	rows, err := r.db.Query(
		`SELECT id, created_at, width, height
		 FROM calibration_profiles ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.Width, &p.Height); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Delete removes a profile by id.
func (r *ProfileRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM calibration_profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Mats are stored as a 12-byte header (rows, cols, type as int32) followed
// by the raw element bytes.
func encodeMat(mat gocv.Mat) ([]byte, error) {
	buf := new(bytes.Buffer)
	header := []int32{int32(mat.Rows()), int32(mat.Cols()), int32(mat.Type())}
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	buf.Write(mat.ToBytes())
	return buf.Bytes(), nil
}

func decodeMat(data []byte) (gocv.Mat, error) {
	reader := bytes.NewReader(data)
	header := make([]int32, 3)
	if err := binary.Read(reader, binary.LittleEndian, header); err != nil {
		return gocv.NewMat(), err
	}
	return gocv.NewMatFromBytes(
		int(header[0]), int(header[1]), gocv.MatType(header[2]),
		data[12:],
	)
}
