package scene

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/blockpart/logging"
)

// cameraJSON is one entry of the cameras.json file Gaussian splatting trainers write next to
// their point clouds. Rotation is camera-to-world, row major, and Position is the camera center.
type cameraJSON struct {
	ID       int           `json:"id"`
	ImgName  string        `json:"img_name"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Position [3]float64    `json:"position"`
	Rotation [3][3]float64 `json:"rotation"`
	Fx       float64       `json:"fx"`
	Fy       float64       `json:"fy"`
}

// LoadCameras reads the cameras found at path. A .json file is read as a cameras.json list; a
// directory is searched for a COLMAP text model (cameras.txt and images.txt), either directly or
// under sparse/0.
func LoadCameras(path string, logger logging.Logger) ([]*Camera, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var cams []*Camera
	switch {
	case info.IsDir():
		cams, err = loadColmapDir(path)
	case filepath.Ext(path) == ".json":
		cams, err = loadCamerasJSONFile(path)
	default:
		return nil, errors.Errorf("do not know how to read cameras from %q", path)
	}
	if err != nil {
		return nil, err
	}
	if len(cams) == 0 {
		return nil, errors.Errorf("no cameras found in %q", path)
	}
	logger.Debugw("loaded cameras", "path", path, "count", len(cams))
	return cams, nil
}

func loadCamerasJSONFile(path string) ([]*Camera, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	cams, err := ReadCamerasJSON(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", path)
	}
	return cams, nil
}

// ReadCamerasJSON decodes a cameras.json list, keeping file order.
func ReadCamerasJSON(r io.Reader) ([]*Camera, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	var entries []cameraJSON
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}

	cams := make([]*Camera, 0, len(entries))
	for _, e := range entries {
		var rot [9]float64
		for i := 0; i < 3; i++ {
			copy(rot[3*i:3*i+3], e.Rotation[i][:])
		}
		cam, err := NewCameraFromRotation(
			e.ID, e.ImgName,
			NewCenteredIntrinsics(e.Width, e.Height, e.Fx, e.Fy),
			rot,
			r3.Vector{X: e.Position[0], Y: e.Position[1], Z: e.Position[2]},
		)
		if err != nil {
			return nil, err
		}
		cams = append(cams, cam)
	}
	return cams, nil
}

// WriteCamerasJSON encodes cameras in the cameras.json layout. The principal point is not stored
// and is assumed to be the image center when read back.
func WriteCamerasJSON(w io.Writer, cams []*Camera) error {
	entries := make([]cameraJSON, 0, len(cams))
	for _, c := range cams {
		c2w := c.cameraToWorld
		e := cameraJSON{
			ID:       c.ID,
			ImgName:  c.Name,
			Width:    c.Intrinsics.Width,
			Height:   c.Intrinsics.Height,
			Position: [3]float64{c.center.X, c.center.Y, c.center.Z},
			Fx:       c.Intrinsics.Fx,
			Fy:       c.Intrinsics.Fy,
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				e.Rotation[i][j] = c2w.At(i, j)
			}
		}
		entries = append(entries, e)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func loadColmapDir(dir string) ([]*Camera, error) {
	for _, candidate := range []string{dir, filepath.Join(dir, "sparse", "0"), filepath.Join(dir, "sparse")} {
		camerasPath := filepath.Join(candidate, "cameras.txt")
		imagesPath := filepath.Join(candidate, "images.txt")
		if _, err := os.Stat(camerasPath); err != nil {
			continue
		}
		//nolint:gosec
		camerasFile, err := os.Open(camerasPath)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(camerasFile.Close)
		//nolint:gosec
		imagesFile, err := os.Open(imagesPath)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(imagesFile.Close)
		cams, err := ReadColmap(camerasFile, imagesFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reading COLMAP model in %q", candidate)
		}
		return cams, nil
	}
	return nil, errors.Errorf("no COLMAP text model found in %q", dir)
}

// colmapFocalLayout maps a COLMAP camera model to how many focal lengths lead its parameters.
var colmapFocalLayout = map[string]int{
	"SIMPLE_PINHOLE": 1,
	"PINHOLE":        2,
	"SIMPLE_RADIAL":  1,
	"RADIAL":         1,
	"OPENCV":         2,
	"FULL_OPENCV":    2,
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readColmapIntrinsics(r io.Reader) (map[int]PinholeCameraIntrinsics, error) {
	out := map[int]PinholeCameraIntrinsics{}
	scanner := bufio.NewScanner(r)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, errors.Errorf("cameras.txt line %d: too few fields", lineNum)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "cameras.txt line %d", lineNum)
		}
		focals, ok := colmapFocalLayout[fields[1]]
		if !ok {
			return nil, errors.Errorf("cameras.txt line %d: unsupported camera model %q", lineNum, fields[1])
		}
		width, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "cameras.txt line %d", lineNum)
		}
		height, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, errors.Wrapf(err, "cameras.txt line %d", lineNum)
		}
		params, err := parseFloats(fields[4:])
		if err != nil {
			return nil, errors.Wrapf(err, "cameras.txt line %d", lineNum)
		}
		if len(params) < focals+2 {
			return nil, errors.Errorf("cameras.txt line %d: model %s needs at least %d parameters", lineNum, fields[1], focals+2)
		}
		fx, fy := params[0], params[0]
		if focals == 2 {
			fy = params[1]
		}
		out[id] = PinholeCameraIntrinsics{
			Width:  width,
			Height: height,
			Fx:     fx,
			Fy:     fy,
			Ppx:    params[focals],
			Ppy:    params[focals+1],
		}
	}
	return out, scanner.Err()
}

// ReadColmap decodes a COLMAP text model. Cameras are returned sorted by image name; lens
// distortion parameters are ignored.
func ReadColmap(camerasTxt, imagesTxt io.Reader) ([]*Camera, error) {
	intrinsics, err := readColmapIntrinsics(camerasTxt)
	if err != nil {
		return nil, err
	}

	var cams []*Camera
	scanner := bufio.NewScanner(imagesTxt)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<26)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 10 {
			return nil, errors.Errorf("images.txt line %d: too few fields", lineNum)
		}
		imageID, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "images.txt line %d", lineNum)
		}
		pose, err := parseFloats(fields[1:8])
		if err != nil {
			return nil, errors.Wrapf(err, "images.txt line %d", lineNum)
		}
		cameraID, err := strconv.Atoi(fields[8])
		if err != nil {
			return nil, errors.Wrapf(err, "images.txt line %d", lineNum)
		}
		intr, ok := intrinsics[cameraID]
		if !ok {
			return nil, errors.Errorf("images.txt line %d: unknown camera id %d", lineNum, cameraID)
		}
		name := strings.Join(fields[9:], " ")
		cam, err := NewCameraFromWorldToCamera(
			imageID, name, intr,
			quat.Number{Real: pose[0], Imag: pose[1], Jmag: pose[2], Kmag: pose[3]},
			r3.Vector{X: pose[4], Y: pose[5], Z: pose[6]},
		)
		if err != nil {
			return nil, err
		}
		cams = append(cams, cam)

		// every image line is followed by its 2D observations, which may be empty
		if scanner.Scan() {
			lineNum++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(cams, func(i, j int) bool { return cams[i].Name < cams[j].Name })
	return cams, nil
}
