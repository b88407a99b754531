package scene

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/blockpart/logging"
)

const camerasJSON = `[
 {"id": 0, "img_name": "0001", "width": 100, "height": 80,
  "position": [1, 2, 3], "rotation": [[1, 0, 0], [0, 1, 0], [0, 0, 1]], "fx": 90, "fy": 95},
 {"id": 1, "img_name": "0002", "width": 100, "height": 80,
  "position": [0, 0, -4], "rotation": [[0, -1, 0], [1, 0, 0], [0, 0, 1]], "fx": 90, "fy": 95}
]`

const colmapCameras = `# Camera list with one line of data per camera:
#   CAMERA_ID, MODEL, WIDTH, HEIGHT, PARAMS[]
1 PINHOLE 640 480 500 510 320 240
2 SIMPLE_RADIAL 320 240 250 160 120 0.01
`

// the second image has no 2D observations, leaving an empty line behind it
const colmapImages = `# Image list with two lines of data per image:
#   IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME
#   POINTS2D[] as (X, Y, POINT3D_ID)
# Number of images: 2
7 1 0 0 0 0 0 5 1 b.png
10.0 20.0 -1 11.0 21.0 3
3 0.7071067811865476 0 0 0.7071067811865476 1 2 3 2 a.png

`

func TestReadCamerasJSON(t *testing.T) {
	cams, err := ReadCamerasJSON(strings.NewReader(camerasJSON))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cams, test.ShouldHaveLength, 2)

	test.That(t, cams[0].Name, test.ShouldEqual, "0001")
	test.That(t, cams[0].Center(), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, cams[0].Intrinsics.Ppx, test.ShouldEqual, 50.0)
	test.That(t, cams[0].Intrinsics.Fy, test.ShouldEqual, 95.0)

	// rotation is camera to world: the camera x axis points along world y
	right := cams[1].CameraToWorld()
	test.That(t, right.At(1, 0), test.ShouldEqual, 1.0)
	pc := cams[1].RotateToCameraFrame(r3.Vector{Y: 1})
	test.That(t, pc.X, test.ShouldAlmostEqual, 1)

	_, err = ReadCamerasJSON(strings.NewReader("{"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadCamerasJSON(strings.NewReader(`[{"id": 0, "width": 0, "height": 0}]`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCamerasJSONRoundTrip(t *testing.T) {
	cams, err := ReadCamerasJSON(strings.NewReader(camerasJSON))
	test.That(t, err, test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, WriteCamerasJSON(&buf, cams), test.ShouldBeNil)
	again, err := ReadCamerasJSON(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldHaveLength, len(cams))
	for i := range cams {
		test.That(t, again[i].ID, test.ShouldEqual, cams[i].ID)
		test.That(t, again[i].Center(), test.ShouldResemble, cams[i].Center())
		test.That(t, again[i].Intrinsics, test.ShouldResemble, cams[i].Intrinsics)
	}
}

func TestReadColmap(t *testing.T) {
	cams, err := ReadColmap(strings.NewReader(colmapCameras), strings.NewReader(colmapImages))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cams, test.ShouldHaveLength, 2)

	// sorted by image name
	test.That(t, cams[0].Name, test.ShouldEqual, "a.png")
	test.That(t, cams[0].ID, test.ShouldEqual, 3)
	test.That(t, cams[0].Intrinsics, test.ShouldResemble, PinholeCameraIntrinsics{
		Width: 320, Height: 240, Fx: 250, Fy: 250, Ppx: 160, Ppy: 120,
	})
	center := cams[0].Center()
	test.That(t, center.X, test.ShouldAlmostEqual, -2)
	test.That(t, center.Y, test.ShouldAlmostEqual, 1)
	test.That(t, center.Z, test.ShouldAlmostEqual, -3)

	test.That(t, cams[1].Name, test.ShouldEqual, "b.png")
	test.That(t, cams[1].Intrinsics.Fy, test.ShouldEqual, 510.0)
	test.That(t, cams[1].Center().Z, test.ShouldAlmostEqual, -5)
}

func TestReadColmapErrors(t *testing.T) {
	_, err := ReadColmap(strings.NewReader("1 EQUIRECTANGULAR 10 10 1 2 3\n"), strings.NewReader(""))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported camera model")

	_, err = ReadColmap(strings.NewReader("1 PINHOLE 10 10 1 2\n"), strings.NewReader(""))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = ReadColmap(strings.NewReader(colmapCameras), strings.NewReader("1 1 0 0 0 0 0 0 9 x.png\n\n"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown camera id")
}

func TestLoadCameras(t *testing.T) {
	logger := logging.NewTestLogger(t)

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "cameras.json")
	test.That(t, os.WriteFile(jsonPath, []byte(camerasJSON), 0o600), test.ShouldBeNil)
	cams, err := LoadCameras(jsonPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cams, test.ShouldHaveLength, 2)

	sparse := filepath.Join(dir, "scene", "sparse", "0")
	test.That(t, os.MkdirAll(sparse, 0o700), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(sparse, "cameras.txt"), []byte(colmapCameras), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(sparse, "images.txt"), []byte(colmapImages), 0o600), test.ShouldBeNil)
	cams, err = LoadCameras(filepath.Join(dir, "scene"), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cams, test.ShouldHaveLength, 2)

	_, err = LoadCameras(filepath.Join(dir, "missing.json"), logger)
	test.That(t, err, test.ShouldNotBeNil)

	txt := filepath.Join(dir, "cameras.txt")
	test.That(t, os.WriteFile(txt, []byte(colmapCameras), 0o600), test.ShouldBeNil)
	_, err = LoadCameras(txt, logger)
	test.That(t, err, test.ShouldNotBeNil)

	empty := filepath.Join(dir, "empty")
	test.That(t, os.MkdirAll(empty, 0o700), test.ShouldBeNil)
	_, err = LoadCameras(empty, logger)
	test.That(t, err, test.ShouldNotBeNil)

	emptyJSON := filepath.Join(dir, "empty.json")
	test.That(t, os.WriteFile(emptyJSON, []byte("[]"), 0o600), test.ShouldBeNil)
	_, err = LoadCameras(emptyJSON, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
