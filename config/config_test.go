package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"go.viam.com/test"

	"go.viam.com/blockpart/logging"
	"go.viam.com/blockpart/partition"
)

const gardenConfig = `
model_params:
  source_path: ${SCENE_ROOT}/garden
  block_dim: [2, 2, 1]
  aabb: [-4, -4, -1, 4, 4, 3]
  num_threshold: 1000
  ssim_threshold: 0.05
  white_background: true
  sh_degree: 3
pipeline_params:
  workers: 4
  convert_SHs_python: false
optim_params:
  iterations: 30000
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), name)
	test.That(t, os.WriteFile(fn, []byte(content), 0o600), test.ShouldBeNil)
	return fn
}

func TestRead(t *testing.T) {
	t.Setenv("SCENE_ROOT", "/data")
	fn := writeConfig(t, "garden_2x2.yaml", gardenConfig)
	logger, logs := logging.NewObservedTestLogger(t)

	cfg, err := Read(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Name, test.ShouldEqual, "garden_2x2")
	test.That(t, cfg.ModelParams.SourcePath, test.ShouldEqual, "/data/garden")
	test.That(t, cfg.ModelParams.BlockDim, test.ShouldResemble, []int{2, 2, 1})
	test.That(t, cfg.ModelParams.AABB, test.ShouldResemble, []float64{-4, -4, -1, 4, 4, 3})
	test.That(t, cfg.ModelParams.NumThreshold, test.ShouldEqual, 1000)
	test.That(t, cfg.ModelParams.WhiteBackground, test.ShouldBeTrue)
	test.That(t, cfg.PipelineParams.Workers, test.ShouldEqual, 4)
	test.That(t, cfg.Validate(), test.ShouldBeNil)

	// keys left out keep their defaults
	test.That(t, cfg.ModelParams.GrowthStep, test.ShouldEqual, partition.DefaultGrowthStep)
	test.That(t, cfg.ModelParams.MaxExpansions, test.ShouldEqual, partition.DefaultMaxExpansions)
	test.That(t, cfg.PipelineParams.ScaleModifier, test.ShouldEqual, DefaultScaleModifier)

	ignored := logs.FilterMessageSnippet("ignoring config keys").All()
	test.That(t, ignored, test.ShouldHaveLength, 1)
	keys := fmt.Sprint(ignored[0].ContextMap()["keys"])
	test.That(t, keys, test.ShouldEqual, "[model_params.sh_degree optim_params pipeline_params.convert_SHs_python]")

	opts, err := cfg.Options()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.BlockDim, test.ShouldResemble, [3]int{2, 2, 1})
	test.That(t, opts.BlockCount(), test.ShouldEqual, 4)
	test.That(t, opts.SSIMThreshold, test.ShouldEqual, 0.05)
	test.That(t, opts.Workers, test.ShouldEqual, 4)
	test.That(t, opts.SimpleSelection, test.ShouldEqual, 0.0)
}

func TestDefaults(t *testing.T) {
	cfg, err := FromReader("bare.yaml", strings.NewReader("model_params:\n  source_path: scenes/garden\n"),
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	want := DefaultParams()
	want.ModelParams.SourcePath = "scenes/garden"
	test.That(t, cmp.Diff(want, cfg.Params), test.ShouldBeEmpty)
	test.That(t, cfg.Path, test.ShouldEqual, "bare.yaml")
	test.That(t, cfg.Name, test.ShouldEqual, "bare")
}

func TestPaths(t *testing.T) {
	cfg := &Config{Name: "garden", Params: DefaultParams()}
	cfg.ModelParams.SourcePath = "scenes/garden"
	test.That(t, cfg.ModelDir(), test.ShouldEqual, filepath.Join("output", "garden"))
	test.That(t, cfg.PointCloudPath(), test.ShouldEqual, filepath.Join("scenes", "garden", "point_cloud.ply"))
	test.That(t, cfg.CamerasPath(), test.ShouldEqual, filepath.Join("scenes", "garden"))
	test.That(t, cfg.MaskPath(false), test.ShouldEqual, filepath.Join("scenes", "garden", "data_partitions", "garden.npy"))

	cfg.ModelParams.ModelPath = "/models/garden"
	cfg.ModelParams.PointCloud = "/clouds/garden.ply"
	cfg.ModelParams.Cameras = "cameras.json"
	test.That(t, cfg.ModelDir(), test.ShouldEqual, "/models/garden")
	test.That(t, cfg.PointCloudPath(), test.ShouldEqual, "/clouds/garden.ply")
	test.That(t, cfg.CamerasPath(), test.ShouldEqual, filepath.Join("scenes", "garden", "cameras.json"))

	test.That(t, NameFromPath("/configs/rubble.c9.yaml"), test.ShouldEqual, "rubble.c9")
}

func TestOverrides(t *testing.T) {
	t.Setenv("SCENE_ROOT", "/data")
	fn := writeConfig(t, "garden.yaml", gardenConfig)
	logger := logging.NewTestLogger(t)

	cfg, err := Read(fn, logger,
		"model_params.aabb=",
		"model_params.block_dim=[4, 1, 1]",
		"pipeline_params.simple_selection=1.5",
		"pipeline_params.disable_inblock=true",
	)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ModelParams.AABB, test.ShouldBeNil)
	test.That(t, cfg.ModelParams.BlockDim, test.ShouldResemble, []int{4, 1, 1})
	test.That(t, cfg.PipelineParams.SimpleSelection, test.ShouldEqual, 1.5)
	test.That(t, cfg.PipelineParams.DisableInBlock, test.ShouldBeTrue)

	// a section missing from the file is created
	cfg, err = FromReader("bare.yaml", strings.NewReader("model_params:\n  source_path: .\n"), logger,
		"pipeline_params.workers=2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.PipelineParams.Workers, test.ShouldEqual, 2)

	for _, bad := range []string{"workers", "optim_params.iterations=1", "model_params=3", "model_params.aabb=[1, 2"} {
		_, err = FromReader("bare.yaml", strings.NewReader(""), logger, bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestValidate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for _, tc := range []struct {
		field   string
		content string
	}{
		{"source_path", "model_params:\n  block_dim: [1, 1, 1]\n"},
		{"block_dim", "model_params:\n  source_path: .\n  block_dim: [2, 2]\n"},
		{"aabb", "model_params:\n  source_path: .\n  aabb: [0, 0, 0, 1, 1]\n"},
		{"num_threshold", "model_params:\n  source_path: .\n  num_threshold: 0\n"},
		{"ssim_threshold", "model_params:\n  source_path: .\n  ssim_threshold: 1.5\n"},
		{"scale_modifier", "model_params:\n  source_path: .\npipeline_params:\n  scale_modifier: 0\n"},
		{"workers", "model_params:\n  source_path: .\npipeline_params:\n  workers: -1\n"},
	} {
		t.Run(tc.field, func(t *testing.T) {
			cfg, err := FromReader("bad.yaml", strings.NewReader(tc.content), logger)
			test.That(t, err, test.ShouldBeNil)
			err = cfg.Validate()
			var cerr *partition.ConfigError
			test.That(t, errors.As(err, &cerr), test.ShouldBeTrue)
			test.That(t, cerr.Field, test.ShouldEqual, tc.field)
		})
	}

	_, err := FromReader("bad.yaml", strings.NewReader("model_params: [1, 2"), logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = FromReader("bad.yaml", strings.NewReader("model_params:\n  num_threshold: many\n"), logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = Read(filepath.Join(t.TempDir(), "missing.yaml"), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSchema(t *testing.T) {
	out, err := json.Marshal(Schema())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldContainSubstring, `"model_params"`)
	test.That(t, string(out), test.ShouldContainSubstring, `"ssim_threshold"`)
	test.That(t, string(out), test.ShouldContainSubstring, `"source_path"`)
}
