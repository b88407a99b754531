// Package config reads partition config files.
//
// A config file is YAML with a model_params section holding the scene and partition parameters
// and a pipeline_params section holding how the visibility test is run. Sections and keys not
// used for partitioning, like the optimizer settings of a training config, are ignored so the
// same file can drive training and partitioning.
package config

import (
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"

	"go.viam.com/blockpart/partition"
)

// Default paths, relative to the source path.
const (
	DefaultPointCloud = "point_cloud.ply"
	DefaultOutputDir  = "output"
)

// Default pipeline parameters.
const (
	DefaultScaleModifier = 1.0
)

// ModelParams describe the scene and how it is split.
type ModelParams struct {
	SourcePath string `yaml:"source_path" json:"source_path" jsonschema:"description=directory holding the scene"`
	ModelPath  string `yaml:"model_path,omitempty" json:"model_path,omitempty"`
	// PointCloud is the Gaussian ply file. Relative paths are taken from SourcePath.
	PointCloud string `yaml:"point_cloud,omitempty" json:"point_cloud,omitempty"`
	// Cameras is a cameras.json file or a COLMAP model directory. Defaults to SourcePath.
	Cameras string `yaml:"cameras,omitempty" json:"cameras,omitempty"`

	BlockDim        []int     `yaml:"block_dim" json:"block_dim" jsonschema:"minItems=3,maxItems=3"`
	AABB            []float64 `yaml:"aabb,omitempty" json:"aabb,omitempty" jsonschema:"minItems=6,maxItems=6"`
	NumThreshold    int       `yaml:"num_threshold,omitempty" json:"num_threshold,omitempty" jsonschema:"minimum=1"`
	SSIMThreshold   float64   `yaml:"ssim_threshold,omitempty" json:"ssim_threshold,omitempty"`
	WhiteBackground bool      `yaml:"white_background,omitempty" json:"white_background,omitempty"`
	XYZLimited      bool      `yaml:"xyz_limited,omitempty" json:"xyz_limited,omitempty"`
	GrowthStep      float64   `yaml:"growth_step,omitempty" json:"growth_step,omitempty"`
	MaxExpansions   int       `yaml:"max_expansions,omitempty" json:"max_expansions,omitempty" jsonschema:"minimum=1"`
	ResolutionScale float64   `yaml:"resolution_scale,omitempty" json:"resolution_scale,omitempty"`
}

// PipelineParams describe how cameras are tested against blocks.
type PipelineParams struct {
	ScaleModifier   float64 `yaml:"scale_modifier,omitempty" json:"scale_modifier,omitempty"`
	SimpleSelection float64 `yaml:"simple_selection,omitempty" json:"simple_selection,omitempty" jsonschema:"minimum=0"`
	DisableInBlock  bool    `yaml:"disable_inblock,omitempty" json:"disable_inblock,omitempty"`
	DisableCulling  bool    `yaml:"disable_culling,omitempty" json:"disable_culling,omitempty"`
	Workers         int     `yaml:"workers,omitempty" json:"workers,omitempty" jsonschema:"minimum=1"`
}

// Params is the content of a config file.
type Params struct {
	ModelParams    ModelParams    `yaml:"model_params" json:"model_params"`
	PipelineParams PipelineParams `yaml:"pipeline_params,omitempty" json:"pipeline_params,omitempty"`
}

// DefaultParams returns the parameters a config file starts from.
func DefaultParams() Params {
	opts := partition.DefaultOptions()
	return Params{
		ModelParams: ModelParams{
			BlockDim:        opts.BlockDim[:],
			NumThreshold:    opts.NumThreshold,
			SSIMThreshold:   opts.SSIMThreshold,
			GrowthStep:      opts.GrowthStep,
			MaxExpansions:   opts.MaxExpansions,
			ResolutionScale: opts.ResolutionScale,
		},
		PipelineParams: PipelineParams{
			ScaleModifier: DefaultScaleModifier,
			Workers:       opts.Workers,
		},
	}
}

// Config is a config file read from disk.
type Config struct {
	// Path is the file the config was read from.
	Path string
	// Name is the file's base name without extension. It keys the run's artifacts.
	Name string
	Params
}

// NameFromPath returns the config name for the file at path.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ModelDir returns where run artifacts go: model_path, or output/<name> when unset.
func (c *Config) ModelDir() string {
	if c.ModelParams.ModelPath != "" {
		return c.ModelParams.ModelPath
	}
	return filepath.Join(DefaultOutputDir, c.Name)
}

// PointCloudPath returns the ply file to partition.
func (c *Config) PointCloudPath() string {
	return c.sourceRelative(c.ModelParams.PointCloud, DefaultPointCloud)
}

// CamerasPath returns the cameras file or directory.
func (c *Config) CamerasPath() string {
	return c.sourceRelative(c.ModelParams.Cameras, "")
}

func (c *Config) sourceRelative(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ModelParams.SourcePath, path)
}

// MaskPath returns where the camera/block mask is written.
func (c *Config) MaskPath(compress bool) string {
	return partition.MaskPath(c.ModelParams.SourcePath, c.Name, compress)
}

// Options converts the config into partition options.
func (c *Config) Options() (partition.Options, error) {
	mp, pp := c.ModelParams, c.PipelineParams
	if len(mp.BlockDim) != 3 {
		return partition.Options{}, partition.NewConfigError("block_dim", "needs 3 values, got %d", len(mp.BlockDim))
	}
	opts := partition.Options{
		BlockDim:        [3]int{mp.BlockDim[0], mp.BlockDim[1], mp.BlockDim[2]},
		AABB:            mp.AABB,
		NumThreshold:    mp.NumThreshold,
		SSIMThreshold:   mp.SSIMThreshold,
		WhiteBackground: mp.WhiteBackground,
		XYZLimited:      mp.XYZLimited,
		GrowthStep:      mp.GrowthStep,
		MaxExpansions:   mp.MaxExpansions,
		SimpleSelection: pp.SimpleSelection,
		DisableInBlock:  pp.DisableInBlock,
		DisableCulling:  pp.DisableCulling,
		ResolutionScale: mp.ResolutionScale,
		Workers:         pp.Workers,
	}
	return opts, nil
}

// Validate checks everything that can be checked without loading the scene.
func (c *Config) Validate() error {
	if c.ModelParams.SourcePath == "" {
		return partition.NewConfigError("source_path", "required")
	}
	if !(c.PipelineParams.ScaleModifier > 0) {
		return partition.NewConfigError("scale_modifier", "%v must be positive", c.PipelineParams.ScaleModifier)
	}
	opts, err := c.Options()
	if err != nil {
		return err
	}
	return opts.Validate(-1)
}

// Schema returns the JSON schema of a config file.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Params{})
}
