// Package partition splits a Gaussian scene into a regular grid of blocks and decides which
// training cameras have to observe each block.
//
// A run happens in two phases. Resolve validates the Options against the scene and fixes the
// scene box, producing an immutable Settings value. Run then partitions every block and
// classifies every camera against it, filling a Mask of shape (cameras, blocks).
package partition

import (
	"math"
	"slices"

	"go.viam.com/blockpart/logging"
	"go.viam.com/blockpart/pointcloud"
	"go.viam.com/blockpart/rimage"
	"go.viam.com/blockpart/scene"
	"go.viam.com/blockpart/spatialmath"
)

// Defaults for the optional settings.
const (
	DefaultNumThreshold    = 25000
	DefaultSSIMThreshold   = 0.1
	DefaultGrowthStep      = 0.01
	DefaultMaxExpansions   = 100000
	DefaultResolutionScale = 1.0
	DefaultWorkers         = 1
)

// Options are the user facing partition parameters, before the scene box is known.
type Options struct {
	// BlockDim is the number of blocks along x, y and z.
	BlockDim [3]int
	// AABB is the optional scene box as (min_x, min_y, min_z, max_x, max_y, max_z). When nil the
	// box is estimated from the camera poses.
	AABB []float64
	// NumThreshold is the minimum number of points every block must hold.
	NumThreshold int
	// SSIMThreshold is the dissimilarity above which removing a block counts as visible.
	SSIMThreshold   float64
	WhiteBackground bool
	// XYZLimited subdivides the scene box directly instead of its unisphere contraction.
	XYZLimited bool
	// GrowthStep is how far each block face moves per expansion, in domain units.
	GrowthStep    float64
	MaxExpansions int
	// SimpleSelection, when above 1, replaces the other strategies by a containment test against
	// the block boundary enlarged by this factor.
	SimpleSelection float64
	DisableInBlock  bool
	// DisableCulling forces the render test even when no point of the block lies beyond the
	// renderer's near clip.
	DisableCulling  bool
	ResolutionScale float64
	Workers         int
}

// DefaultOptions returns options with every optional field at its default and a single block.
func DefaultOptions() Options {
	return Options{
		BlockDim:        [3]int{1, 1, 1},
		NumThreshold:    DefaultNumThreshold,
		SSIMThreshold:   DefaultSSIMThreshold,
		GrowthStep:      DefaultGrowthStep,
		MaxExpansions:   DefaultMaxExpansions,
		ResolutionScale: DefaultResolutionScale,
		Workers:         DefaultWorkers,
	}
}

// BlockCount returns the number of blocks in the grid.
func (o Options) BlockCount() int {
	return o.BlockDim[0] * o.BlockDim[1] * o.BlockDim[2]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks every option. numPoints is the size of the scene; pass a negative value to
// skip the checks that depend on it.
func (o Options) Validate(numPoints int) error {
	for i, d := range o.BlockDim {
		if d < 1 {
			return NewConfigError("block_dim", "dimension %d is %d, must be positive", i, d)
		}
	}
	if o.AABB != nil {
		if _, err := spatialmath.NewAABBFromSlice(o.AABB); err != nil {
			return &ConfigError{Field: "aabb", Reason: err.Error()}
		}
	}
	if o.NumThreshold < 1 {
		return NewConfigError("num_threshold", "%d must be positive", o.NumThreshold)
	}
	if numPoints >= 0 && o.NumThreshold > numPoints {
		return NewConfigError("num_threshold", "%d exceeds the %d points of the scene", o.NumThreshold, numPoints)
	}
	if !(o.SSIMThreshold > 0 && o.SSIMThreshold < 1) {
		return NewConfigError("ssim_threshold", "%v must lie in (0, 1)", o.SSIMThreshold)
	}
	if !finite(o.GrowthStep) || o.GrowthStep <= 0 {
		return NewConfigError("growth_step", "%v must be positive", o.GrowthStep)
	}
	if o.MaxExpansions < 1 {
		return NewConfigError("max_expansions", "%d must be positive", o.MaxExpansions)
	}
	if !finite(o.SimpleSelection) || o.SimpleSelection < 0 {
		return NewConfigError("simple_selection", "%v must not be negative", o.SimpleSelection)
	}
	if !finite(o.ResolutionScale) || o.ResolutionScale <= 0 {
		return NewConfigError("resolution_scale", "%v must be positive", o.ResolutionScale)
	}
	if o.Workers < 1 {
		return NewConfigError("workers", "%d must be positive", o.Workers)
	}
	return nil
}

// Settings is the resolved, read only configuration of a run. It is passed by value.
type Settings struct {
	Options
	// Box is the scene box, either given or estimated.
	Box spatialmath.AABB
	// Mapper moves world points into the domain the grid subdivides.
	Mapper spatialmath.Mapper
}

// NewSettings fixes the scene box of already validated options.
func NewSettings(opts Options, box spatialmath.AABB) (Settings, error) {
	if err := box.Validate(); err != nil {
		return Settings{}, &DegenerateGeometryError{Reason: "inverted scene box", Err: err}
	}
	size := box.Size()
	if !(size.X > 0 && size.Y > 0 && size.Z > 0) {
		return Settings{}, &DegenerateGeometryError{Reason: "scene box " + box.String() + " has a zero extent"}
	}
	opts.AABB = slices.Clone(opts.AABB)
	s := Settings{Options: opts, Box: box}
	if opts.XYZLimited {
		s.Mapper = spatialmath.IdentityMapper{Box: box}
	} else {
		s.Mapper = spatialmath.UnisphereContraction{Box: box}
	}
	return s, nil
}

// Resolve validates opts against the scene and resolves the scene box.
func Resolve(
	opts Options, cams []*scene.Camera, cloud *pointcloud.GaussianCloud, logger logging.Logger,
) (Settings, error) {
	if err := opts.Validate(cloud.Size()); err != nil {
		return Settings{}, err
	}
	box, err := ResolveAABB(opts.AABB, cams, cloud, logger)
	if err != nil {
		return Settings{}, err
	}
	return NewSettings(opts, box)
}

// Background returns the render background color.
func (s Settings) Background() rimage.RGB {
	if s.WhiteBackground {
		return rimage.White
	}
	return rimage.Black
}

// Grid returns the block grid over the mapper's domain.
func (s Settings) Grid() Grid {
	return Grid{Dims: s.BlockDim, Domain: s.Mapper.Domain()}
}
