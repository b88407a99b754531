package partition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/blockpart/logging"
	"go.viam.com/blockpart/pointcloud"
	"go.viam.com/blockpart/render"
	"go.viam.com/blockpart/scene"
	"go.viam.com/blockpart/spatialmath"
)

// Runner partitions a scene and classifies its cameras block by block.
type Runner struct {
	Settings Settings
	Renderer render.Renderer
	Logger   logging.Logger

	// RunID identifies the run in logs and artifacts. A random one is used when empty.
	RunID string
	// DebugDir, when set, receives the renders of every render test.
	DebugDir string
	// OnBlock is called when a block is frozen, before its cameras are classified.
	OnBlock func(b *Block)
	// OnCamera is called after every classified camera.
	OnCamera func()
}

// Result is the outcome of a run.
type Result struct {
	Settings Settings
	Mask     *Mask
	// Blocks are the frozen blocks in id order.
	Blocks  []*Block
	Summary Summary
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run fills the camera/block mask. Blocks are processed in id order; within a block cameras may
// be classified in parallel. The first error aborts the run.
func (r *Runner) Run(ctx context.Context, cams []*scene.Camera, cloud *pointcloud.GaussianCloud) (*Result, error) {
	if err := cloud.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid point cloud")
	}
	if len(cams) == 0 {
		return nil, errors.New("no cameras to classify")
	}
	if r.Renderer == nil {
		return nil, errors.New("no renderer")
	}
	if r.RunID == "" {
		r.RunID = NewRunID()
	}
	logger := r.Logger

	grid := r.Settings.Grid()
	logger.Infow("partitioning scene",
		"run", r.RunID,
		"blocks", grid.Count(),
		"threshold", r.Settings.NumThreshold,
		"points", cloud.Size(),
		"cameras", len(cams),
		"aabb", r.Settings.Box.String())

	mapped := spatialmath.MapAll(r.Settings.Mapper, cloud.Positions)
	reachable := Reachable(mapped)
	partitioner := NewPartitioner(r.Settings, logger.Sublogger("grid"))
	classifier := NewClassifier(r.Settings, r.Renderer, logger.Sublogger("visibility"))
	classifier.DebugDir = r.DebugDir
	classifier.OnCamera = r.OnCamera

	res := &Result{
		Settings: r.Settings,
		Mask:     NewMask(len(cams), grid.Count()),
		Summary:  Summary{RunID: r.RunID, Cameras: len(cams)},
	}
	for id := 0; id < grid.Count(); id++ {
		block, err := partitioner.partition(ctx, id, mapped, reachable)
		if err != nil {
			return nil, err
		}
		if r.OnBlock != nil {
			r.OnBlock(block)
		}
		stats, err := classifier.Classify(ctx, block, cams, cloud, res.Mask)
		if err != nil {
			return nil, err
		}
		res.Blocks = append(res.Blocks, block)
		res.Summary.Blocks = append(res.Summary.Blocks, stats)
	}
	logger.Infow("partition complete", "run", r.RunID, "visible_pairs", res.Mask.Count())
	return res, nil
}

// ExportBlocks writes the points of every block to <dir>/block_<id>.ply.
func ExportBlocks(dir string, cloud *pointcloud.GaussianCloud, blocks []*Block, format pointcloud.PLYFormat) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	for _, b := range blocks {
		sub, err := cloud.Subset(b.InBlock)
		if err != nil {
			return errors.Wrapf(err, "block %d", b.ID)
		}
		fn := filepath.Join(dir, fmt.Sprintf("block_%03d.ply", b.ID))
		if err := pointcloud.WriteToFile(fn, sub, format); err != nil {
			return errors.Wrapf(err, "exporting block %d", b.ID)
		}
	}
	return nil
}
