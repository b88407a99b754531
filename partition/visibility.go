package partition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/blockpart/logging"
	"go.viam.com/blockpart/pointcloud"
	"go.viam.com/blockpart/render"
	"go.viam.com/blockpart/rimage"
	"go.viam.com/blockpart/scene"
	"go.viam.com/blockpart/spatialmath"
)

// Decision records which strategy settled a camera/block cell.
type Decision int

// The strategies, in the order they are tried.
const (
	DecidedByEnlarged Decision = iota
	DecidedByInBlock
	DecidedByCulling
	DecidedByRender
)

func (d Decision) String() string {
	switch d {
	case DecidedByEnlarged:
		return "enlarged"
	case DecidedByInBlock:
		return "in_block"
	case DecidedByCulling:
		return "culled"
	case DecidedByRender:
		return "render"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// BlockStats counts how the cells of one block were decided.
type BlockStats struct {
	Block    int
	Points   int
	Cameras  int
	Enlarged int
	InBlock  int
	Culled   int
	Rendered int
}

func (s *BlockStats) record(d Decision) {
	switch d {
	case DecidedByEnlarged:
		s.Enlarged++
	case DecidedByInBlock:
		s.InBlock++
	case DecidedByCulling:
		s.Culled++
	case DecidedByRender:
		s.Rendered++
	}
}

// Classifier decides, per frozen block, which cameras observe it.
type Classifier struct {
	settings Settings
	renderer render.Renderer
	logger   logging.Logger

	// culling is only sound for renderers that clip at a known depth
	cull     bool
	nearClip float64

	// DebugDir, when set, receives the full and block removed renders of every render test.
	DebugDir string
	// OnCamera, when set, is called after every classified camera. It must be safe for concurrent
	// use when more than one worker is configured.
	OnCamera func()
}

// NewClassifier returns a classifier rendering with r.
func NewClassifier(s Settings, r render.Renderer, logger logging.Logger) *Classifier {
	c := &Classifier{settings: s, renderer: r, logger: logger}
	if nc, ok := r.(render.NearClipper); ok && !s.DisableCulling {
		c.cull, c.nearClip = true, nc.NearClip()
	}
	return c
}

// blockView is the per block state shared by every camera of the block.
type blockView struct {
	block    *Block
	enlarged spatialmath.AABB
	// positions of the in block points, for culling
	inside []r3.Vector

	cloud      *pointcloud.GaussianCloud
	complement func() (*pointcloud.GaussianCloud, error)
}

// Classify fills column block.ID of mask with the cameras that observe block. Each camera is
// decided by the first strategy that applies:
//
//  1. With SimpleSelection above 1, the camera observes the block iff its mapped center lies
//     strictly inside the frozen boundary enlarged by that factor. No other strategy is tried.
//  2. Unless DisableInBlock, a mapped center strictly inside the frozen boundary observes it.
//  3. Otherwise the scene is rendered with and without the block and the camera observes the
//     block iff 1 - SSIM exceeds SSIMThreshold. When the renderer is a render.NearClipper and no
//     block point lies beyond its near clip, nothing can change and the render is skipped.
func (c *Classifier) Classify(
	ctx context.Context, block *Block, cams []*scene.Camera, cloud *pointcloud.GaussianCloud, mask *Mask,
) (BlockStats, error) {
	if block.State != BlockFrozen {
		return BlockStats{}, errors.Errorf("block %d is still %s", block.ID, block.State)
	}
	if rows, cols := mask.Shape(); rows != len(cams) || block.ID >= cols {
		return BlockStats{}, errors.Errorf("mask of shape (%d, %d) cannot hold camera %d of block %d",
			rows, cols, len(cams)-1, block.ID)
	}
	if len(block.InBlock) != cloud.Size() {
		return BlockStats{}, errors.Errorf("block %d was partitioned over %d points, the cloud has %d",
			block.ID, len(block.InBlock), cloud.Size())
	}

	view := &blockView{
		block:    block,
		enlarged: block.Enlarged(c.settings.SimpleSelection),
		cloud:    cloud,
		complement: sync.OnceValues(func() (*pointcloud.GaussianCloud, error) {
			return cloud.Complement(block.InBlock)
		}),
	}
	for i, in := range block.InBlock {
		if in {
			view.inside = append(view.inside, cloud.Positions[i])
		}
	}

	decisions := make([]Decision, len(cams))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.settings.Workers)
	for i, cam := range cams {
		g.Go(func() error {
			visible, d, err := c.classifyCamera(gctx, view, cam)
			if err != nil {
				return errors.Wrapf(err, "block %d camera %d (%s)", block.ID, cam.ID, cam.Name)
			}
			mask.Set(i, block.ID, visible)
			decisions[i] = d
			if c.OnCamera != nil {
				c.OnCamera()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BlockStats{}, err
	}

	stats := BlockStats{Block: block.ID, Points: block.Count, Cameras: mask.CamerasFor(block.ID)}
	for _, d := range decisions {
		stats.record(d)
	}
	c.logger.Debugw("block classified",
		"block", block.ID,
		"cameras", stats.Cameras,
		"rendered", stats.Rendered,
		"culled", stats.Culled)
	return stats, nil
}

func (c *Classifier) classifyCamera(ctx context.Context, view *blockView, cam *scene.Camera) (bool, Decision, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	center := c.settings.Mapper.Map(cam.Center())

	if c.settings.SimpleSelection > 1 {
		return view.enlarged.ContainsStrict(center), DecidedByEnlarged, nil
	}
	if !c.settings.DisableInBlock && view.block.Frozen.ContainsStrict(center) {
		return true, DecidedByInBlock, nil
	}
	if c.cull && !anyInFront(cam, view.inside, c.nearClip) {
		return false, DecidedByCulling, nil
	}

	loss, err := c.renderLoss(ctx, view, cam)
	if err != nil {
		return false, 0, err
	}
	return loss > c.settings.SSIMThreshold, DecidedByRender, nil
}

// anyInFront reports whether any point lies beyond the near clip depth.
func anyInFront(cam *scene.Camera, pts []r3.Vector, near float64) bool {
	for _, p := range pts {
		if cam.ToCameraFrame(p).Z > near {
			return true
		}
	}
	return false
}

// renderLoss returns 1 - SSIM between the scene rendered with and without the block.
func (c *Classifier) renderLoss(ctx context.Context, view *blockView, cam *scene.Camera) (float64, error) {
	if c.settings.ResolutionScale != 1 {
		var err error
		if cam, err = cam.Downscaled(c.settings.ResolutionScale); err != nil {
			return 0, err
		}
	}
	complement, err := view.complement()
	if err != nil {
		return 0, errors.Wrap(err, "removing block points")
	}

	bg := c.settings.Background()
	full, err := c.renderer.Render(ctx, cam, view.cloud, bg)
	if err != nil {
		return 0, errors.Wrap(err, "rendering full scene")
	}
	masked, err := c.renderer.Render(ctx, cam, complement, bg)
	if err != nil {
		return 0, errors.Wrap(err, "rendering scene without block")
	}
	similarity, err := rimage.SSIM(masked, full)
	if err != nil {
		return 0, err
	}
	loss := 1 - similarity

	if c.DebugDir != "" {
		if err := c.dumpRenders(view.block.ID, cam, full, masked); err != nil {
			c.logger.Warnw("cannot save debug renders", "block", view.block.ID, "camera", cam.Name, "error", err)
		}
	}
	c.logger.Debugw("render test", "block", view.block.ID, "camera", cam.Name, "loss", loss)
	return loss, nil
}

func (c *Classifier) dumpRenders(block int, cam *scene.Camera, full, masked *rimage.Image) error {
	dir := filepath.Join(c.DebugDir, fmt.Sprintf("block_%03d", block))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	name := fmt.Sprintf("%05d", cam.ID)
	if err := rimage.SaveImage(full, filepath.Join(dir, name+"_full.png")); err != nil {
		return err
	}
	return rimage.SaveImage(masked, filepath.Join(dir, name+"_without_block.png"))
}
