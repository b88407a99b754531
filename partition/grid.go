package partition

import (
	"context"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/blockpart/logging"
	"go.viam.com/blockpart/spatialmath"
)

// BlockIndex is the position of a block in the grid.
type BlockIndex struct {
	X, Y, Z int
}

func (idx BlockIndex) String() string {
	return fmt.Sprintf("(%d, %d, %d)", idx.X, idx.Y, idx.Z)
}

// Grid is a regular subdivision of a domain box. Blocks are numbered x fastest, then y, then z.
type Grid struct {
	Dims   [3]int
	Domain spatialmath.AABB
}

// Count returns the number of blocks.
func (g Grid) Count() int {
	return g.Dims[0] * g.Dims[1] * g.Dims[2]
}

// IndexOf decomposes a block id into its grid position.
func (g Grid) IndexOf(id int) BlockIndex {
	layer := g.Dims[0] * g.Dims[1]
	rem := id % layer
	return BlockIndex{X: rem % g.Dims[0], Y: rem / g.Dims[0], Z: id / layer}
}

// ID is the inverse of IndexOf.
func (g Grid) ID(idx BlockIndex) int {
	return idx.Z*g.Dims[0]*g.Dims[1] + idx.Y*g.Dims[0] + idx.X
}

// Nominal returns the cell of block id before any growth.
func (g Grid) Nominal(id int) spatialmath.AABB {
	idx := g.IndexOf(id)
	return g.Domain.Subdivide(g.Dims, idx.X, idx.Y, idx.Z)
}

// BlockState is the life cycle stage of a Block.
type BlockState int

// A block grows until it holds enough points, then its boundary is frozen for the rest of the run.
const (
	BlockGrowing BlockState = iota
	BlockFrozen
)

func (s BlockState) String() string {
	switch s {
	case BlockGrowing:
		return "growing"
	case BlockFrozen:
		return "frozen"
	default:
		return fmt.Sprintf("BlockState(%d)", int(s))
	}
}

// Block is one cell of the grid together with the boundary it grew to.
type Block struct {
	ID    int
	Index BlockIndex
	State BlockState

	// Nominal is the grid cell.
	Nominal spatialmath.AABB
	// Search is the boundary under test while growing.
	Search spatialmath.AABB
	// Frozen is the boundary that first held enough points. It is only set once frozen.
	Frozen spatialmath.AABB

	Expansions int
	// Count is the number of points in InBlock.
	Count int
	// InBlock marks, per scene point, whether its mapped position lies in [min, max) of Frozen.
	InBlock []bool
}

// freeze fixes the boundary under test as the block's boundary.
func (b *Block) freeze(inBlock []bool, count int) {
	b.Frozen = b.Search
	b.InBlock = inBlock
	b.Count = count
	b.State = BlockFrozen
}

// Partitioner grows grid blocks until each holds a minimum number of points.
type Partitioner struct {
	grid          Grid
	threshold     int
	step          float64
	maxExpansions int
	logger        logging.Logger
}

// NewPartitioner returns a partitioner for the grid of s.
func NewPartitioner(s Settings, logger logging.Logger) *Partitioner {
	return &Partitioner{
		grid:          s.Grid(),
		threshold:     s.NumThreshold,
		step:          s.GrowthStep,
		maxExpansions: s.MaxExpansions,
		logger:        logger,
	}
}

// Grid returns the grid being partitioned.
func (p *Partitioner) Grid() Grid {
	return p.grid
}

// countInside returns the mask of points inside box under the half open test.
func countInside(box spatialmath.AABB, mapped []r3.Vector) ([]bool, int) {
	mask := make([]bool, len(mapped))
	for i, pt := range mapped {
		mask[i] = box.ContainsHalfOpen(pt)
	}
	return mask, lo.Count(mask, true)
}

// Reachable returns how many mapped points any boundary could ever contain.
func Reachable(mapped []r3.Vector) int {
	return lo.CountBy(mapped, func(p r3.Vector) bool {
		return !math.IsNaN(p.X+p.Y+p.Z) && !math.IsInf(p.X+p.Y+p.Z, 0)
	})
}

// Partition grows block id over the mapped scene points. The block freezes at the first boundary
// holding at least the threshold; otherwise every face moves out by the growth step and the count
// is taken again. It fails with a PartitionError when the boundary already holds every reachable
// point or the expansion budget runs out.
func (p *Partitioner) Partition(ctx context.Context, id int, mapped []r3.Vector) (*Block, error) {
	return p.partition(ctx, id, mapped, Reachable(mapped))
}

func (p *Partitioner) partition(ctx context.Context, id int, mapped []r3.Vector, reachable int) (*Block, error) {
	if id < 0 || id >= p.grid.Count() {
		return nil, errors.Errorf("block id %d out of range [0, %d)", id, p.grid.Count())
	}
	nominal := p.grid.Nominal(id)
	b := &Block{
		ID:      id,
		Index:   p.grid.IndexOf(id),
		State:   BlockGrowing,
		Nominal: nominal,
		Search:  nominal,
	}
	for b.State == BlockGrowing {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inBlock, count := countInside(b.Search, mapped)
		if count >= p.threshold {
			b.freeze(inBlock, count)
			break
		}
		if count >= reachable {
			return nil, &PartitionError{
				Block: id, Count: count, Threshold: p.threshold, Expansions: b.Expansions,
				Reason: "boundary already holds every point",
			}
		}
		if b.Expansions >= p.maxExpansions {
			return nil, &PartitionError{
				Block: id, Count: count, Threshold: p.threshold, Expansions: b.Expansions,
				Reason: "expansion limit reached",
			}
		}
		b.Search = b.Search.Grow(p.step)
		b.Expansions++
	}
	p.logger.Debugw("block frozen",
		"block", id,
		"index", b.Index.String(),
		"points", b.Count,
		"expansions", b.Expansions,
		"boundary", b.Frozen.String())
	return b, nil
}

// Enlarged returns the frozen boundary scaled about its center by factor. Factors at or below one
// return the frozen boundary.
func (b *Block) Enlarged(factor float64) spatialmath.AABB {
	return b.Frozen.Enlarge(factor)
}
