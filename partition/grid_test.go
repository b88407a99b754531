package partition

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/blockpart/logging"
	"go.viam.com/blockpart/spatialmath"
)

func TestGridIndexing(t *testing.T) {
	g := Grid{Dims: [3]int{3, 2, 4}, Domain: spatialmath.NewAABB(r3.Vector{}, r3.Vector{X: 3, Y: 2, Z: 4})}
	test.That(t, g.Count(), test.ShouldEqual, 24)
	test.That(t, g.IndexOf(0), test.ShouldResemble, BlockIndex{})
	test.That(t, g.IndexOf(1), test.ShouldResemble, BlockIndex{X: 1})
	test.That(t, g.IndexOf(3), test.ShouldResemble, BlockIndex{Y: 1})
	test.That(t, g.IndexOf(6), test.ShouldResemble, BlockIndex{Z: 1})
	test.That(t, g.IndexOf(23), test.ShouldResemble, BlockIndex{X: 2, Y: 1, Z: 3})
	for id := 0; id < g.Count(); id++ {
		test.That(t, g.ID(g.IndexOf(id)), test.ShouldEqual, id)
	}

	nominal := g.Nominal(g.ID(BlockIndex{X: 2, Y: 1, Z: 3}))
	test.That(t, nominal.Min, test.ShouldResemble, r3.Vector{X: 2, Y: 1, Z: 3})
	test.That(t, nominal.Max, test.ShouldResemble, r3.Vector{X: 3, Y: 2, Z: 4})
	test.That(t, BlockFrozen.String(), test.ShouldEqual, "frozen")
}

func linearSettings(t *testing.T, dims [3]int, threshold int) Settings {
	t.Helper()
	opts := DefaultOptions()
	opts.BlockDim = dims
	opts.NumThreshold = threshold
	opts.XYZLimited = true
	s, err := NewSettings(opts, spatialmath.NewAABB(r3.Vector{X: -2, Y: -1, Z: -1}, r3.Vector{X: 2, Y: 1, Z: 1}))
	test.That(t, err, test.ShouldBeNil)
	return s
}

func TestPartitionGrowth(t *testing.T) {
	pts := []r3.Vector{
		{X: -1},
		{X: 0.05}, {X: 0.1}, {X: 0.5},
		{X: 1.5, Y: 0.5},
	}
	p := NewPartitioner(linearSettings(t, [3]int{2, 1, 1}, 3), logging.NewTestLogger(t))

	b, err := p.Partition(context.Background(), 0, pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.State, test.ShouldEqual, BlockFrozen)
	test.That(t, b.Count, test.ShouldBeGreaterThanOrEqualTo, 3)
	test.That(t, b.Expansions, test.ShouldBeGreaterThan, 5)
	test.That(t, b.Frozen.Covers(b.Nominal), test.ShouldBeTrue)
	test.That(t, b.Frozen.Max.X, test.ShouldAlmostEqual, 0.01*float64(b.Expansions), 1e-9)
	test.That(t, b.InBlock, test.ShouldResemble, []bool{true, true, true, false, false})

	// one growth step less would not have held enough points
	_, count := countInside(b.Frozen.Grow(-p.step), pts)
	test.That(t, count, test.ShouldBeLessThan, 3)

	// points strictly inside the frozen boundary are never part of the block's complement
	for i, pt := range pts {
		if b.Frozen.ContainsStrict(pt) {
			test.That(t, b.InBlock[i], test.ShouldBeTrue)
		}
	}

	b, err = p.Partition(context.Background(), 1, pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Count, test.ShouldEqual, 4)
	test.That(t, b.Expansions, test.ShouldEqual, 0)
	test.That(t, b.Frozen, test.ShouldResemble, b.Nominal)
	test.That(t, b.Index, test.ShouldResemble, BlockIndex{X: 1})

	_, err = p.Partition(context.Background(), 2, pts)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPartitionStepIsTunable(t *testing.T) {
	pts := []r3.Vector{{X: -1}, {X: 0.3}}
	s := linearSettings(t, [3]int{2, 1, 1}, 2)
	s.GrowthStep = 0.1
	b, err := NewPartitioner(s, logging.NewTestLogger(t)).Partition(context.Background(), 0, pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Expansions, test.ShouldEqual, 3)
}

func TestPartitionErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	pts := []r3.Vector{{X: -1}, {X: 1}, {X: math.NaN()}}

	// the NaN point can never be counted
	p := NewPartitioner(linearSettings(t, [3]int{2, 1, 1}, 3), logger)
	_, err := p.Partition(context.Background(), 0, pts)
	var perr *PartitionError
	test.That(t, errors.As(err, &perr), test.ShouldBeTrue)
	test.That(t, perr.Block, test.ShouldEqual, 0)
	test.That(t, perr.Count, test.ShouldEqual, 2)
	test.That(t, perr.Threshold, test.ShouldEqual, 3)
	test.That(t, perr.Reason, test.ShouldContainSubstring, "every point")

	s := linearSettings(t, [3]int{2, 1, 1}, 2)
	s.MaxExpansions = 10
	_, err = NewPartitioner(s, logger).Partition(context.Background(), 0, pts)
	test.That(t, errors.As(err, &perr), test.ShouldBeTrue)
	test.That(t, perr.Expansions, test.ShouldEqual, 10)
	test.That(t, perr.Count, test.ShouldEqual, 1)
	test.That(t, perr.Error(), test.ShouldContainSubstring, "expansion limit")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Partition(ctx, 0, pts)
	test.That(t, err, test.ShouldEqual, context.Canceled)

	test.That(t, Reachable(pts), test.ShouldEqual, 2)
}
