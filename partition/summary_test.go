package partition

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func exampleSummary() Summary {
	return Summary{
		RunID:   "run-1",
		Cameras: 4,
		Blocks: []BlockStats{
			{Block: 0, Points: 120, Cameras: 3, InBlock: 1, Rendered: 3},
			{Block: 1, Points: 80, Cameras: 1, InBlock: 1, Culled: 2, Rendered: 1},
		},
	}
}

func TestSummaryLines(t *testing.T) {
	s := exampleSummary()
	var buf bytes.Buffer
	test.That(t, s.WriteLines(&buf), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual, "Block 0 / 2 has 3 cameras.\nBlock 1 / 2 has 1 cameras.\n")
}

func TestSummaryHistogram(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, exampleSummary().WriteHistogram(&buf, 20), test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines[0], test.ShouldEqual, "cameras per block, 2 blocks")
	test.That(t, len(lines), test.ShouldBeGreaterThan, 1)

	buf.Reset()
	test.That(t, MaskSummary("garden.npy", exampleMask()).WriteHistogram(&buf, 20), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual, "cameras per block, 2 blocks\nevery block has 2 cameras\n")

	test.That(t, Summary{}.WriteHistogram(&buf, 20), test.ShouldNotBeNil)
}

func TestMaskSummary(t *testing.T) {
	s := MaskSummary("garden.npy", exampleMask())
	test.That(t, s.Cameras, test.ShouldEqual, 3)
	test.That(t, s.Lines(), test.ShouldResemble, []string{"Block 0 / 2 has 2 cameras.", "Block 1 / 2 has 2 cameras."})
}

func TestSummaryTable(t *testing.T) {
	s := exampleSummary()
	var buf bytes.Buffer
	test.That(t, s.WriteTable(&buf), test.ShouldBeNil)
	out := buf.String()
	test.That(t, out, test.ShouldContainSubstring, "partition run-1")
	test.That(t, strings.ToLower(out), test.ShouldContainSubstring, "rendered")
	test.That(t, out, test.ShouldContainSubstring, "200")

	csv := s.Table().RenderCSV()
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	// title, header, two blocks and the totals
	test.That(t, lines, test.ShouldHaveLength, 5)
	test.That(t, lines[2], test.ShouldEqual, "0,120,3,0,1,0,3")
	test.That(t, lines[4], test.ShouldEqual, "total,200,4,0,2,2,4")
}

func TestSummaryChart(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "charts", "cameras.png")
	test.That(t, exampleSummary().SaveChart(fn), test.ShouldBeNil)
	info, err := os.Stat(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)

	test.That(t, Summary{}.SaveChart(fn), test.ShouldNotBeNil)
}

func TestSnapshot(t *testing.T) {
	cams, cloud := twoBlockScene(t)
	res, err := runScene(t, twoBlockOptions(), cams, cloud, &countingRenderer{})
	test.That(t, err, test.ShouldBeNil)

	snap := NewSnapshot(res, cloud.Size())
	snap.Config = "garden"
	test.That(t, snap.AABBEstimated, test.ShouldBeFalse)
	test.That(t, snap.Blocks, test.ShouldHaveLength, 2)
	test.That(t, snap.Blocks[1].Index, test.ShouldResemble, [3]int{1, 0, 0})
	test.That(t, snap.Blocks[1].Cameras, test.ShouldEqual, 2)

	dir := filepath.Join(t.TempDir(), "model")
	fn, err := SaveSnapshot(dir, snap)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fn, test.ShouldEqual, filepath.Join(dir, SnapshotFile))

	read, err := LoadSnapshot(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.RunID, test.ShouldEqual, res.Summary.RunID)
	test.That(t, read.Config, test.ShouldEqual, "garden")
	test.That(t, read.AABB, test.ShouldResemble, sceneBox)
	test.That(t, read.BlockDim, test.ShouldResemble, [3]int{2, 1, 1})
	test.That(t, read.Blocks, test.ShouldResemble, snap.Blocks)
	test.That(t, read.CreatedAt.Equal(snap.CreatedAt), test.ShouldBeTrue)
	test.That(t, read.Points, test.ShouldEqual, 4)
}
