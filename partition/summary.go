package partition

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Summary describes the outcome of a run for operators.
type Summary struct {
	RunID   string
	Cameras int
	Blocks  []BlockStats
}

// MaskSummary summarizes a mask read back from disk. Only the camera counts are known.
func MaskSummary(name string, m *Mask) Summary {
	cams, blocks := m.Shape()
	s := Summary{RunID: name, Cameras: cams, Blocks: make([]BlockStats, blocks)}
	for b := range s.Blocks {
		s.Blocks[b] = BlockStats{Block: b, Cameras: m.CamerasFor(b)}
	}
	return s
}

// Lines returns one "Block i / n has k cameras." line per block.
func (s Summary) Lines() []string {
	lines := make([]string, len(s.Blocks))
	for i, b := range s.Blocks {
		lines[i] = fmt.Sprintf("Block %d / %d has %d cameras.", b.Block, len(s.Blocks), b.Cameras)
	}
	return lines
}

// WriteLines prints Lines to w.
func (s Summary) WriteLines(w io.Writer) error {
	for _, line := range s.Lines() {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Table returns the per block summary as a table.
func (s Summary) Table() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle("partition %s", s.RunID)
	t.AppendHeader(table.Row{"block", "points", "cameras", "enlarged", "in block", "culled", "rendered"})
	var total BlockStats
	for _, b := range s.Blocks {
		t.AppendRow(table.Row{b.Block, b.Points, b.Cameras, b.Enlarged, b.InBlock, b.Culled, b.Rendered})
		total.Points += b.Points
		total.Cameras += b.Cameras
		total.Enlarged += b.Enlarged
		total.InBlock += b.InBlock
		total.Culled += b.Culled
		total.Rendered += b.Rendered
	}
	t.AppendFooter(table.Row{
		"total", total.Points, total.Cameras, total.Enlarged, total.InBlock, total.Culled, total.Rendered,
	})
	return t
}

// WriteTable renders Table to w.
func (s Summary) WriteTable(w io.Writer) error {
	_, err := io.WriteString(w, s.Table().Render()+"\n")
	return err
}

// WriteHistogram prints a text histogram of the cameras per block to w, width characters wide.
func (s Summary) WriteHistogram(w io.Writer, width int) error {
	if len(s.Blocks) == 0 {
		return errors.New("no blocks to plot")
	}
	counts := make([]float64, len(s.Blocks))
	fewest, most := s.Blocks[0].Cameras, s.Blocks[0].Cameras
	for i, b := range s.Blocks {
		counts[i] = float64(b.Cameras)
		fewest = min(fewest, b.Cameras)
		most = max(most, b.Cameras)
	}
	if _, err := fmt.Fprintf(w, "cameras per block, %d blocks\n", len(s.Blocks)); err != nil {
		return err
	}
	if fewest == most {
		_, err := fmt.Fprintf(w, "every block has %d cameras\n", fewest)
		return err
	}
	// one bin per camera count, capped so large scenes stay readable
	nbins := min(most-fewest+1, 20)
	return histogram.Fprint(w, histogram.Hist(nbins, counts), histogram.Linear(width))
}

// SaveChart writes a bar chart of the cameras per block. The format follows the extension of fn.
func (s Summary) SaveChart(fn string) error {
	if len(s.Blocks) == 0 {
		return errors.New("no blocks to chart")
	}
	values := make(plotter.Values, len(s.Blocks))
	names := make([]string, len(s.Blocks))
	for i, b := range s.Blocks {
		values[i] = float64(b.Cameras)
		names[i] = strconv.Itoa(b.Block)
	}

	p := plot.New()
	p.Title.Text = "Cameras per block"
	p.X.Label.Text = "block"
	p.Y.Label.Text = "cameras"
	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return errors.Wrap(err, "building bar chart")
	}
	p.Add(bars)
	p.NominalX(names...)

	if err := os.MkdirAll(filepath.Dir(fn), 0o750); err != nil {
		return err
	}
	width := max(4*vg.Inch, vg.Length(len(s.Blocks))*vg.Points(18))
	return errors.Wrapf(p.Save(width, 3*vg.Inch, fn), "saving chart %q", fn)
}
