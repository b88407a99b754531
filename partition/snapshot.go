package partition

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gopkg.in/yaml.v3"
)

// SnapshotFile is the name of the resolved settings file written next to the model.
const SnapshotFile = "partition.yaml"

// BlockSnapshot is the recorded outcome of one block.
type BlockSnapshot struct {
	ID         int       `yaml:"id"`
	Index      [3]int    `yaml:"index"`
	Nominal    []float64 `yaml:"nominal,flow"`
	Frozen     []float64 `yaml:"frozen,flow"`
	Expansions int       `yaml:"expansions"`
	Points     int       `yaml:"points"`
	Cameras    int       `yaml:"cameras"`
}

// Snapshot is the resolved configuration of a run, including the scene box whether it was given
// or estimated.
type Snapshot struct {
	RunID     string    `yaml:"run_id"`
	CreatedAt time.Time `yaml:"created_at"`
	Config    string    `yaml:"config,omitempty"`
	MaskPath  string    `yaml:"mask_path,omitempty"`

	BlockDim        [3]int    `yaml:"block_dim,flow"`
	AABB            []float64 `yaml:"aabb,flow"`
	AABBEstimated   bool      `yaml:"aabb_estimated"`
	NumThreshold    int       `yaml:"num_threshold"`
	SSIMThreshold   float64   `yaml:"ssim_threshold"`
	WhiteBackground bool      `yaml:"white_background"`
	XYZLimited      bool      `yaml:"xyz_limited"`
	GrowthStep      float64   `yaml:"growth_step"`
	MaxExpansions   int       `yaml:"max_expansions"`
	SimpleSelection float64   `yaml:"simple_selection"`
	DisableInBlock  bool      `yaml:"disable_inblock"`
	DisableCulling  bool      `yaml:"disable_culling"`
	ResolutionScale float64   `yaml:"resolution_scale"`
	Workers         int       `yaml:"workers"`

	Cameras int             `yaml:"cameras"`
	Points  int             `yaml:"points"`
	Blocks  []BlockSnapshot `yaml:"blocks"`
}

// NewSnapshot records the settings and outcome of res.
func NewSnapshot(res *Result, points int) Snapshot {
	s := res.Settings
	snap := Snapshot{
		RunID:           res.Summary.RunID,
		CreatedAt:       time.Now().UTC(),
		BlockDim:        s.BlockDim,
		AABB:            s.Box.Slice(),
		AABBEstimated:   s.Options.AABB == nil,
		NumThreshold:    s.NumThreshold,
		SSIMThreshold:   s.SSIMThreshold,
		WhiteBackground: s.WhiteBackground,
		XYZLimited:      s.XYZLimited,
		GrowthStep:      s.GrowthStep,
		MaxExpansions:   s.MaxExpansions,
		SimpleSelection: s.SimpleSelection,
		DisableInBlock:  s.DisableInBlock,
		DisableCulling:  s.DisableCulling,
		ResolutionScale: s.ResolutionScale,
		Workers:         s.Workers,
		Cameras:         res.Summary.Cameras,
		Points:          points,
	}
	for i, b := range res.Blocks {
		bs := BlockSnapshot{
			ID:         b.ID,
			Index:      [3]int{b.Index.X, b.Index.Y, b.Index.Z},
			Nominal:    b.Nominal.Slice(),
			Frozen:     b.Frozen.Slice(),
			Expansions: b.Expansions,
			Points:     b.Count,
		}
		if i < len(res.Summary.Blocks) {
			bs.Cameras = res.Summary.Blocks[i].Cameras
		}
		snap.Blocks = append(snap.Blocks, bs)
	}
	return snap
}

// WriteSnapshot encodes snap as YAML.
func WriteSnapshot(w io.Writer, snap Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return multierr.Combine(errors.Wrap(err, "encoding snapshot"), enc.Close())
	}
	return enc.Close()
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "decoding snapshot")
	}
	return snap, nil
}

// SaveSnapshot writes snap to <dir>/partition.yaml and returns the file name.
func SaveSnapshot(dir string, snap Snapshot) (fn string, err error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", errors.Wrap(err, "creating model directory")
	}
	fn = filepath.Join(dir, SnapshotFile)
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return fn, WriteSnapshot(f, snap)
}

// LoadSnapshot reads <dir>/partition.yaml.
func LoadSnapshot(dir string) (Snapshot, error) {
	//nolint:gosec
	f, err := os.Open(filepath.Join(dir, SnapshotFile))
	if err != nil {
		return Snapshot{}, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadSnapshot(f)
}
