package partition

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gorgonia.org/tensor"
)

// Mask records which cameras observe which blocks, as a row major (cameras, blocks) matrix.
type Mask struct {
	cameras int
	blocks  int
	data    []bool
}

// NewMask returns an all false mask.
func NewMask(cameras, blocks int) *Mask {
	return &Mask{cameras: cameras, blocks: blocks, data: make([]bool, cameras*blocks)}
}

// Shape returns (cameras, blocks).
func (m *Mask) Shape() (int, int) {
	return m.cameras, m.blocks
}

// At reports whether camera cam observes block.
func (m *Mask) At(cam, block int) bool {
	return m.data[cam*m.blocks+block]
}

// Set marks whether camera cam observes block. Distinct cells may be set concurrently.
func (m *Mask) Set(cam, block int, visible bool) {
	m.data[cam*m.blocks+block] = visible
}

// CamerasFor returns the number of cameras observing block.
func (m *Mask) CamerasFor(block int) int {
	n := 0
	for cam := 0; cam < m.cameras; cam++ {
		if m.At(cam, block) {
			n++
		}
	}
	return n
}

// BlocksOf returns the blocks camera cam observes.
func (m *Mask) BlocksOf(cam int) []int {
	row := m.data[cam*m.blocks : (cam+1)*m.blocks]
	return lo.FilterMap(row, func(v bool, block int) (int, bool) {
		return block, v
	})
}

// Count returns the number of set cells.
func (m *Mask) Count() int {
	return lo.Count(m.data, true)
}

// Equal reports whether both masks have the same shape and cells.
func (m *Mask) Equal(other *Mask) bool {
	if m.cameras != other.cameras || m.blocks != other.blocks {
		return false
	}
	for i, v := range m.data {
		if other.data[i] != v {
			return false
		}
	}
	return true
}

// Rows returns a copy of the mask as one slice per camera.
func (m *Mask) Rows() [][]bool {
	return lo.Chunk(append([]bool(nil), m.data...), max(m.blocks, 1))
}

// CompressedMaskExt is the suffix of zstd compressed mask files.
const CompressedMaskExt = ".zst"

// MaskPath returns where the mask of the named config is stored under a scene directory.
func MaskPath(sourcePath, configName string, compress bool) string {
	fn := filepath.Join(sourcePath, "data_partitions", configName+".npy")
	if compress {
		fn += CompressedMaskExt
	}
	return fn
}

// WriteMask writes m as a NumPy bool array of shape (cameras, blocks).
func WriteMask(w io.Writer, m *Mask) error {
	if m.cameras == 0 || m.blocks == 0 {
		return errors.Errorf("cannot write an empty %dx%d mask", m.cameras, m.blocks)
	}
	t := tensor.New(tensor.WithShape(m.cameras, m.blocks), tensor.WithBacking(append([]bool(nil), m.data...)))
	return errors.Wrap(t.WriteNpy(w), "writing npy mask")
}

var (
	npyBoolDescr  = []byte("'descr': '<b1'")
	npyUint8Descr = []byte("'descr': '<u1'")
)

// npyMagic opens every NumPy file. It is followed by the major and minor version.
const npyMagic = "\x93NUMPY"

// npyHeaderPrefix is the magic string, the version and the version 1.0 header length.
const npyHeaderPrefix = 10

// npyV1 returns raw in the version 1.0 layout. Versions 2.0 and 3.0 only differ by a four byte
// header length.
func npyV1(raw []byte) ([]byte, error) {
	if len(raw) < npyHeaderPrefix || string(raw[:len(npyMagic)]) != npyMagic {
		return nil, errors.New("npy mask is truncated or not an npy file")
	}
	switch major := raw[6]; major {
	case 1:
		return raw, nil
	case 2, 3:
		if len(raw) < npyHeaderPrefix+2 {
			return nil, errors.New("npy mask is truncated")
		}
		headerLen := binary.LittleEndian.Uint32(raw[8:12])
		if headerLen > math.MaxUint16 {
			return nil, errors.Errorf("npy mask header of %d bytes is too long", headerLen)
		}
		v1 := make([]byte, 0, len(raw)-2)
		v1 = append(v1, npyMagic...)
		v1 = append(v1, 1, 0)
		v1 = binary.LittleEndian.AppendUint16(v1, uint16(headerLen))
		return append(v1, raw[12:]...), nil
	default:
		return nil, errors.Errorf("unsupported npy version %d.%d", major, raw[7])
	}
}

// ReadMask reads a mask written by WriteMask, or by numpy.save of a 2D bool array.
func ReadMask(r io.Reader) (*Mask, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading npy mask")
	}
	if raw, err = npyV1(raw); err != nil {
		return nil, err
	}
	// bools are stored one byte each; decode them as bytes since the tensor reader has no bool
	// dtype. Both descriptors have the same length so the header size is unchanged.
	headerLen := int(binary.LittleEndian.Uint16(raw[8:10]))
	end := min(len(raw), npyHeaderPrefix+headerLen)
	header := raw[npyHeaderPrefix:end]
	switch {
	case bytes.Contains(header, npyBoolDescr):
		header = bytes.Replace(header, npyBoolDescr, npyUint8Descr, 1)
	case bytes.Contains(header, []byte("'descr': '|b1'")):
		header = bytes.Replace(header, []byte("'descr': '|b1'"), npyUint8Descr, 1)
	default:
		return nil, errors.New("npy mask is not a bool array")
	}
	copy(raw[npyHeaderPrefix:end], header)

	var t tensor.Dense
	if err := t.ReadNpy(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(err, "decoding npy mask")
	}
	shape := t.Shape()
	if len(shape) != 2 {
		return nil, errors.Errorf("npy mask has shape %v, expected (cameras, blocks)", shape)
	}
	cells, ok := t.Data().([]uint8)
	if !ok {
		return nil, errors.Errorf("npy mask decoded as %T", t.Data())
	}
	m := NewMask(shape[0], shape[1])
	for i, v := range cells {
		m.data[i] = v != 0
	}
	return m, nil
}

// SaveMask writes m to fn, creating its directory. Names ending in CompressedMaskExt are zstd
// compressed.
func SaveMask(fn string, m *Mask) (err error) {
	if err := os.MkdirAll(filepath.Dir(fn), 0o750); err != nil {
		return errors.Wrap(err, "creating mask directory")
	}
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	bw := bufio.NewWriter(f)
	if !strings.HasSuffix(fn, CompressedMaskExt) {
		if err := WriteMask(bw, m); err != nil {
			return err
		}
		return bw.Flush()
	}
	enc, err := zstd.NewWriter(bw)
	if err != nil {
		return errors.Wrap(err, "creating zstd writer")
	}
	if err := WriteMask(enc, m); err != nil {
		return multierr.Combine(err, enc.Close())
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "compressing mask")
	}
	return bw.Flush()
}

// LoadMask reads a mask saved by SaveMask.
func LoadMask(fn string) (*Mask, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	if !strings.HasSuffix(fn, CompressedMaskExt) {
		return ReadMask(bufio.NewReader(f))
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd reader")
	}
	defer dec.Close()
	return ReadMask(dec)
}
