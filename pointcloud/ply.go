package pointcloud

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/blockpart/logging"
)

// PLYFormat is the body encoding of a ply file.
type PLYFormat int

const (
	// PLYBinaryLittleEndian is the format Gaussian splatting trainers write.
	PLYBinaryLittleEndian PLYFormat = iota
	// PLYAscii is plain text, one vertex per line.
	PLYAscii
)

func (f PLYFormat) String() string {
	switch f {
	case PLYAscii:
		return "ascii"
	case PLYBinaryLittleEndian:
		return "binary_little_endian"
	default:
		return fmt.Sprintf("PLYFormat(%d)", int(f))
	}
}

const plyVertexElement = "vertex"

// NewFromFile returns the Gaussian cloud stored in the given ply file.
func NewFromFile(fn string, logger logging.Logger) (*GaussianCloud, error) {
	if ext := filepath.Ext(fn); ext != ".ply" {
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	cloud, err := ReadPLY(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", fn)
	}
	logger.Debugw("loaded gaussian cloud", "file", fn, "points", cloud.Size(), "sh_degree", cloud.SHDegree)
	return cloud, nil
}

// WriteToFile writes the cloud to fn in the given format.
func WriteToFile(fn string, cloud *GaussianCloud, format PLYFormat) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return WritePLY(f, cloud, format)
}

type plyProperty struct {
	name string
	typ  string
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
	list  bool
}

type plyHeader struct {
	format   string
	elements []plyElement
}

func (h *plyHeader) vertex() (plyElement, int, error) {
	for i, e := range h.elements {
		if e.name == plyVertexElement {
			return e, i, nil
		}
	}
	return plyElement{}, -1, errors.New("ply file has no vertex element")
}

func readPLYHeader(r *bufio.Reader, raw *bytes.Buffer) (*plyHeader, error) {
	h := &plyHeader{}
	for lineNum := 0; ; lineNum++ {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading ply header")
		}
		raw.WriteString(line)
		fields := strings.Fields(line)
		if lineNum == 0 {
			if len(fields) != 1 || fields[0] != "ply" {
				return nil, errors.New("not a ply file")
			}
			continue
		}
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) < 2 {
				return nil, errors.New("malformed ply format line")
			}
			h.format = fields[1]
		case "element":
			if len(fields) != 3 {
				return nil, errors.Errorf("malformed ply element line %q", strings.TrimSpace(line))
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, errors.Wrapf(err, "element %q count", fields[1])
			}
			h.elements = append(h.elements, plyElement{name: fields[1], count: count})
		case "property":
			if len(h.elements) == 0 {
				return nil, errors.New("ply property declared before any element")
			}
			e := &h.elements[len(h.elements)-1]
			switch {
			case len(fields) == 5 && fields[1] == "list":
				e.list = true
				e.props = append(e.props, plyProperty{name: fields[4], typ: "list"})
			case len(fields) == 3:
				e.props = append(e.props, plyProperty{name: fields[2], typ: fields[1]})
			default:
				return nil, errors.Errorf("malformed ply property line %q", strings.TrimSpace(line))
			}
		case "comment", "obj_info":
		case "end_header":
			return h, nil
		default:
			return nil, errors.Errorf("unexpected ply header token %q", fields[0])
		}
	}
}

// ReadPLY decodes a Gaussian cloud from a ply stream in either ascii or binary little endian
// format. Positions, DC colors, opacity, scales and rotations are required; the number of
// f_rest_* properties determines the spherical harmonic degree.
func ReadPLY(r io.Reader) (*GaussianCloud, error) {
	br := bufio.NewReader(r)
	var raw bytes.Buffer
	header, err := readPLYHeader(br, &raw)
	if err != nil {
		return nil, err
	}
	vertex, _, err := header.vertex()
	if err != nil {
		return nil, err
	}
	layout, err := newVertexLayout(vertex.props)
	if err != nil {
		return nil, err
	}

	switch header.format {
	case PLYAscii.String():
		return readASCIIBody(io.MultiReader(&raw, br), layout, vertex)
	case PLYBinaryLittleEndian.String():
		return readBinaryBody(br, header, layout)
	default:
		return nil, errors.Errorf("unsupported ply format %q", header.format)
	}
}

// vertexLayout locates each Gaussian attribute among the vertex properties.
type vertexLayout struct {
	shDegree int
	position [3]int
	dc       [3]int
	rest     []int
	opacity  int
	scale    [3]int
	rotation [4]int
}

func newVertexLayout(props []plyProperty) (*vertexLayout, error) {
	index := make(map[string]int, len(props))
	for i, p := range props {
		index[p.name] = i
	}
	lookup := func(name string) (int, error) {
		i, ok := index[name]
		if !ok {
			return 0, errors.Errorf("vertex is missing property %q", name)
		}
		return i, nil
	}

	var l vertexLayout
	var err error
	for i, name := range []string{"x", "y", "z"} {
		if l.position[i], err = lookup(name); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 3; i++ {
		if l.dc[i], err = lookup(fmt.Sprintf("f_dc_%d", i)); err != nil {
			return nil, err
		}
		if l.scale[i], err = lookup(fmt.Sprintf("scale_%d", i)); err != nil {
			return nil, err
		}
	}
	for i := 0; i < 4; i++ {
		if l.rotation[i], err = lookup(fmt.Sprintf("rot_%d", i)); err != nil {
			return nil, err
		}
	}
	if l.opacity, err = lookup("opacity"); err != nil {
		return nil, err
	}

	for i := 0; ; i++ {
		idx, ok := index[fmt.Sprintf("f_rest_%d", i)]
		if !ok {
			break
		}
		l.rest = append(l.rest, idx)
	}
	l.shDegree = -1
	for d := 0; d <= MaxSHDegree; d++ {
		if RestStride(d) == len(l.rest) {
			l.shDegree = d
		}
	}
	if l.shDegree < 0 {
		return nil, errors.Errorf("%d f_rest properties do not match any spherical harmonic degree", len(l.rest))
	}
	return &l, nil
}

func (l *vertexLayout) appendRow(cloud *GaussianCloud, row []float64) {
	cloud.Positions = append(cloud.Positions, r3.Vector{X: row[l.position[0]], Y: row[l.position[1]], Z: row[l.position[2]]})
	cloud.FeaturesDC = append(cloud.FeaturesDC, [3]float64{row[l.dc[0]], row[l.dc[1]], row[l.dc[2]]})
	for _, idx := range l.rest {
		cloud.FeaturesRest = append(cloud.FeaturesRest, row[idx])
	}
	cloud.Opacities = append(cloud.Opacities, row[l.opacity])
	cloud.Scales = append(cloud.Scales, r3.Vector{X: row[l.scale[0]], Y: row[l.scale[1]], Z: row[l.scale[2]]})
	cloud.Rotations = append(cloud.Rotations, quat.Number{
		Real: row[l.rotation[0]],
		Imag: row[l.rotation[1]],
		Jmag: row[l.rotation[2]],
		Kmag: row[l.rotation[3]],
	})
	cloud.MaxRadii2D = append(cloud.MaxRadii2D, 0)
}

func readASCIIBody(r io.Reader, layout *vertexLayout, vertex plyElement) (cloud *GaussianCloud, err error) {
	// goply panics on malformed input
	defer func() {
		if p := recover(); p != nil {
			cloud = nil
			err = errors.Errorf("parsing ascii ply: %v", p)
		}
	}()
	ply := goply.New(r)
	elements := ply.Elements(plyVertexElement)
	if len(elements) != vertex.count {
		return nil, errors.Errorf("expected %d vertices, read %d", vertex.count, len(elements))
	}

	cloud = NewGaussianCloud(layout.shDegree, vertex.count)
	row := make([]float64, len(vertex.props))
	for i, e := range elements {
		for j, p := range vertex.props {
			v, err := plyNumber(e[p.name])
			if err != nil {
				return nil, errors.Wrapf(err, "vertex %d property %q", i, p.name)
			}
			row[j] = v
		}
		layout.appendRow(cloud, row)
	}
	return cloud, nil
}

func plyNumber(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int8:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	default:
		return 0, errors.Errorf("unsupported ply value %T", v)
	}
}

func plyTypeSize(typ string) (int, error) {
	switch typ {
	case "char", "int8", "uchar", "uint8":
		return 1, nil
	case "short", "int16", "ushort", "uint16":
		return 2, nil
	case "int", "int32", "uint", "uint32", "float", "float32":
		return 4, nil
	case "double", "float64":
		return 8, nil
	default:
		return 0, errors.Errorf("unsupported ply property type %q", typ)
	}
}

func decodePLYValue(typ string, b []byte) float64 {
	switch typ {
	case "char", "int8":
		return float64(int8(b[0]))
	case "uchar", "uint8":
		return float64(b[0])
	case "short", "int16":
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case "ushort", "uint16":
		return float64(binary.LittleEndian.Uint16(b))
	case "int", "int32":
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case "uint", "uint32":
		return float64(binary.LittleEndian.Uint32(b))
	case "float", "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
}

func elementStride(e plyElement) (int, error) {
	if e.list {
		return 0, errors.Errorf("binary list properties in element %q are not supported", e.name)
	}
	stride := 0
	for _, p := range e.props {
		size, err := plyTypeSize(p.typ)
		if err != nil {
			return 0, err
		}
		stride += size
	}
	return stride, nil
}

func readBinaryBody(r io.Reader, header *plyHeader, layout *vertexLayout) (*GaussianCloud, error) {
	vertex, vertexIdx, err := header.vertex()
	if err != nil {
		return nil, err
	}
	// skip fixed size elements stored ahead of the vertices
	for _, e := range header.elements[:vertexIdx] {
		stride, err := elementStride(e)
		if err != nil {
			return nil, err
		}
		if _, err := io.CopyN(io.Discard, r, int64(stride*e.count)); err != nil {
			return nil, errors.Wrapf(err, "skipping element %q", e.name)
		}
	}

	stride, err := elementStride(vertex)
	if err != nil {
		return nil, err
	}
	offsets := make([]int, len(vertex.props))
	off := 0
	for i, p := range vertex.props {
		offsets[i] = off
		size, err := plyTypeSize(p.typ)
		if err != nil {
			return nil, err
		}
		off += size
	}

	cloud := NewGaussianCloud(layout.shDegree, vertex.count)
	buf := make([]byte, stride)
	row := make([]float64, len(vertex.props))
	for i := 0; i < vertex.count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrapf(err, "reading vertex %d of %d", i, vertex.count)
		}
		for j, p := range vertex.props {
			row[j] = decodePLYValue(p.typ, buf[offsets[j]:])
		}
		layout.appendRow(cloud, row)
	}
	return cloud, nil
}

func plyPropertyNames(shDegree int) []string {
	names := []string{"x", "y", "z", "nx", "ny", "nz", "f_dc_0", "f_dc_1", "f_dc_2"}
	for i := 0; i < RestStride(shDegree); i++ {
		names = append(names, fmt.Sprintf("f_rest_%d", i))
	}
	names = append(names, "opacity", "scale_0", "scale_1", "scale_2", "rot_0", "rot_1", "rot_2", "rot_3")
	return names
}

func plyRow(cloud *GaussianCloud, i int, row []float64) []float64 {
	g := cloud.At(i)
	row = row[:0]
	row = append(row, g.Position.X, g.Position.Y, g.Position.Z, 0, 0, 0, g.DC[0], g.DC[1], g.DC[2])
	row = append(row, g.Rest...)
	return append(row, g.Opacity, g.Scale.X, g.Scale.Y, g.Scale.Z,
		g.Rotation.Real, g.Rotation.Imag, g.Rotation.Jmag, g.Rotation.Kmag)
}

// WritePLY encodes the cloud as float32 vertex properties in the layout Gaussian splatting
// trainers produce, with zero normals.
func WritePLY(w io.Writer, cloud *GaussianCloud, format PLYFormat) error {
	if err := cloud.Validate(); err != nil {
		return err
	}
	if format != PLYAscii && format != PLYBinaryLittleEndian {
		return errors.Errorf("unsupported ply format %v", format)
	}
	bw := bufio.NewWriter(w)
	names := plyPropertyNames(cloud.SHDegree)

	fmt.Fprintf(bw, "ply\nformat %s 1.0\nelement vertex %d\n", format, cloud.Size())
	for _, name := range names {
		fmt.Fprintf(bw, "property float %s\n", name)
	}
	if _, err := bw.WriteString("end_header\n"); err != nil {
		return err
	}

	row := make([]float64, 0, len(names))
	var scratch [4]byte
	for i := 0; i < cloud.Size(); i++ {
		row = plyRow(cloud, i, row)
		for j, v := range row {
			if format == PLYAscii {
				if j > 0 {
					bw.WriteByte(' ')
				}
				bw.WriteString(strconv.FormatFloat(float64(float32(v)), 'g', -1, 32))
				continue
			}
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(float32(v)))
			if _, err := bw.Write(scratch[:]); err != nil {
				return err
			}
		}
		if format == PLYAscii {
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}
