package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

// makeTestCloud returns n degree 1 gaussians placed along the x axis, each attribute tagged with
// the point index so that misaligned filtering is easy to spot.
func makeTestCloud(t *testing.T, n int) *GaussianCloud {
	t.Helper()
	cloud := NewGaussianCloud(1, n)
	for i := 0; i < n; i++ {
		f := float64(i)
		rest := make([]float64, RestStride(1))
		for j := range rest {
			rest[j] = f
		}
		err := cloud.Append(Gaussian{
			Position: r3.Vector{X: f, Y: 2 * f, Z: -f},
			Scale:    r3.Vector{X: f, Y: f, Z: f},
			Rotation: quat.Number{Real: 1, Imag: f},
			DC:       [3]float64{f, f, f},
			Rest:     rest,
			Opacity:  f,
		})
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, cloud.Validate(), test.ShouldBeNil)
	return cloud
}

func TestAppendAndAt(t *testing.T) {
	cloud := makeTestCloud(t, 3)
	test.That(t, cloud.Size(), test.ShouldEqual, 3)
	test.That(t, RestStride(1), test.ShouldEqual, 9)
	test.That(t, cloud.FeaturesRest, test.ShouldHaveLength, 27)

	g := cloud.At(2)
	test.That(t, g.Position, test.ShouldResemble, r3.Vector{X: 2, Y: 4, Z: -2})
	test.That(t, g.Rest, test.ShouldHaveLength, 9)
	test.That(t, g.Rest[8], test.ShouldEqual, 2.0)

	err := cloud.Append(Gaussian{Rest: []float64{1}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, cloud.Size(), test.ShouldEqual, 3)
}

func TestValidate(t *testing.T) {
	cloud := makeTestCloud(t, 2)
	cloud.Opacities = cloud.Opacities[:1]
	err := cloud.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "opacities")

	cloud = makeTestCloud(t, 2)
	cloud.FeaturesRest = cloud.FeaturesRest[:5]
	test.That(t, cloud.Validate(), test.ShouldNotBeNil)

	cloud = makeTestCloud(t, 2)
	cloud.SHDegree = 4
	test.That(t, cloud.Validate(), test.ShouldNotBeNil)
}

func TestSubsetAndComplement(t *testing.T) {
	cloud := makeTestCloud(t, 5)
	mask := []bool{true, false, true, false, false}

	sub, err := cloud.Subset(mask)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sub.Validate(), test.ShouldBeNil)
	test.That(t, sub.Size(), test.ShouldEqual, 2)
	for i, want := range []float64{0, 2} {
		g := sub.At(i)
		test.That(t, g.Position.X, test.ShouldEqual, want)
		test.That(t, g.Scale.X, test.ShouldEqual, want)
		test.That(t, g.Rotation.Imag, test.ShouldEqual, want)
		test.That(t, g.DC[1], test.ShouldEqual, want)
		test.That(t, g.Rest[4], test.ShouldEqual, want)
		test.That(t, g.Opacity, test.ShouldEqual, want)
	}

	comp, err := cloud.Complement(mask)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, comp.Validate(), test.ShouldBeNil)
	test.That(t, comp.Size(), test.ShouldEqual, 3)
	test.That(t, comp.At(0).Position.X, test.ShouldEqual, 1.0)
	test.That(t, comp.At(2).Opacity, test.ShouldEqual, 4.0)

	// the source is untouched
	test.That(t, cloud.Size(), test.ShouldEqual, 5)

	_, err = cloud.Subset([]bool{true})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestActivations(t *testing.T) {
	cloud := makeTestCloud(t, 2)
	test.That(t, cloud.ActivatedOpacity(0), test.ShouldAlmostEqual, 0.5)
	test.That(t, cloud.ActivatedOpacity(1), test.ShouldAlmostEqual, 1/(1+math.Exp(-1)))
	test.That(t, cloud.ActivatedScale(0), test.ShouldResemble, r3.Vector{X: 1, Y: 1, Z: 1})
	test.That(t, cloud.ActivatedScale(1).X, test.ShouldAlmostEqual, math.E)

	// point 0 has all zero coefficients
	rgb := cloud.Color(0, r3.Vector{Z: 1})
	test.That(t, rgb[0], test.ShouldAlmostEqual, 0.5)

	// point 1 has every higher order coefficient set to one; looking down +z only the z band counts
	cloud.FeaturesDC[1] = [3]float64{-10, 0, 1}
	rgb = cloud.Color(1, r3.Vector{Z: 1})
	test.That(t, rgb[0], test.ShouldEqual, 0.0)
	test.That(t, rgb[1], test.ShouldAlmostEqual, 0.5+shC1)
	test.That(t, rgb[2], test.ShouldAlmostEqual, 0.5+SHC0+shC1)

	// the y band enters with a negative sign
	rgb = cloud.Color(1, r3.Vector{Y: 1})
	test.That(t, rgb[1], test.ShouldAlmostEqual, 0.5-shC1)
}

func TestMetaDataAndExtent(t *testing.T) {
	cloud := makeTestCloud(t, 4)
	md, err := cloud.MetaData()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.Size, test.ShouldEqual, 4)
	test.That(t, md.SHDegree, test.ShouldEqual, 1)
	test.That(t, md.Bounds.Min, test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: -3})
	test.That(t, md.Bounds.Max, test.ShouldResemble, r3.Vector{X: 3, Y: 6, Z: 0})

	extent, err := cloud.Extent()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, extent, test.ShouldResemble, r3.Vector{X: 3, Y: 6, Z: 3})

	_, err = NewGaussianCloud(0, 0).Extent()
	test.That(t, err, test.ShouldNotBeNil)
}
