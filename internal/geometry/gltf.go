package geometry

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/detailhub/zoneconfigurator/model"
)

// ErrNoGeometry is returned when a document has no measurable positions.
var ErrNoGeometry = errors.New("geometry: model has no position data")

// maxNodeDepth bounds scene graph recursion on malformed documents.
const maxNodeDepth = 64

// DecodeModel parses a glTF or GLB stream.
func DecodeModel(r io.Reader) (*gltf.Document, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(r).Decode(doc); err != nil {
		return nil, fmt.Errorf("geometry: decoding model: %w", err)
	}
	return doc, nil
}

// EncodeGLB writes doc as binary glTF.
func EncodeGLB(w io.Writer, doc *gltf.Document) error {
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("geometry: encoding model: %w", err)
	}
	return nil
}

// ComputeAABB measures the world-space bounding box of the default scene.
// It uses the min/max of each POSITION accessor, transformed by the node
// hierarchy, so no vertex data needs to be read.
func ComputeAABB(doc *gltf.Document) (AABB, error) {
	var box AABB
	for _, n := range rootNodes(doc) {
		box = visitNode(doc, n, mgl64.Ident4(), box, 0)
	}
	if box.Empty() {
		return AABB{}, ErrNoGeometry
	}
	return box, nil
}

func rootNodes(doc *gltf.Document) []int {
	if len(doc.Scenes) > 0 {
		idx := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			idx = *doc.Scene
		}
		if s := doc.Scenes[idx]; s != nil {
			return s.Nodes
		}
		return nil
	}

	child := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			child[c] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !child[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

func visitNode(doc *gltf.Document, idx int, parent mgl64.Mat4, box AABB, depth int) AABB {
	if idx < 0 || idx >= len(doc.Nodes) || depth > maxNodeDepth {
		return box
	}
	n := doc.Nodes[idx]
	if n == nil {
		return box
	}
	world := parent.Mul4(localMatrix(n))

	if n.Mesh != nil && *n.Mesh >= 0 && *n.Mesh < len(doc.Meshes) {
		if mesh := doc.Meshes[*n.Mesh]; mesh != nil {
			for _, p := range mesh.Primitives {
				box = expandPrimitive(doc, p, world, box)
			}
		}
	}
	for _, c := range n.Children {
		box = visitNode(doc, c, world, box, depth+1)
	}
	return box
}

func expandPrimitive(doc *gltf.Document, p *gltf.Primitive, world mgl64.Mat4, box AABB) AABB {
	if p == nil {
		return box
	}
	ai, ok := p.Attributes[gltf.POSITION]
	if !ok || ai < 0 || ai >= len(doc.Accessors) {
		return box
	}
	acc := doc.Accessors[ai]
	if acc == nil || len(acc.Min) < 3 || len(acc.Max) < 3 {
		return box
	}
	lo, hi := acc.Min, acc.Max
	for i := 0; i < 8; i++ {
		corner := mgl64.Vec4{pick(i&1, lo[0], hi[0]), pick(i&2, lo[1], hi[1]), pick(i&4, lo[2], hi[2]), 1}
		w := world.Mul4x1(corner)
		box = box.Expand(model.Vec3{X: w[0], Y: w[1], Z: w[2]})
	}
	return box
}

func pick(bit int, lo, hi float64) float64 {
	if bit == 0 {
		return lo
	}
	return hi
}

// localMatrix returns the node transform. An explicit non-identity matrix
// wins over TRS; zero-valued TRS components are read as their defaults.
func localMatrix(n *gltf.Node) mgl64.Mat4 {
	m := mgl64.Mat4(n.Matrix)
	if m != (mgl64.Mat4{}) && m != mgl64.Ident4() {
		return m
	}

	t := n.Translation
	s := n.Scale
	if s == ([3]float64{}) {
		s = [3]float64{1, 1, 1}
	}
	rot := mgl64.QuatIdent()
	if r := n.Rotation; r != ([4]float64{}) {
		rot = mgl64.Quat{W: r[3], V: mgl64.Vec3{r[0], r[1], r[2]}}.Normalize()
	}

	return mgl64.Translate3D(t[0], t[1], t[2]).
		Mul4(rot.Mat4()).
		Mul4(mgl64.Scale3D(s[0], s[1], s[2]))
}

// PlaceholderModel builds the stand-in box shown while no asset is
// available. It spans DefaultScaledBounds around the origin and carries a
// single paintable material.
func PlaceholderModel() *gltf.Document {
	hx, hy, hz := float32(DefaultScaledBounds.X/2), float32(DefaultScaledBounds.Y/2), float32(DefaultScaledBounds.Z/2)
	positions := [][3]float32{
		{-hx, -hy, -hz}, {hx, -hy, -hz}, {hx, hy, -hz}, {-hx, hy, -hz},
		{-hx, -hy, hz}, {hx, -hy, hz}, {hx, hy, hz}, {-hx, hy, hz},
	}
	indices := []uint16{
		0, 2, 1, 0, 3, 2, // back
		4, 5, 6, 4, 6, 7, // front
		0, 1, 5, 0, 5, 4, // bottom
		3, 7, 6, 3, 6, 2, // top
		0, 4, 7, 0, 7, 3, // left
		1, 2, 6, 1, 6, 5, // right
	}

	doc := &gltf.Document{
		Asset: gltf.Asset{Version: "2.0", Generator: "zoneconfigurator"},
	}
	pos := modeler.WritePosition(doc, positions)
	doc.Accessors[pos].Min = []float64{float64(-hx), float64(-hy), float64(-hz)}
	doc.Accessors[pos].Max = []float64{float64(hx), float64(hy), float64(hz)}
	idx := modeler.WriteIndices(doc, indices)
	doc.Materials = []*gltf.Material{{
		Name: "body_placeholder",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{0.5, 0.5, 0.5, 1},
		},
	}}
	doc.Meshes = []*gltf.Mesh{{
		Name: "placeholder",
		Primitives: []*gltf.Primitive{{
			Indices:    gltf.Index(idx),
			Attributes: map[string]int{gltf.POSITION: pos},
			Material:   gltf.Index(0),
		}},
	}}
	doc.Nodes = []*gltf.Node{{Name: "placeholder", Mesh: gltf.Index(0)}}
	doc.Scenes = []*gltf.Scene{{Name: "placeholder", Nodes: []int{0}}}
	doc.Scene = gltf.Index(0)
	return doc
}
