package geometry

import (
	"slices"

	"github.com/qmuntal/gltf"
)

// MaterialResult records the decision for one material.
type MaterialResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Decision PaintDecision `json:"decision"`
}

// RecolorReport lists what Recolor painted and kept.
type RecolorReport struct {
	Color   string           `json:"color"`
	Painted []MaterialResult `json:"painted"`
	Kept    []MaterialResult `json:"kept"`
}

// Recolor returns a copy of doc whose paintable materials carry color as
// their base color factor. doc itself is never modified: painted materials
// are replaced by copies, the rest are shared. Applying the same color
// twice yields the same factors.
func Recolor(doc *gltf.Document, color Color, classifier Classifier) (*gltf.Document, RecolorReport) {
	report := RecolorReport{Color: color.Hex}
	if doc == nil {
		return nil, report
	}

	out := *doc
	out.Materials = slices.Clone(doc.Materials)
	meshNames := meshNamesByMaterial(doc)

	for i, m := range doc.Materials {
		if m == nil {
			continue
		}
		d := classifier.Classify(Part{Material: m.Name, Meshes: meshNames[i]})
		res := MaterialResult{Index: i, Name: m.Name, Decision: d}
		if !d.Paint {
			report.Kept = append(report.Kept, res)
			continue
		}
		out.Materials[i] = paint(m, color)
		report.Painted = append(report.Painted, res)
	}
	return &out, report
}

func paint(m *gltf.Material, color Color) *gltf.Material {
	alpha := 1.0
	pbr := gltf.PBRMetallicRoughness{}
	if m.PBRMetallicRoughness != nil {
		pbr = *m.PBRMetallicRoughness
		if pbr.BaseColorFactor != nil {
			alpha = pbr.BaseColorFactor[3]
		}
	}
	factor := color.Factor(alpha)
	pbr.BaseColorFactor = &factor

	c := *m
	c.PBRMetallicRoughness = &pbr
	return &c
}

// meshNamesByMaterial collects, per material index, the names of the meshes
// and nodes that render with it.
func meshNamesByMaterial(doc *gltf.Document) map[int][]string {
	byMesh := make(map[int][]string)
	for _, n := range doc.Nodes {
		if n != nil && n.Mesh != nil && n.Name != "" {
			byMesh[*n.Mesh] = append(byMesh[*n.Mesh], n.Name)
		}
	}

	names := make(map[int][]string)
	for mi, mesh := range doc.Meshes {
		if mesh == nil {
			continue
		}
		for _, p := range mesh.Primitives {
			if p == nil || p.Material == nil {
				continue
			}
			if mesh.Name != "" {
				names[*p.Material] = append(names[*p.Material], mesh.Name)
			}
			names[*p.Material] = append(names[*p.Material], byMesh[mi]...)
		}
	}
	return names
}
