package model

// Mode selects the rendering flavour of a configurator session.
type Mode string

const (
	Mode2D Mode = "2d"
	Mode3D Mode = "3d"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == Mode2D || m == Mode3D
}

// ZoneType determines which services a zone offers and how it is painted.
type ZoneType string

const (
	ZoneExterior    ZoneType = "exterior"
	ZoneGlass       ZoneType = "glass"
	ZoneWheels      ZoneType = "wheels"
	ZoneInterior    ZoneType = "interior"
	ZoneLighting    ZoneType = "lighting"
	ZoneMechanical  ZoneType = "mechanical"
	ZoneAccessories ZoneType = "accessories"
	ZoneControls    ZoneType = "controls"
)

// ZoneTypes lists every zone type in display order.
var ZoneTypes = []ZoneType{
	ZoneExterior, ZoneGlass, ZoneWheels, ZoneInterior,
	ZoneLighting, ZoneMechanical, ZoneAccessories, ZoneControls,
}

// VehicleCategory selects the zone table of a session.
type VehicleCategory string

const (
	CategorySedan VehicleCategory = "sedan"
	CategorySUV   VehicleCategory = "suv"
	CategoryBike  VehicleCategory = "bike"
	CategoryCar   VehicleCategory = "car"
	CategoryTruck VehicleCategory = "truck"
	CategoryVan   VehicleCategory = "van"
)

// Categories2D and Categories3D are the category sets of each mode. The
// first entry of each is the fallback for unknown categories.
var (
	Categories2D = []VehicleCategory{CategorySedan, CategorySUV, CategoryBike}
	Categories3D = []VehicleCategory{CategoryCar, CategorySUV, CategoryTruck, CategoryVan, CategoryBike}
)

// ViewAngle is the camera angle of a 2D schematic.
type ViewAngle string

const (
	ViewFront ViewAngle = "front"
	ViewSide  ViewAngle = "side"
	ViewRear  ViewAngle = "rear"
	ViewTop   ViewAngle = "top"
)

// ViewAngles lists the 2D view angles in display order.
var ViewAngles = []ViewAngle{ViewFront, ViewSide, ViewRear, ViewTop}

// DefaultViewAngle is used when a request names no view or an unknown one.
const DefaultViewAngle = ViewSide

// Vec2 is a percentage position on a schematic, origin top-left.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Vec3 is a point or extent in scene space (x length, y up, z width).
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Mul returns the component-wise product of v and o.
func (v Vec3) Mul(o Vec3) Vec3 {
	return Vec3{X: v.X * o.X, Y: v.Y * o.Y, Z: v.Z * o.Z}
}

// Scale returns v multiplied by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// ZoneDefinition is a catalog entry describing one hotspot. Exactly one of
// Position2D and Position3D is set, depending on the table it came from.
type ZoneDefinition struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ZoneType   ZoneType `json:"zone_type"`
	Position2D *Vec2    `json:"position_2d,omitempty"`
	Position3D *Vec3    `json:"position_3d,omitempty"`
}

// ServiceCatalogEntry is a priced service offered for a zone type.
type ServiceCatalogEntry struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
}
