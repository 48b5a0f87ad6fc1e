package catalog

import (
	"testing"

	"github.com/detailhub/zoneconfigurator/model"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(embeddedTables(t), nil)
}

// --- Completeness ---

func TestRegistry_every2DTableHasServices(t *testing.T) {
	r := newTestRegistry(t)
	for _, cat := range r.Categories(model.Mode2D) {
		for _, view := range r.ViewAngles() {
			defs := r.ZoneDefinitions(model.Mode2D, cat, view)
			if len(defs) == 0 {
				t.Errorf("ZoneDefinitions(2d, %s, %s) is empty", cat, view)
			}
			for _, d := range defs {
				if len(r.ServiceCatalog(d.ZoneType)) == 0 {
					t.Errorf("ServiceCatalog(%s) for %s/%s/%s is empty", d.ZoneType, cat, view, d.ID)
				}
				if d.Position2D == nil {
					t.Errorf("%s/%s/%s has no 2D position", cat, view, d.ID)
				}
			}
		}
	}
}

func TestRegistry_every3DTableHasServices(t *testing.T) {
	r := newTestRegistry(t)
	for _, cat := range r.Categories(model.Mode3D) {
		defs := r.ZoneDefinitions(model.Mode3D, cat, "")
		if len(defs) == 0 {
			t.Errorf("ZoneDefinitions(3d, %s) is empty", cat)
		}
		for _, d := range defs {
			if len(r.ServiceCatalog(d.ZoneType)) == 0 {
				t.Errorf("ServiceCatalog(%s) for %s/%s is empty", d.ZoneType, cat, d.ID)
			}
			if d.Position3D == nil {
				t.Errorf("%s/%s has no 3D position", cat, d.ID)
			}
		}
	}
}

func TestRegistry_bikeUsesItsOwnZones(t *testing.T) {
	r := newTestRegistry(t)
	ids := make(map[string]bool)
	for _, d := range r.ZoneDefinitions(model.Mode3D, model.CategoryBike, "") {
		ids[d.ID] = true
	}
	for _, want := range []string{"fuel_tank", "seat", "engine", "exhaust", "handlebar"} {
		if !ids[want] {
			t.Errorf("3D bike table is missing %q", want)
		}
	}
	for _, unwanted := range []string{"hood", "trunk", "left_front_door"} {
		if ids[unwanted] {
			t.Errorf("3D bike table contains car zone %q", unwanted)
		}
	}
}

// --- Fallbacks ---

func TestRegistry_unknownCategoryFallsBack(t *testing.T) {
	r := newTestRegistry(t)

	got := r.ZoneDefinitions(model.Mode2D, "hovercraft", model.ViewSide)
	want := r.ZoneDefinitions(model.Mode2D, model.CategorySedan, model.ViewSide)
	if len(got) != len(want) || got[0].ID != want[0].ID {
		t.Errorf("unknown 2D category did not fall back to sedan")
	}

	got = r.ZoneDefinitions(model.Mode3D, "hovercraft", "")
	want = r.ZoneDefinitions(model.Mode3D, model.CategoryCar, "")
	if len(got) != len(want) || got[0].ID != want[0].ID {
		t.Errorf("unknown 3D category did not fall back to car")
	}

	if c := r.ResolveCategory(model.Mode2D, model.CategoryCar); c != model.CategorySedan {
		t.Errorf("ResolveCategory(2d, car) = %q, want sedan", c)
	}
	if c := r.ResolveCategory(model.Mode3D, model.CategoryTruck); c != model.CategoryTruck {
		t.Errorf("ResolveCategory(3d, truck) = %q, want truck", c)
	}
}

func TestRegistry_unknownViewFallsBackToSide(t *testing.T) {
	r := newTestRegistry(t)
	got := r.ZoneDefinitions(model.Mode2D, model.CategorySedan, "isometric")
	want := r.ZoneDefinitions(model.Mode2D, model.CategorySedan, model.ViewSide)
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i].ID != want[i].ID {
			t.Errorf("[%d] = %q, want %q", i, got[i].ID, want[i].ID)
		}
	}
	if v := r.ResolveView(""); v != model.ViewSide {
		t.Errorf("ResolveView(\"\") = %q, want side", v)
	}
}

func TestRegistry_ServiceCatalog_fallsBackToExterior(t *testing.T) {
	r := newTestRegistry(t)
	got := r.ServiceCatalog("paintwork")
	want := r.ServiceCatalog(model.ZoneExterior)
	if len(got) == 0 || len(got) != len(want) {
		t.Fatalf("ServiceCatalog(paintwork) = %v, want exterior menu", got)
	}
	if got[0] != want[0] {
		t.Errorf("ServiceCatalog(paintwork)[0] = %v, want %v", got[0], want[0])
	}
}

func TestRegistry_ServiceCatalog_prices(t *testing.T) {
	r := newTestRegistry(t)
	prices := make(map[string]int)
	for _, zt := range []model.ZoneType{model.ZoneExterior, model.ZoneWheels} {
		for _, s := range r.ServiceCatalog(zt) {
			prices[s.Name] = s.Price
		}
	}
	tests := map[string]int{
		"Wash & Dry":   500,
		"Wax Coating":  1500,
		"Wheel Polish": 1500,
	}
	for name, want := range tests {
		if got := prices[name]; got != want {
			t.Errorf("price of %q = %d, want %d", name, got, want)
		}
	}
}

// --- Lookups ---

func TestRegistry_ZoneByID(t *testing.T) {
	r := newTestRegistry(t)
	d, ok := r.ZoneByID(model.Mode2D, model.CategorySedan, model.ViewSide, "front_door")
	if !ok {
		t.Fatal("ZoneByID(front_door) not found")
	}
	if d.ZoneType != model.ZoneExterior {
		t.Errorf("front_door.ZoneType = %q, want exterior", d.ZoneType)
	}
	if _, ok := r.ZoneByID(model.Mode2D, model.CategorySedan, model.ViewFront, "rear_wheel"); ok {
		t.Error("ZoneByID(rear_wheel) found in front view, want miss")
	}
}

func TestRegistry_returnsCopies(t *testing.T) {
	r := newTestRegistry(t)
	defs := r.ZoneDefinitions(model.Mode2D, model.CategorySedan, model.ViewSide)
	origID := defs[0].ID
	origX := defs[0].Position2D.X
	defs[0].ID = "mutated"
	defs[0].Position2D.X = -1

	again := r.ZoneDefinitions(model.Mode2D, model.CategorySedan, model.ViewSide)
	if again[0].ID != origID {
		t.Errorf("ID = %q after caller mutation, want %q", again[0].ID, origID)
	}
	if again[0].Position2D.X != origX {
		t.Errorf("X = %v after caller mutation, want %v", again[0].Position2D.X, origX)
	}

	svc := r.ServiceCatalog(model.ZoneGlass)
	svc[0].Price = 0
	if r.ServiceCatalog(model.ZoneGlass)[0].Price == 0 {
		t.Error("ServiceCatalog returned shared slice")
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := newTestRegistry(t)
	before := r.Checksum()

	r.Replace(&Tables{
		Zones2D: map[string]map[string][]ZoneEntry2D{
			"sedan": {"side": {{ID: "roof", Name: "Roof", ZoneType: "exterior", X: 50, Y: 10}}},
		},
		Services: map[string][]ServiceEntry{"exterior": {{Name: "Wash", Price: 100}}},
		Checksum: "abc",
		Source:   "test",
	})

	if r.Checksum() == before || r.Checksum() != "abc" {
		t.Errorf("Checksum() = %q, want abc", r.Checksum())
	}
	if r.Source() != "test" {
		t.Errorf("Source() = %q, want test", r.Source())
	}
	st := r.Stats()
	if st.Zones2D != 1 || st.Zones3D != 0 || st.Services != 1 {
		t.Errorf("Stats() = %+v, want {1 0 1}", st)
	}
}
