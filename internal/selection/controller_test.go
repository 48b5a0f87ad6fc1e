package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detailhub/zoneconfigurator/internal/catalog"
	"github.com/detailhub/zoneconfigurator/internal/config"
	"github.com/detailhub/zoneconfigurator/model"
)

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	tables, err := catalog.NewLoader().LoadEmbedded()
	require.NoError(t, err)
	return catalog.NewRegistry(tables, nil)
}

func newTestController(t *testing.T, policy string) *Controller {
	t.Helper()
	return NewController(testRegistry(t), policy)
}

func sedanSide() *model.Session {
	return &model.Session{
		ID:        "s1",
		TenantID:  "t1",
		Mode:      model.Mode2D,
		Category:  model.CategorySedan,
		ViewAngle: model.ViewSide,
		Zones:     []model.SelectedZone{},
		Version:   1,
	}
}

func selectZone(t *testing.T, c *Controller, s *model.Session, zoneID string, services ...string) model.SelectedZone {
	t.Helper()
	require.NoError(t, c.Open(s, zoneID))
	for _, name := range services {
		require.NoError(t, c.ToggleService(s, name))
	}
	zone, err := c.Save(s)
	require.NoError(t, err)
	return zone
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	ee, ok := model.AsEnvelope(err)
	require.True(t, ok, "error %v is not an envelope", err)
	assert.Equal(t, code, ee.Code)
}

func TestController_endToEndSedanScenario(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	zone := selectZone(t, c, s, "front_door", "Wash & Dry", "Wax Coating")
	assert.Equal(t, model.SelectedZone{
		ID:       "front_door",
		Name:     "Front Door",
		ZoneType: model.ZoneExterior,
		Services: []string{"Wash & Dry", "Wax Coating"},
		Price:    2000,
	}, zone)
	assert.Equal(t, 2000, c.Total(s))

	selectZone(t, c, s, "rear_wheel", "Wheel Polish")
	assert.Equal(t, 3500, c.Total(s))

	_, err := c.Remove(s, "front_door")
	require.NoError(t, err)
	assert.Equal(t, 1500, c.Total(s))
	require.Len(t, s.Zones, 1)
	assert.Equal(t, "rear_wheel", s.Zones[0].ID)
}

func TestController_reselectionReplaces(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	selectZone(t, c, s, "hood", "Wash & Dry")
	selectZone(t, c, s, "roof", "Wax Coating")

	// Re-opening pre-fills the buffer, so saving as is keeps the selection.
	require.NoError(t, c.Open(s, "hood"))
	assert.Equal(t, []string{"Wash & Dry"}, s.Active.Services)
	_, err := c.Save(s)
	require.NoError(t, err)

	require.Len(t, s.Zones, 2)
	assert.Equal(t, "hood", s.Zones[0].ID, "replacement keeps position")
	assert.Equal(t, 500, s.Zones[0].Price)
	assert.Equal(t, 2000, c.Total(s))
}

func TestController_reselectionUpdatesInPlace(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	selectZone(t, c, s, "hood", "Wash & Dry")
	selectZone(t, c, s, "roof", "Wax Coating")
	selectZone(t, c, s, "hood", "Ceramic Coating")

	require.Len(t, s.Zones, 2)
	assert.Equal(t, []string{"Wash & Dry", "Ceramic Coating"}, s.Zones[0].Services)
	assert.Equal(t, 8500, s.Zones[0].Price)
	assert.Equal(t, 10000, c.Total(s))
}

func TestController_priceOverride(t *testing.T) {
	tests := []struct {
		name     string
		override string
		want     int
	}{
		{"none", "", 2000},
		{"valid", "1800", 1800},
		{"zero", "0", 0},
		{"padded", "  2500 ", 2500},
		{"above sum", "99999", 99999},
		{"negative ignored", "-5", 2000},
		{"fraction ignored", "12.5", 2000},
		{"text ignored", "cheap", 2000},
		{"overflow ignored", "99999999999999999999999", 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t, "")
			s := sedanSide()

			require.NoError(t, c.Open(s, "front_door"))
			require.NoError(t, c.ToggleService(s, "Wash & Dry"))
			require.NoError(t, c.ToggleService(s, "Wax Coating"))
			require.NoError(t, c.SetPriceOverride(s, tt.override))

			d := c.Dialog(s)
			require.NotNil(t, d)
			assert.Equal(t, 2000, d.CalculatedPrice)
			assert.Equal(t, tt.want, d.DisplayedPrice)

			zone, err := c.Save(s)
			require.NoError(t, err)
			assert.Equal(t, tt.want, zone.Price)
			assert.Equal(t, tt.want, c.Total(s))
		})
	}
}

func TestController_openPrefillsOverrideOnlyWhenPriceDiffers(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	selectZone(t, c, s, "hood", "Wash & Dry")
	require.NoError(t, c.Open(s, "hood"))
	assert.Empty(t, s.Active.PriceOverride)
	c.Cancel(s)

	require.NoError(t, c.Open(s, "roof"))
	require.NoError(t, c.ToggleService(s, "Wash & Dry"))
	require.NoError(t, c.SetPriceOverride(s, "750"))
	_, err := c.Save(s)
	require.NoError(t, err)

	require.NoError(t, c.Open(s, "roof"))
	assert.Equal(t, "750", s.Active.PriceOverride)
	d := c.Dialog(s)
	assert.True(t, d.OverrideApplied)
	assert.Equal(t, 750, d.DisplayedPrice)
}

func TestController_cancelDiscardsEdits(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()
	selectZone(t, c, s, "roof", "Wash & Dry")
	before := s.Clone()

	require.NoError(t, c.Open(s, "front_door"))
	require.NoError(t, c.ToggleService(s, "Wash & Dry"))
	require.NoError(t, c.ToggleService(s, "Scratch Removal"))
	assert.True(t, c.Cancel(s))

	assert.Nil(t, s.Active)
	assert.Equal(t, before.Zones, s.Zones)
	assert.False(t, s.IsSelected("front_door"))

	// Cancelling edits to an existing selection leaves it untouched too.
	require.NoError(t, c.Open(s, "roof"))
	require.NoError(t, c.ToggleService(s, "Wash & Dry"))
	require.NoError(t, c.SetPriceOverride(s, "1"))
	c.Cancel(s)
	assert.Equal(t, before.Zones, s.Zones)
}

func TestController_cancelWhileIdleIsNoop(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()
	assert.False(t, c.Cancel(s))
	assert.Nil(t, s.Active)
}

func TestController_toggleIsSetFlip(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	require.NoError(t, c.Open(s, "hood"))
	require.NoError(t, c.ToggleService(s, "Wax Coating"))
	require.NoError(t, c.ToggleService(s, "Wax Coating"))
	assert.Empty(t, s.Active.Services)

	d := c.Dialog(s)
	assert.False(t, d.CanSave)
	assert.Equal(t, 0, d.CalculatedPrice)
}

func TestController_saveRequiresService(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	require.NoError(t, c.Open(s, "hood"))
	_, err := c.Save(s)
	requireCode(t, err, model.ErrValidationError)
	assert.NotNil(t, s.Active, "dialog stays open")
	assert.Empty(t, s.Zones)
}

func TestController_seedRejectsZonesWithoutServices(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	err := c.Seed(s, []model.SelectedZone{
		{ID: "hood", Services: []string{"Wash & Dry"}},
		{ID: "front_door", Services: []string{}},
		{ID: "mystery", Services: []string{"Wash & Dry"}},
	})
	requireCode(t, err, model.ErrValidationError)
	ee, _ := model.AsEnvelope(err)
	require.Len(t, ee.Details, 2)
	assert.Equal(t, "zones[1].services", ee.Details[0].Field)
	assert.Equal(t, "zones[2]", ee.Details[1].Field)
	assert.Empty(t, s.Zones)
}

func TestController_seedFillsFromCatalog(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	require.NoError(t, c.Seed(s, []model.SelectedZone{
		{ID: "hood", Name: "Bonnet", ZoneType: model.ZoneGlass, Services: []string{"Wax Coating", "Wash & Dry"}},
		{ID: ""},
		{ID: "hood", Services: []string{"Wash & Dry"}, Price: 900},
	}))
	require.Len(t, s.Zones, 1)
	assert.Equal(t, model.SelectedZone{
		ID: "hood", Name: "Hood", ZoneType: model.ZoneExterior, Services: []string{"Wash & Dry"}, Price: 900,
	}, s.Zones[0])
}

func TestController_servicesFollowCatalogOrder(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	zone := selectZone(t, c, s, "hood", "Ceramic Coating", "Wash & Dry")
	assert.Equal(t, []string{"Wash & Dry", "Ceramic Coating"}, zone.Services)
}

func TestController_actionsRequireOpenDialog(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	requireCode(t, c.ToggleService(s, "Wash & Dry"), model.ErrInvalidTransition)
	requireCode(t, c.SetPriceOverride(s, "10"), model.ErrInvalidTransition)
	_, err := c.Save(s)
	requireCode(t, err, model.ErrInvalidTransition)
	assert.Nil(t, c.Dialog(s))
}

func TestController_unknownServiceRejected(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	require.NoError(t, c.Open(s, "rear_wheel"))
	err := c.ToggleService(s, "Wash & Dry")
	requireCode(t, err, model.ErrValidationError)
	assert.Empty(t, s.Active.Services)
}

func TestController_openUnknownZone(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	requireCode(t, c.Open(s, "fuel_tank"), model.ErrZoneNotFound)
	assert.Nil(t, s.Active)
}

func TestController_openReplacesOpenDialog(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	require.NoError(t, c.Open(s, "hood"))
	require.NoError(t, c.ToggleService(s, "Wash & Dry"))
	require.NoError(t, c.Open(s, "rear_wheel"))

	assert.Equal(t, "rear_wheel", s.Active.ZoneID)
	assert.Empty(t, s.Active.Services)
	assert.Empty(t, s.Zones)
}

func TestController_removeIsIndependentOfDialog(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()
	selectZone(t, c, s, "hood", "Wash & Dry")

	require.NoError(t, c.Open(s, "roof"))
	removed, err := c.Remove(s, "hood")
	require.NoError(t, err)
	assert.Equal(t, "hood", removed.ID)
	assert.Equal(t, "roof", s.Active.ZoneID)
	assert.Equal(t, 0, c.Total(s))

	_, err = c.Remove(s, "hood")
	requireCode(t, err, model.ErrZoneNotFound)
}

func TestController_readOnlyRefusesMutations(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()
	s.Zones = []model.SelectedZone{{ID: "hood", Name: "Hood", ZoneType: model.ZoneExterior, Services: []string{"Wash & Dry"}, Price: 500}}
	s.ReadOnly = true

	requireCode(t, c.Open(s, "roof"), model.ErrReadOnly)
	_, err := c.Remove(s, "hood")
	requireCode(t, err, model.ErrReadOnly)
	_, err = c.SwitchVehicle(s, VehicleChange{Category: model.CategorySUV})
	requireCode(t, err, model.ErrReadOnly)
	_, err = c.SetColor(s, "#ff0000")
	requireCode(t, err, model.ErrReadOnly)

	assert.Len(t, s.Zones, 1)
	assert.Equal(t, 500, c.Total(s))
}

func TestController_switchPreservesOrphans(t *testing.T) {
	c := newTestController(t, config.OrphanPreserve)
	s := sedanSide()
	selectZone(t, c, s, "front_door", "Wash & Dry")
	selectZone(t, c, s, "front_wheel", "Wheel Polish")

	res, err := c.SwitchVehicle(s, VehicleChange{Category: model.CategoryBike})
	require.NoError(t, err)

	assert.Equal(t, model.CategoryBike, res.Category)
	assert.Equal(t, model.ViewSide, res.View)
	assert.Contains(t, res.Orphaned, "front_door")
	assert.Empty(t, res.Pruned)
	assert.Len(t, s.Zones, 2)
	assert.Equal(t, 2000, c.Total(s))
	assert.Equal(t, res.Orphaned, c.Orphans(s))
}

func TestController_switchPrunesOrphans(t *testing.T) {
	c := newTestController(t, config.OrphanPrune)
	s := sedanSide()
	selectZone(t, c, s, "front_door", "Wash & Dry")
	selectZone(t, c, s, "hood", "Wax Coating")

	res, err := c.SwitchVehicle(s, VehicleChange{View: model.ViewFront})
	require.NoError(t, err)

	require.Len(t, res.Pruned, 1)
	assert.Equal(t, "front_door", res.Pruned[0].ID)
	assert.Empty(t, res.Orphaned)
	require.Len(t, s.Zones, 1)
	assert.Equal(t, "hood", s.Zones[0].ID)
	assert.Equal(t, 1500, c.Total(s))
	assert.Empty(t, c.Orphans(s))
}

func TestController_switchCancelsDialogAndFallsBack(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	require.NoError(t, c.Open(s, "hood"))
	res, err := c.SwitchVehicle(s, VehicleChange{Category: "spaceship", View: "diagonal"})
	require.NoError(t, err)

	assert.True(t, res.DialogCancelled)
	assert.Nil(t, s.Active)
	assert.Equal(t, model.CategorySedan, s.Category)
	assert.Equal(t, model.ViewSide, s.ViewAngle)
}

func TestController_switchReportsVehicleChange(t *testing.T) {
	c := newTestController(t, "")
	s := &model.Session{Mode: model.Mode3D, Category: model.CategoryCar, VehicleMake: "Honda", VehicleModel: "Civic"}

	res, err := c.SwitchVehicle(s, VehicleChange{Make: "honda", Model: "civic"})
	require.NoError(t, err)
	assert.False(t, res.VehicleChanged)

	res, err = c.SwitchVehicle(s, VehicleChange{Category: model.CategoryTruck, Make: "Toyota", Model: "Hilux"})
	require.NoError(t, err)
	assert.True(t, res.VehicleChanged)
	assert.Equal(t, model.CategoryTruck, s.Category)
	assert.Empty(t, s.ViewAngle)
	assert.Equal(t, "Toyota", s.VehicleMake)
}

func TestController_setColor(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	hex, err := c.SetColor(s, "F0A")
	require.NoError(t, err)
	assert.Equal(t, "#ff00aa", hex)
	assert.Equal(t, "#ff00aa", s.Color)

	_, err = c.SetColor(s, "not-a-color")
	requireCode(t, err, model.ErrValidationError)
	assert.Equal(t, "#ff00aa", s.Color)
}

func TestController_dialogView(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	require.NoError(t, c.Open(s, "rear_wheel"))
	require.NoError(t, c.ToggleService(s, "Wheel Polish"))

	d := c.Dialog(s)
	require.NotNil(t, d)
	assert.Equal(t, "rear_wheel", d.ZoneID)
	assert.Equal(t, model.ZoneWheels, d.ZoneType)
	assert.True(t, d.CanSave)
	assert.False(t, d.OverrideApplied)
	assert.Equal(t, 1500, d.CalculatedPrice)

	var checked []string
	for _, o := range d.Options {
		if o.Checked {
			checked = append(checked, o.Name)
		}
	}
	assert.Equal(t, []string{"Wheel Polish"}, checked)
	assert.Len(t, d.Options, 4)
}

func TestController_totalInvariant(t *testing.T) {
	c := newTestController(t, "")
	s := sedanSide()

	check := func() {
		sum := 0
		for _, z := range s.Zones {
			sum += z.Price
		}
		assert.Equal(t, sum, c.Total(s))
	}

	before := c.Total(s)
	z := selectZone(t, c, s, "trunk", "Paint Correction")
	assert.Equal(t, before+z.Price, c.Total(s))
	check()

	selectZone(t, c, s, "side_windows", "Glass Cleaning", "Oil Film Removal")
	check()

	before = c.Total(s)
	removed, err := c.Remove(s, "trunk")
	require.NoError(t, err)
	assert.Equal(t, before-removed.Price, c.Total(s))
	check()
}

func TestParsePriceOverride(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"", 0, false},
		{"   ", 0, false},
		{"0", 0, true},
		{"42", 42, true},
		{" 42 ", 42, true},
		{"007", 7, true},
		{"+42", 0, false},
		{"-1", 0, false},
		{"4 2", 0, false},
		{"1e3", 0, false},
		{"١٢", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePriceOverride(tt.in)
		assert.Equal(t, tt.wantOK, ok, "ParsePriceOverride(%q)", tt.in)
		assert.Equal(t, tt.want, got, "ParsePriceOverride(%q)", tt.in)
	}
}
