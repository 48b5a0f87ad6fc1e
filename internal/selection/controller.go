// Package selection implements the hotspot selection state machine shared
// by the 2D and 3D configurators, and the engine that persists sessions.
//
// A session is Idle while no service dialog is open and Editing while one
// is. Edits live in the session's EditBuffer until saved; cancelling or
// switching vehicle discards them.
package selection

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/detailhub/zoneconfigurator/internal/config"
	"github.com/detailhub/zoneconfigurator/internal/geometry"
	"github.com/detailhub/zoneconfigurator/model"
)

// Catalog is the zone and service lookup the controller needs.
// *catalog.Registry implements it.
type Catalog interface {
	ZoneDefinitions(mode model.Mode, category model.VehicleCategory, view model.ViewAngle) []model.ZoneDefinition
	ZoneByID(mode model.Mode, category model.VehicleCategory, view model.ViewAngle, id string) (model.ZoneDefinition, bool)
	ServiceCatalog(zoneType model.ZoneType) []model.ServiceCatalogEntry
	ResolveCategory(mode model.Mode, category model.VehicleCategory) model.VehicleCategory
	ResolveView(view model.ViewAngle) model.ViewAngle
}

// ServiceOption is one row of the service dialog.
type ServiceOption struct {
	Name    string `json:"name"`
	Price   int    `json:"price"`
	Checked bool   `json:"checked"`
}

// DialogView is the derived state of an open service dialog.
type DialogView struct {
	ZoneID          string          `json:"zone_id"`
	ZoneName        string          `json:"zone_name"`
	ZoneType        model.ZoneType  `json:"zone_type"`
	Options         []ServiceOption `json:"options"`
	PriceOverride   string          `json:"price_override"`
	CalculatedPrice int             `json:"calculated_price"`
	DisplayedPrice  int             `json:"displayed_price"`
	OverrideApplied bool            `json:"override_applied"`
	CanSave         bool            `json:"can_save"`
}

// VehicleChange describes a category, view or vehicle switch. Empty fields
// keep the session's current value.
type VehicleChange struct {
	Category model.VehicleCategory
	View     model.ViewAngle
	Make     string
	Model    string
}

// SwitchResult reports what a vehicle switch did to the session.
type SwitchResult struct {
	Category        model.VehicleCategory `json:"category"`
	View            model.ViewAngle       `json:"view,omitempty"`
	VehicleChanged  bool                  `json:"vehicle_changed"`
	DialogCancelled bool                  `json:"dialog_cancelled"`
	Orphaned        []string              `json:"orphaned,omitempty"`
	Pruned          []model.SelectedZone  `json:"pruned,omitempty"`
}

// Controller applies user actions to a session. It holds no session state
// of its own and is safe for concurrent use.
type Controller struct {
	catalog      Catalog
	orphanPolicy string
}

// NewController creates a controller. An empty orphan policy preserves
// orphaned selections.
func NewController(catalog Catalog, orphanPolicy string) *Controller {
	if orphanPolicy == "" {
		orphanPolicy = config.OrphanPreserve
	}
	return &Controller{catalog: catalog, orphanPolicy: orphanPolicy}
}

// OrphanPolicy returns the policy applied on vehicle switches.
func (c *Controller) OrphanPolicy() string {
	return c.orphanPolicy
}

// Open moves the session to Editing for a hotspot. The buffer starts from
// the zone's current selection, if any. An already open dialog is
// discarded.
func (c *Controller) Open(s *model.Session, zoneID string) error {
	if s.ReadOnly {
		return model.NewReadOnlyError()
	}
	def, ok := c.catalog.ZoneByID(s.Mode, s.Category, s.ViewAngle, zoneID)
	if !ok {
		return model.NewZoneNotFoundError(zoneID)
	}

	buf := &model.EditBuffer{
		ZoneID:   def.ID,
		ZoneName: def.Name,
		ZoneType: def.ZoneType,
		Services: []string{},
	}
	if i := s.ZoneIndex(zoneID); i >= 0 {
		existing := s.Zones[i]
		buf.Services = slices.Clone(existing.Services)
		if calc := c.calculatedPrice(def.ZoneType, buf.Services); existing.Price != calc {
			buf.PriceOverride = strconv.Itoa(existing.Price)
		}
	}
	s.Active = buf
	return nil
}

// Seed sets the zones a session starts with. Entries without an id are
// skipped and the last entry per id wins at the position of its first
// occurrence. Every zone needs at least one service. Name and zone type come
// from the catalog when the id resolves in the session's view; otherwise the
// entry must carry them. A zero price is replaced by the calculated one.
func (c *Controller) Seed(s *model.Session, zones []model.SelectedZone) error {
	out := make([]model.SelectedZone, 0, len(zones))
	index := make(map[string]int, len(zones))
	var details []model.FieldError
	for i, z := range zones {
		if z.ID == "" {
			continue
		}
		field := fmt.Sprintf("zones[%d]", i)
		if len(z.Services) == 0 {
			details = append(details, model.FieldError{
				Field:   field + ".services",
				Code:    "required",
				Message: fmt.Sprintf("zone %q needs at least one service", z.ID),
			})
			continue
		}
		if def, ok := c.catalog.ZoneByID(s.Mode, s.Category, s.ViewAngle, z.ID); ok {
			z.Name = def.Name
			z.ZoneType = def.ZoneType
		} else if z.Name == "" || z.ZoneType == "" {
			details = append(details, model.FieldError{
				Field:   field,
				Code:    "unknown_zone",
				Message: fmt.Sprintf("zone %q is not in the catalog and lacks name or zone_type", z.ID),
			})
			continue
		}
		z.Services = slices.Clone(z.Services)
		if z.Price <= 0 {
			z.Price = c.calculatedPrice(z.ZoneType, z.Services)
		}
		if j, ok := index[z.ID]; ok {
			out[j] = z
			continue
		}
		index[z.ID] = len(out)
		out = append(out, z)
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	s.Zones = out
	return nil
}

// ToggleService flips membership of a service in the open dialog.
func (c *Controller) ToggleService(s *model.Session, name string) error {
	if err := c.requireEditing(s); err != nil {
		return err
	}
	buf := s.Active
	if i := slices.Index(buf.Services, name); i >= 0 {
		buf.Services = slices.Delete(buf.Services, i, i+1)
		return nil
	}
	if _, ok := c.servicePrice(buf.ZoneType, name); !ok {
		return model.NewValidationError([]model.FieldError{{
			Field:   "service",
			Code:    "unknown_service",
			Message: fmt.Sprintf("service %q is not offered for %s zones", name, buf.ZoneType),
		}})
	}
	buf.Services = append(buf.Services, name)
	return nil
}

// SetPriceOverride stores the raw override text of the open dialog.
// Invalid text is kept as typed and ignored when pricing.
func (c *Controller) SetPriceOverride(s *model.Session, text string) error {
	if err := c.requireEditing(s); err != nil {
		return err
	}
	s.Active.PriceOverride = text
	return nil
}

// Dialog returns the derived dialog state, or nil while Idle.
func (c *Controller) Dialog(s *model.Session) *DialogView {
	buf := s.Active
	if buf == nil {
		return nil
	}

	entries := c.catalog.ServiceCatalog(buf.ZoneType)
	options := make([]ServiceOption, 0, len(entries))
	for _, e := range entries {
		options = append(options, ServiceOption{
			Name:    e.Name,
			Price:   e.Price,
			Checked: slices.Contains(buf.Services, e.Name),
		})
	}

	calc := c.calculatedPrice(buf.ZoneType, buf.Services)
	displayed := calc
	override, applied := ParsePriceOverride(buf.PriceOverride)
	if applied {
		displayed = override
	}

	return &DialogView{
		ZoneID:          buf.ZoneID,
		ZoneName:        buf.ZoneName,
		ZoneType:        buf.ZoneType,
		Options:         options,
		PriceOverride:   buf.PriceOverride,
		CalculatedPrice: calc,
		DisplayedPrice:  displayed,
		OverrideApplied: applied,
		CanSave:         len(buf.Services) > 0,
	}
}

// Save commits the open dialog into the session's zones, replacing any
// existing selection of the same zone, and returns the session to Idle.
func (c *Controller) Save(s *model.Session) (model.SelectedZone, error) {
	if err := c.requireEditing(s); err != nil {
		return model.SelectedZone{}, err
	}
	buf := s.Active
	if len(buf.Services) == 0 {
		return model.SelectedZone{}, model.NewValidationError([]model.FieldError{{
			Field:   "services",
			Code:    "required",
			Message: "select at least one service",
		}})
	}

	services := c.normalizeServices(buf.ZoneType, buf.Services)
	price := c.calculatedPrice(buf.ZoneType, services)
	if override, ok := ParsePriceOverride(buf.PriceOverride); ok {
		price = override
	}

	zone := model.SelectedZone{
		ID:       buf.ZoneID,
		Name:     buf.ZoneName,
		ZoneType: buf.ZoneType,
		Services: services,
		Price:    price,
	}
	if i := s.ZoneIndex(zone.ID); i >= 0 {
		s.Zones[i] = zone
	} else {
		s.Zones = append(s.Zones, zone)
	}
	s.Active = nil
	return zone, nil
}

// Cancel discards the open dialog. It reports false when no dialog was
// open.
func (c *Controller) Cancel(s *model.Session) bool {
	if s.Active == nil {
		return false
	}
	s.Active = nil
	return true
}

// Remove deletes a selected zone by id. The dialog state is untouched.
func (c *Controller) Remove(s *model.Session, zoneID string) (model.SelectedZone, error) {
	if s.ReadOnly {
		return model.SelectedZone{}, model.NewReadOnlyError()
	}
	i := s.ZoneIndex(zoneID)
	if i < 0 {
		return model.SelectedZone{}, model.NewZoneNotFoundError(zoneID)
	}
	removed := s.Zones[i]
	s.Zones = slices.Delete(s.Zones, i, i+1)
	return removed, nil
}

// SwitchVehicle changes category, view or vehicle. Any open dialog is
// cancelled. Selections whose zone does not exist in the new table are
// kept or dropped according to the orphan policy.
func (c *Controller) SwitchVehicle(s *model.Session, change VehicleChange) (SwitchResult, error) {
	if s.ReadOnly {
		return SwitchResult{}, model.NewReadOnlyError()
	}

	if change.Category != "" {
		s.Category = c.catalog.ResolveCategory(s.Mode, change.Category)
	}
	if s.Mode == model.Mode2D && change.View != "" {
		s.ViewAngle = c.catalog.ResolveView(change.View)
	}

	var res SwitchResult
	if change.Make != "" || change.Model != "" {
		res.VehicleChanged = !strings.EqualFold(change.Make, s.VehicleMake) ||
			!strings.EqualFold(change.Model, s.VehicleModel)
		s.VehicleMake = change.Make
		s.VehicleModel = change.Model
	}
	res.DialogCancelled = c.Cancel(s)

	orphaned := c.Orphans(s)
	if c.orphanPolicy == config.OrphanPrune && len(orphaned) > 0 {
		kept := s.Zones[:0:0]
		for _, z := range s.Zones {
			if slices.Contains(orphaned, z.ID) {
				res.Pruned = append(res.Pruned, z)
				continue
			}
			kept = append(kept, z)
		}
		s.Zones = kept
		orphaned = nil
	}

	res.Category = s.Category
	res.View = s.ViewAngle
	res.Orphaned = orphaned
	return res, nil
}

// SetColor sets the paint color of the session and returns its normalized
// hex form.
func (c *Controller) SetColor(s *model.Session, hex string) (string, error) {
	if s.ReadOnly {
		return "", model.NewReadOnlyError()
	}
	color, err := geometry.ParseColor(hex)
	if err != nil {
		return "", model.NewValidationError([]model.FieldError{{
			Field:   "color",
			Code:    "invalid_color",
			Message: err.Error(),
		}})
	}
	s.Color = color.Hex
	return color.Hex, nil
}

// Total is the sum of all selected zone prices, recomputed on every call.
func (c *Controller) Total(s *model.Session) int {
	return s.TotalPrice()
}

// Orphans returns the ids of selected zones that have no hotspot in the
// session's current zone table.
func (c *Controller) Orphans(s *model.Session) []string {
	defs := c.catalog.ZoneDefinitions(s.Mode, s.Category, s.ViewAngle)
	var orphaned []string
	for _, z := range s.Zones {
		if !slices.ContainsFunc(defs, func(d model.ZoneDefinition) bool { return d.ID == z.ID }) {
			orphaned = append(orphaned, z.ID)
		}
	}
	return orphaned
}

func (c *Controller) requireEditing(s *model.Session) error {
	if s.ReadOnly {
		return model.NewReadOnlyError()
	}
	if s.Active == nil {
		return model.NewInvalidTransitionError("no service dialog is open")
	}
	return nil
}

func (c *Controller) servicePrice(zoneType model.ZoneType, name string) (int, bool) {
	for _, e := range c.catalog.ServiceCatalog(zoneType) {
		if e.Name == name {
			return e.Price, true
		}
	}
	return 0, false
}

// calculatedPrice sums catalog prices. Services no longer in the catalog
// count as zero.
func (c *Controller) calculatedPrice(zoneType model.ZoneType, services []string) int {
	sum := 0
	for _, name := range services {
		if p, ok := c.servicePrice(zoneType, name); ok {
			sum += p
		}
	}
	return sum
}

// normalizeServices orders services as the catalog lists them, followed by
// any unknown names in their original order.
func (c *Controller) normalizeServices(zoneType model.ZoneType, services []string) []string {
	out := make([]string, 0, len(services))
	for _, e := range c.catalog.ServiceCatalog(zoneType) {
		if slices.Contains(services, e.Name) {
			out = append(out, e.Name)
		}
	}
	for _, name := range services {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

// ParsePriceOverride parses override text as a non-negative base-10
// integer. Surrounding spaces are ignored; anything else reports false.
func ParsePriceOverride(text string) (int, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0, false
	}
	for _, r := range t {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(t)
	if err != nil {
		return 0, false
	}
	return v, true
}
