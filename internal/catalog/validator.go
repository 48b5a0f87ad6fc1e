package catalog

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/detailhub/zoneconfigurator/model"
)

// VError describes a single problem found in the catalog tables.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks catalog entries field by field and checks that every
// table the configurator can reach is populated.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the zonetype tag registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("zonetype", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.ZoneTypes, model.ZoneType(fl.Field().String()))
	})
	return &Validator{validate: v}
}

// Validate checks all tables and returns every problem found.
func (v *Validator) Validate(t *Tables) []VError {
	var errs []VError
	errs = append(errs, v.validateZones2D(t.Zones2D)...)
	errs = append(errs, v.validateZones3D(t.Zones3D)...)
	errs = append(errs, v.validateServices(t)...)
	return errs
}

func (v *Validator) validateZones2D(tables map[string]map[string][]ZoneEntry2D) []VError {
	var errs []VError

	for cat := range tables {
		if !slices.Contains(model.Categories2D, model.VehicleCategory(cat)) {
			errs = append(errs, VError{Path: "zones_2d." + cat, Code: "UNKNOWN_CATEGORY",
				Message: fmt.Sprintf("category %q is not a 2D category", cat)})
		}
		for view := range tables[cat] {
			if !slices.Contains(model.ViewAngles, model.ViewAngle(view)) {
				errs = append(errs, VError{Path: "zones_2d." + cat + "." + view, Code: "UNKNOWN_VIEW",
					Message: fmt.Sprintf("view angle %q is not known", view)})
			}
		}
	}

	for _, cat := range model.Categories2D {
		for _, view := range model.ViewAngles {
			prefix := fmt.Sprintf("zones_2d.%s.%s", cat, view)
			entries := tables[string(cat)][string(view)]
			if len(entries) == 0 {
				errs = append(errs, VError{Path: prefix, Code: "EMPTY_TABLE",
					Message: "at least one zone is required"})
				continue
			}
			seen := make(map[string]bool, len(entries))
			for i, e := range entries {
				path := fmt.Sprintf("%s[%d]", prefix, i)
				errs = append(errs, v.structErrors(path, e)...)
				if e.ID != "" && seen[e.ID] {
					errs = append(errs, VError{Path: path + ".id", Code: "DUPLICATE_ID",
						Message: fmt.Sprintf("zone id %q appears more than once", e.ID)})
				}
				seen[e.ID] = true
			}
		}
	}
	return errs
}

func (v *Validator) validateZones3D(tables map[string][]ZoneEntry3D) []VError {
	var errs []VError

	for cat := range tables {
		if !slices.Contains(model.Categories3D, model.VehicleCategory(cat)) {
			errs = append(errs, VError{Path: "zones_3d." + cat, Code: "UNKNOWN_CATEGORY",
				Message: fmt.Sprintf("category %q is not a 3D category", cat)})
		}
	}

	for _, cat := range model.Categories3D {
		prefix := "zones_3d." + string(cat)
		entries := tables[string(cat)]
		if len(entries) == 0 {
			errs = append(errs, VError{Path: prefix, Code: "EMPTY_TABLE",
				Message: "at least one zone is required"})
			continue
		}
		seen := make(map[string]bool, len(entries))
		for i, e := range entries {
			path := fmt.Sprintf("%s[%d]", prefix, i)
			errs = append(errs, v.structErrors(path, e)...)
			if e.ID != "" && seen[e.ID] {
				errs = append(errs, VError{Path: path + ".id", Code: "DUPLICATE_ID",
					Message: fmt.Sprintf("zone id %q appears more than once", e.ID)})
			}
			seen[e.ID] = true
		}
	}
	return errs
}

func (v *Validator) validateServices(t *Tables) []VError {
	var errs []VError

	for zt, entries := range t.Services {
		prefix := "services." + zt
		if !slices.Contains(model.ZoneTypes, model.ZoneType(zt)) {
			errs = append(errs, VError{Path: prefix, Code: "UNKNOWN_ZONE_TYPE",
				Message: fmt.Sprintf("zone type %q is not known", zt)})
		}
		seen := make(map[string]bool, len(entries))
		for i, e := range entries {
			path := fmt.Sprintf("%s[%d]", prefix, i)
			errs = append(errs, v.structErrors(path, e)...)
			if e.Name != "" && seen[e.Name] {
				errs = append(errs, VError{Path: path + ".name", Code: "DUPLICATE_SERVICE",
					Message: fmt.Sprintf("service %q appears more than once", e.Name)})
			}
			seen[e.Name] = true
		}
	}

	if len(t.Services[string(model.ZoneExterior)]) > 0 {
		return errs
	}

	// Without an exterior menu there is no fallback, so every zone type in
	// use needs its own.
	used := make(map[string]bool)
	for _, views := range t.Zones2D {
		for _, entries := range views {
			for _, e := range entries {
				used[e.ZoneType] = true
			}
		}
	}
	for _, entries := range t.Zones3D {
		for _, e := range entries {
			used[e.ZoneType] = true
		}
	}
	for _, zt := range model.ZoneTypes {
		if used[string(zt)] && len(t.Services[string(zt)]) == 0 {
			errs = append(errs, VError{Path: "services." + string(zt), Code: "MISSING_SERVICES",
				Message: fmt.Sprintf("zone type %q is used but has no services and no exterior fallback", zt)})
		}
	}
	return errs
}

func (v *Validator) structErrors(path string, entry any) []VError {
	err := v.validate.Struct(entry)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []VError{{Path: path, Code: "INVALID", Message: err.Error()}}
	}
	out := make([]VError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, VError{
			Path:    path + "." + fe.Field(),
			Code:    codeForTag(fe.Tag()),
			Message: messageFor(fe),
		})
	}
	return out
}

func codeForTag(tag string) string {
	switch tag {
	case "required":
		return "REQUIRED"
	case "zonetype":
		return "UNKNOWN_ZONE_TYPE"
	case "gte", "lte":
		return "OUT_OF_RANGE"
	default:
		return "INVALID"
	}
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "zonetype":
		return fmt.Sprintf("zone type %q is not known", fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
