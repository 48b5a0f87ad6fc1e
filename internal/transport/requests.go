package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/detailhub/zoneconfigurator/internal/selection"
	"github.com/detailhub/zoneconfigurator/model"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type selectedZoneRequest struct {
	ID       string         `json:"id" validate:"required"`
	Name     string         `json:"name"`
	ZoneType model.ZoneType `json:"zone_type"`
	Services []string       `json:"services" validate:"min=1,dive,required"`
	Price    int            `json:"price" validate:"gte=0"`
}

type createSessionRequest struct {
	Mode         model.Mode            `json:"mode" validate:"required,oneof=2d 3d"`
	Category     string                `json:"category"`
	View         string                `json:"view"`
	VehicleMake  string                `json:"vehicle_make" validate:"max=100"`
	VehicleModel string                `json:"vehicle_model" validate:"max=100"`
	Color        string                `json:"color"`
	ReadOnly     bool                  `json:"read_only"`
	Zones        []selectedZoneRequest `json:"zones" validate:"dive"`
}

func (r createSessionRequest) input() selection.CreateInput {
	zones := make([]model.SelectedZone, 0, len(r.Zones))
	for _, z := range r.Zones {
		zones = append(zones, model.SelectedZone{
			ID:       z.ID,
			Name:     z.Name,
			ZoneType: z.ZoneType,
			Services: z.Services,
			Price:    z.Price,
		})
	}
	return selection.CreateInput{
		Mode:     r.Mode,
		Category: model.VehicleCategory(r.Category),
		View:     model.ViewAngle(r.View),
		Make:     r.VehicleMake,
		Model:    r.VehicleModel,
		Color:    r.Color,
		ReadOnly: r.ReadOnly,
		Zones:    zones,
	}
}

type toggleServiceRequest struct {
	Service string `json:"service" validate:"required"`
}

type priceOverrideRequest struct {
	PriceOverride string `json:"price_override" validate:"max=32"`
}

type switchVehicleRequest struct {
	Category     string `json:"category"`
	View         string `json:"view"`
	VehicleMake  string `json:"vehicle_make" validate:"max=100"`
	VehicleModel string `json:"vehicle_model" validate:"max=100"`
}

func (r switchVehicleRequest) change() selection.VehicleChange {
	return selection.VehicleChange{
		Category: model.VehicleCategory(r.Category),
		View:     model.ViewAngle(r.View),
		Make:     r.VehicleMake,
		Model:    r.VehicleModel,
	}
}

type colorRequest struct {
	Color string `json:"color" validate:"required"`
}

type commitRequest struct {
	JobID          string `json:"job_id" validate:"required,max=128"`
	IdempotencyKey string `json:"idempotency_key" validate:"max=128"`
}

// decodeBody reads a JSON body into dst and validates its struct tags.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return model.NewBadRequestError("invalid JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError converts validator errors into a VALIDATION_ERROR
// envelope with one detail per failed field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewBadRequestError(err.Error())
	}
	details := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		details = append(details, model.FieldError{
			Field:   field,
			Code:    fe.Tag(),
			Message: validationMessage(fe),
		})
	}
	return model.NewValidationError(details)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "gte":
		return fe.Field() + " must be at least " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
