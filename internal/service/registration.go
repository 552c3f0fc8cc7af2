package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/api"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/query"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateUPS = errors.New("a UPS with this ID already exists")

// ValidationError lists the fields of a registration that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range []string{"upsId", "name", "location", "capacity", "criticalLoad", "maintenanceSchedule"} {
		if msg, ok := e.Fields[name]; ok {
			parts = append(parts, name+" "+msg)
		}
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// NewUPS is the registration form.
type NewUPS struct {
	UPSID               string  `json:"upsId" validate:"required"`
	Name                string  `json:"name" validate:"required"`
	Location            string  `json:"location" validate:"required"`
	Manufacturer        string  `json:"manufacturer"`
	Model               string  `json:"model"`
	SerialNumber        string  `json:"serialNumber"`
	Capacity            float64 `json:"capacity" validate:"gte=0"`
	CriticalLoad        float64 `json:"criticalLoad" validate:"gte=0"`
	InstallationDate    string  `json:"installationDate"`
	WarrantyExpiry      string  `json:"warrantyExpiry"`
	MaintenanceSchedule string  `json:"maintenanceSchedule" validate:"omitempty,oneof=weekly monthly quarterly semi-annually annually"`
	NextMaintenance     string  `json:"nextMaintenance"`
}

type registrar interface {
	ListUPS(ctx context.Context, p api.ListParams) (*domain.UPSPage, error)
	CreateUPS(ctx context.Context, ups domain.UPS) (json.RawMessage, error)
}

type refetcher interface {
	Refetch(ctx context.Context) error
}

type RegistrationService struct {
	api         registrar
	cache       *query.Cache
	snapshot    refetcher
	maintenance *MaintenanceService
	validate    *validator.Validate
	now         func() time.Time
}

func NewRegistrationService(a registrar, cache *query.Cache, snap refetcher, m *MaintenanceService) *RegistrationService {
	return &RegistrationService{
		api:         a,
		cache:       cache,
		snapshot:    snap,
		maintenance: m,
		validate:    validator.New(),
		now:         time.Now,
	}
}

// Register validates in, checks for an existing device with the same ID and
// creates the device with default telemetry. The pre-check is advisory; a
// 409 from the backend is reported as ErrDuplicateUPS as well.
func (s *RegistrationService) Register(ctx context.Context, in NewUPS) (json.RawMessage, error) {
	in.UPSID = strings.TrimSpace(in.UPSID)
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	if in.MaintenanceSchedule == "" {
		in.MaintenanceSchedule = defaultSchedule
	}

	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			ve := &ValidationError{Fields: make(map[string]string, len(verrs))}
			for _, fe := range verrs {
				ve.Fields[jsonName(fe.Field())] = describe(fe)
			}
			return nil, ve
		}
		return nil, err
	}

	page, err := s.api.ListUPS(ctx, api.ListParams{Search: in.UPSID})
	switch {
	case err != nil:
		log.Warn().Err(err).Str("ups_id", in.UPSID).Msg("duplicate check failed; relying on backend")
	case page != nil:
		for _, u := range page.Data {
			if u.UPSID == in.UPSID {
				return nil, ErrDuplicateUPS
			}
		}
	}

	ups := s.build(in)
	created, err := s.api.CreateUPS(ctx, ups)
	if err != nil {
		if api.StatusCode(err) == http.StatusConflict {
			return nil, fmt.Errorf("%w: %w", ErrDuplicateUPS, err)
		}
		return nil, err
	}
	log.Info().Str("ups_id", ups.UPSID).Str("name", ups.Name).Msg("UPS registered")

	s.cache.Invalidate(query.Key{"ups"})
	if s.snapshot != nil {
		if err := s.snapshot.Refetch(ctx); err != nil {
			log.Warn().Err(err).Msg("snapshot refresh after registration failed")
		}
	}
	return created, nil
}

func (s *RegistrationService) build(in NewUPS) domain.UPS {
	next := in.NextMaintenance
	if next == "" && s.maintenance != nil {
		next = s.maintenance.NextMaintenance(in.MaintenanceSchedule)
	}
	return domain.UPS{
		UPSID:               in.UPSID,
		Name:                in.Name,
		Location:            in.Location,
		Status:              domain.StatusHealthy,
		LastChecked:         s.now().UTC().Format(time.RFC3339),
		PowerInput:          0,
		PowerOutput:         0,
		BatteryLevel:        100,
		Temperature:         25.0,
		Efficiency:          95.0,
		Uptime:              100.0,
		Manufacturer:        in.Manufacturer,
		Model:               in.Model,
		SerialNumber:        in.SerialNumber,
		Capacity:            in.Capacity,
		CriticalLoad:        in.CriticalLoad,
		InstallationDate:    in.InstallationDate,
		WarrantyExpiry:      in.WarrantyExpiry,
		MaintenanceSchedule: in.MaintenanceSchedule,
		NextMaintenance:     next,
	}
}

func jsonName(field string) string {
	switch field {
	case "UPSID":
		return "upsId"
	case "":
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}
