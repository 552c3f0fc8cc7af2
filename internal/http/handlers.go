package http

import (
	"errors"
	"strings"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/alertstream"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/api"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/export"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/predictions"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/query"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func Register(app *fiber.App, svcs *service.Services) {
	h := &handlers{svcs: svcs}

	app.Get("/health", h.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/dashboard/stats", h.dashboardStats)
	app.Get("/dashboard/stats/backend", h.backendStats)

	// Static /ups routes go before /ups/:id.
	g := app.Group("/ups")
	g.Get("/", h.snapshot)
	g.Post("/", h.register)
	g.Post("/refresh", h.refresh)
	g.Get("/list", h.listUPS)
	g.Get("/status/bulk", h.bulkStatus)
	g.Get("/:id", h.getUPS)
	g.Get("/:id/status", h.upsStatus)
	g.Get("/:id/events", h.upsEvents)
	g.Get("/:id/predictions", h.upsPredictions)
	g.Get("/:id/maintenance", h.maintenance)

	app.Get("/predictions", h.predictions)

	app.Get("/alerts", h.alerts)
	app.Get("/alerts/count", h.alertCounts)
	app.Get("/alerts/live", h.liveAlerts)
	app.Post("/alerts/live/read", h.markRead)

	app.Get("/reports/ups-performance", h.performanceReport)
	app.Get("/locations", h.locations)
	app.Get("/export", h.export)
	app.Post("/cache/invalidate", h.invalidate)
}

type handlers struct {
	svcs *service.Services
}

// fail maps err onto a status code and an {"error": ...} body.
func fail(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	body := fiber.Map{"error": err.Error()}

	var (
		rf *api.RequestFailure
		pe *api.ParseError
		ve *service.ValidationError
	)
	switch {
	case errors.As(err, &ve):
		code = fiber.StatusBadRequest
		body["fields"] = ve.Fields
	case errors.Is(err, service.ErrDuplicateUPS):
		code = fiber.StatusConflict
	case errors.As(err, &rf):
		code = rf.StatusCode
		if rf.Detail != "" {
			body["detail"] = rf.Detail
		}
	case errors.As(err, &pe):
		code = fiber.StatusBadGateway
	case errors.Is(err, query.ErrDisabled), errors.Is(err, export.ErrUnsupportedFormat):
		code = fiber.StatusBadRequest
	case errors.Is(err, service.ErrNoExportStore):
		code = fiber.StatusServiceUnavailable
	}

	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Int("status", code).Msg("request failed")
	}
	return c.Status(code).JSON(body)
}

// cached writes a cached resource under "data". A failed refresh keeps the
// previous data and adds "error".
func cached[T any](c *fiber.Ctx, st query.State[T], err error) error {
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(withState(fiber.Map{"data": st.Data}, st))
}

func withState[T any](body fiber.Map, st query.State[T]) fiber.Map {
	body["stale"] = st.Stale
	body["updatedAt"] = st.UpdatedAt
	if st.Err != nil {
		body["error"] = st.Err.Error()
	}
	return body
}

func (h *handlers) streamState() alertstream.State {
	if h.svcs.Stream == nil {
		return alertstream.Disconnected
	}
	return h.svcs.Stream.State()
}

func (h *handlers) health(c *fiber.Ctx) error {
	backend, err := h.svcs.Health(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
			"stream": h.streamState(),
		})
	}
	status := "ok"
	if backend.Err != nil {
		status = "degraded"
	}
	return c.JSON(withState(fiber.Map{
		"status":  status,
		"backend": backend.Data,
		"stream":  h.streamState(),
	}, backend))
}

func (h *handlers) dashboardStats(c *fiber.Ctx) error {
	return c.JSON(h.svcs.DashboardStats())
}

func (h *handlers) backendStats(c *fiber.Ctx) error {
	st, err := h.svcs.BackendStats(c.UserContext())
	return cached(c, st, err)
}

func (h *handlers) snapshot(c *fiber.Ctx) error {
	return c.JSON(h.svcs.Snapshot.Snapshot())
}

func (h *handlers) refresh(c *fiber.Ctx) error {
	if err := h.svcs.Snapshot.Refetch(c.UserContext()); err != nil {
		return fail(c, err)
	}
	return c.JSON(h.svcs.Snapshot.Snapshot())
}

func (h *handlers) register(c *fiber.Ctx) error {
	var in service.NewUPS
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	created, err := h.svcs.Registration.Register(c.UserContext(), in)
	if err != nil {
		return fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusCreated).Send(created)
}

func (h *handlers) listUPS(c *fiber.Ctx) error {
	if st := domain.Status(c.Query("status")); st != "" && !st.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown status " + string(st)})
	}
	page, err := h.svcs.UPSList(c.UserContext(), api.ListParams{
		Status:   c.Query("status"),
		Location: c.Query("location"),
		Search:   c.Query("search"),
		Limit:    c.QueryInt("limit"),
		Offset:   c.QueryInt("offset"),
	})
	return cached(c, page, err)
}

func (h *handlers) bulkStatus(c *fiber.Ctx) error {
	st, err := h.svcs.BulkStatus(c.UserContext(), splitList(c.Query("ids")))
	return cached(c, st, err)
}

func (h *handlers) getUPS(c *fiber.Ctx) error {
	u, err := h.svcs.UPS(c.UserContext(), c.Params("id"))
	return cached(c, u, err)
}

func (h *handlers) upsStatus(c *fiber.Ctx) error {
	st, err := h.svcs.UPSStatus(c.UserContext(), c.Params("id"))
	return cached(c, st, err)
}

func (h *handlers) upsEvents(c *fiber.Ctx) error {
	events, err := h.svcs.UPSEvents(c.UserContext(), c.Params("id"), api.EventParams{
		EventType: c.Query("event_type"),
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
		Limit:     c.QueryInt("limit"),
		Offset:    c.QueryInt("offset"),
	})
	return cached(c, events, err)
}

func (h *handlers) upsPredictions(c *fiber.Ctx) error {
	page, err := h.svcs.PredictionsFor(c.UserContext(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(withState(fiber.Map{"predictions": predictions.Assess(page.Data.Predictions)}, page))
}

func (h *handlers) maintenance(c *fiber.Ctx) error {
	f, err := h.svcs.MaintenanceForecast(c.UserContext(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(f)
}

func (h *handlers) predictions(c *fiber.Ctx) error {
	p := h.svcs.Predictions
	if c.Query("view") == "alerts" {
		p = h.svcs.AlertPredictions
	}
	res := p.Latest()

	body := fiber.Map{
		"predictions":    predictions.Assess(res.Predictions),
		"lastUpdateTime": res.LastUpdateTime,
		"nextUpdate":     p.NextUpdate(),
	}
	if !res.LastUpdateTime.IsZero() {
		body["lastUpdated"] = predictions.FormatRelative(res.LastUpdateTime, time.Now())
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	return c.JSON(body)
}

func (h *handlers) alerts(c *fiber.Ctx) error {
	page, err := h.svcs.Alerts(c.UserContext(), api.AlertParams{
		Severity: c.Query("severity"),
		Status:   c.Query("status"),
		Limit:    c.QueryInt("limit"),
		Offset:   c.QueryInt("offset"),
	})
	return cached(c, page, err)
}

func (h *handlers) alertCounts(c *fiber.Ctx) error {
	counts, err := h.svcs.AlertCounts(c.UserContext())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(withState(fiber.Map{
		"counts":      counts.Data.Counts,
		"byRiskLevel": predictions.CountsByRiskLevel(*counts.Data),
	}, counts))
}

type liveAlertView struct {
	domain.LiveAlert
	Received string `json:"received"`
}

func (h *handlers) liveAlerts(c *fiber.Ctx) error {
	s := h.svcs.Stream
	if s == nil {
		return c.JSON(fiber.Map{
			"alerts": []liveAlertView{},
			"recent": []liveAlertView{},
			"unread": 0,
			"state":  alertstream.Disconnected,
		})
	}
	now := time.Now()
	return c.JSON(fiber.Map{
		"alerts": views(s.Alerts(), now),
		"recent": views(s.Recent(), now),
		"unread": s.Unread(),
		"state":  s.State(),
	})
}

func views(alerts []domain.LiveAlert, now time.Time) []liveAlertView {
	out := make([]liveAlertView, 0, len(alerts))
	for _, a := range alerts {
		v := liveAlertView{LiveAlert: a}
		if t := a.Alert.Time(); !t.IsZero() {
			v.Received = predictions.FormatRelative(t, now)
		}
		out = append(out, v)
	}
	return out
}

func (h *handlers) markRead(c *fiber.Ctx) error {
	if h.svcs.Stream != nil {
		h.svcs.Stream.MarkRead()
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) performanceReport(c *fiber.Ctx) error {
	report, err := h.svcs.PerformanceReport(c.UserContext(), api.ReportParams{
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
		UPSIDs:    splitList(c.Query("ups_ids")),
	})
	return cached(c, report, err)
}

func (h *handlers) locations(c *fiber.Ctx) error {
	locs, err := h.svcs.Locations(c.UserContext())
	return cached(c, locs, err)
}

func (h *handlers) export(c *fiber.Ctx) error {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		return fail(c, err)
	}
	f, err := h.svcs.Exports.Build(c.UserContext(), export.Options{
		Format:                    format,
		IncludeEvents:             c.QueryBool("events"),
		IncludeAlerts:             c.QueryBool("alerts"),
		IncludePerformanceHistory: c.QueryBool("history"),
	})
	if err != nil {
		return fail(c, err)
	}

	if c.QueryBool("upload") {
		url, err := h.svcs.Exports.Upload(c.UserContext(), f)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"name": f.Name, "url": url})
	}

	c.Attachment(f.Name)
	c.Set(fiber.HeaderContentType, f.ContentType)
	return c.Send(f.Data)
}

func (h *handlers) invalidate(c *fiber.Ctx) error {
	n := h.svcs.Invalidate(c.Query("prefix"))
	return c.JSON(fiber.Map{"invalidated": n})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
