package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	v := viper.New()
	v.SetDefault("SIM_ADDR", ":8000")
	v.SetDefault("SIM_FLEET_SIZE", 12)
	v.SetDefault("SIM_TICK", "5s")
	v.SetDefault("SIM_SEED", 1)
	v.AutomaticEnv()

	f := newFleet(v.GetInt("SIM_FLEET_SIZE"), v.GetUint64("SIM_SEED"))
	h := newHub(f)
	go h.run()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go simulate(ctx, f, h, v.GetDuration("SIM_TICK"))

	app := newApp(f, h)
	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	addr := v.GetString("SIM_ADDR")
	log.Info().Str("addr", addr).Int("devices", len(f.order)).Msg("simulator listening")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server exit")
	}
	log.Info().Msg("simulation done")
}

func simulate(ctx context.Context, f *fleet, h *hub, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		alerts := f.tick()
		for _, a := range alerts {
			h.broadcast <- message{Type: "new_alert", Data: a}
		}
		h.broadcast <- message{Type: "status_update", Data: f.stats()}
		log.Debug().Int("alerts", len(alerts)).Int("clients", h.clientCount()).Msg("tick")
	}
}

func newApp(f *fleet, h *hub) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(h.serve))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(domain.Health{Status: "healthy", DB: true})
	})
	app.Get("/dashboard/stats", func(c *fiber.Ctx) error {
		return c.JSON(f.stats())
	})

	// Static /ups routes go before /ups/:id.
	app.Get("/ups", func(c *fiber.Ctx) error {
		return c.JSON(f.list(c.Query("status"), c.Query("location"), c.Query("search"),
			queryInt(c, "limit"), queryInt(c, "offset")))
	})
	app.Post("/ups", func(c *fiber.Ctx) error {
		var u domain.UPS
		if err := c.BodyParser(&u); err != nil || u.UPSID == "" {
			return detail(c, fiber.StatusUnprocessableEntity, "invalid UPS payload")
		}
		if !f.add(u) {
			return detail(c, fiber.StatusConflict, "UPS with ID "+u.UPSID+" already exists")
		}
		log.Info().Str("ups_id", u.UPSID).Msg("UPS registered")
		return c.Status(fiber.StatusCreated).JSON(u)
	})
	app.Get("/ups/status/bulk", func(c *fiber.Ctx) error {
		var out domain.BulkStatus
		for _, id := range strings.Split(c.Query("ids"), ",") {
			if st, ok := f.status(strings.TrimSpace(id)); ok {
				out.Data = append(out.Data, st)
			}
		}
		return c.JSON(out)
	})
	app.Get("/ups/:id", func(c *fiber.Ctx) error {
		u, ok := f.get(c.Params("id"))
		if !ok {
			return detail(c, fiber.StatusNotFound, "UPS not found")
		}
		return c.JSON(u)
	})
	app.Get("/ups/:id/status", func(c *fiber.Ctx) error {
		st, ok := f.status(c.Params("id"))
		if !ok {
			return detail(c, fiber.StatusNotFound, "UPS not found")
		}
		return c.JSON(st)
	})
	app.Get("/ups/:id/events", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, ok := f.get(id); !ok {
			return detail(c, fiber.StatusNotFound, "UPS not found")
		}
		return c.JSON(domain.EventsPage{Data: f.eventsOf(id)})
	})

	app.Get("/predictions", func(c *fiber.Ctx) error {
		return c.JSON(domain.PredictionsPage{
			Predictions: f.predictions(c.Query("ups_id"), c.Query("risk_level"), queryInt(c, "limit")),
		})
	})
	app.Get("/alerts", func(c *fiber.Ctx) error {
		return c.JSON(domain.AlertsPage{
			Data: f.alertPage(c.Query("severity"), c.Query("status"), queryInt(c, "limit"), queryInt(c, "offset")),
		})
	})
	app.Get("/alerts/count", func(c *fiber.Ctx) error {
		return c.JSON(f.alertCounts())
	})
	app.Get("/reports/ups-performance", func(c *fiber.Ctx) error {
		page := f.list("", "", "", 0, 0)
		var report domain.PerformanceReport
		for _, u := range page.Data {
			row, err := json.Marshal(fiber.Map{
				"upsId":      u.UPSID,
				"efficiency": u.Efficiency,
				"uptime":     u.Uptime,
				"load":       u.Load,
			})
			if err != nil {
				return err
			}
			report.Data = append(report.Data, row)
		}
		return c.JSON(report)
	})
	app.Get("/locations", func(c *fiber.Ctx) error {
		return c.JSON(domain.Locations{Data: f.locationNames()})
	})
	return app
}

// queryInt reads a non-negative integer query parameter; anything else is 0.
func queryInt(c *fiber.Ctx, key string) int {
	return max(c.QueryInt(key), 0)
}

func detail(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(fiber.Map{"detail": msg})
}
