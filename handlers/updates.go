// handlers/updates.go
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"squad-stats/middleware"
	"squad-stats/models"
	"squad-stats/services"
)

// TaskScheduler creates update tasks; see workers.UpdateWorker.Schedule.
type TaskScheduler interface {
	Schedule(steamID string, force bool) (*models.UpdateTask, error)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrSquadNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrMatchNotFound),
		errors.Is(err, services.ErrNoMatches):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrUnknownMode):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, msg string, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{
		"error": msg,
		"cause": err.Error(),
	})
}

// SetupUpdateRoutes registers the scheduling trigger and the account routes.
func SetupUpdateRoutes(router fiber.Router, db *gorm.DB, scheduler TaskScheduler, updates *services.UpdateService) {
	router.Post("/accounts/:steamid/update", func(c *fiber.Ctx) error {
		force := c.QueryBool("force", false)
		task, err := scheduler.Schedule(c.Params("steamid"), force)
		if err != nil {
			return fail(c, "failed to schedule update", err)
		}
		if task == nil {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{
				"scheduled": false,
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"scheduled": true,
			"task":      task,
		})
	})

	router.Post("/accounts/:steamid/enable", func(c *fiber.Ctx) error {
		var body struct {
			SteamAuth string `json:"steam_auth"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
			}
		}
		ok, err := updates.EnableAccount(c.UserContext(), c.Params("steamid"), body.SteamAuth)
		if err != nil {
			return fail(c, "failed to enable account", err)
		}
		if !ok {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"enabled": false,
				"error":   "authentication code was rejected",
			})
		}
		return c.JSON(fiber.Map{"enabled": true})
	})

	router.Get("/accounts/:steamid/tasks", func(c *fiber.Ctx) error {
		var tasks []models.UpdateTask
		if err := db.Where("account_id = ?", c.Params("steamid")).
			Order("scheduled_at DESC").Limit(20).Find(&tasks).Error; err != nil {
			return fail(c, "failed to load tasks", err)
		}
		return c.JSON(fiber.Map{"tasks": tasks})
	})
}

// SetupSquadRoutes registers the weekly challenge preview and the admin re-runs.
// Requesting the preview catches up the rotation first.
func SetupSquadRoutes(router fiber.Router, weekly *services.WeeklyService, badges *services.BadgeService, sessions *services.SessionService) {
	router.Get("/squads/:id/challenge", func(c *fiber.Ctx) error {
		if _, err := weekly.CreateMissing(c.Params("id")); err != nil {
			return fail(c, "failed to create weekly challenges", err)
		}
		data, err := weekly.GetNextBadgeData(c.Params("id"), c.Query("mode"))
		if err != nil {
			return fail(c, "failed to evaluate weekly challenge", err)
		}
		return c.JSON(data)
	})

	admin := router.Group("/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	admin.Post("/matches/:id/badges", func(c *fiber.Ctx) error {
		n, err := badges.RerunMatch(c.Params("id"))
		if err != nil {
			return fail(c, "failed to re-run badges", err)
		}
		return c.JSON(fiber.Map{"participations": n})
	})

	admin.Post("/sessions/:id/close", func(c *fiber.Ctx) error {
		session, err := sessions.CloseByID(c.Params("id"))
		if err != nil {
			return fail(c, "failed to close session", err)
		}
		return c.JSON(session)
	})

	admin.Post("/squads/:id/challenges", func(c *fiber.Ctx) error {
		n, err := weekly.CreateMissing(c.Params("id"))
		if err != nil {
			return fail(c, "failed to create weekly challenges", err)
		}
		return c.JSON(fiber.Map{"created": n})
	})
}
