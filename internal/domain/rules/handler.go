package rules

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler serves the clinical rules catalogue: the active rule set, its
// version history, and the scenarios that can be run against it.
type Handler struct {
	configs   ConfigRepository
	scenarios ScenarioRepository
}

func NewHandler(configs ConfigRepository, scenarios ScenarioRepository) *Handler {
	return &Handler{configs: configs, scenarios: scenarios}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/config", h.GetLatestConfig)
	api.GET("/config/versions", h.ListConfigVersions)
	api.GET("/scenarios", h.ListScenarios)
	api.GET("/scenarios/:id", h.GetScenario)
}

func (h *Handler) GetLatestConfig(c echo.Context) error {
	cv, err := h.configs.Latest(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no clinical rules configured")
	}
	return c.JSON(http.StatusOK, cv)
}

// ListConfigVersions returns version metadata without the full rule bodies.
func (h *Handler) ListConfigVersions(c echo.Context) error {
	versions, err := h.configs.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	type versionSummary struct {
		ID        string `json:"id"`
		Version   int    `json:"version"`
		Label     string `json:"label,omitempty"`
		CreatedAt string `json:"created_at"`
	}
	out := make([]versionSummary, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionSummary{
			ID:        v.ID.String(),
			Version:   v.Version,
			Label:     v.Label,
			CreatedAt: v.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListScenarios(c echo.Context) error {
	scenarios, err := h.scenarios.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, scenarios)
}

func (h *Handler) GetScenario(c echo.Context) error {
	s, err := h.scenarios.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "scenario not found")
	}
	return c.JSON(http.StatusOK, s)
}
