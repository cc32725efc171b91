package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/sessionmemory/worker/pkg/config"
)

// ModelsResponse is returned by GET /api/models.
type ModelsResponse struct {
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
}

// listModelsHandler handles GET /api/models?provider=...: proxies to the
// named provider's native model-list call so the host's settings UI can
// offer a live dropdown instead of a hardcoded one.
func (s *Server) listModelsHandler(c *echo.Context) error {
	kind := config.ProviderKind(c.QueryParam("provider"))
	if kind == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "provider query parameter is required")
	}

	client, ok := s.deps.Providers[kind]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
	}

	models, err := client.ListModels(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "listing models: "+err.Error())
	}

	return c.JSON(http.StatusOK, ModelsResponse{Provider: string(kind), Models: models})
}
