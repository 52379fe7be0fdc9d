package exclusion

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/curation/internal/platform/auth"
)

type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/excluded-codes", h.List)

	write := api.Group("", auth.RequireRole(auth.RoleCurator))
	write.POST("/excluded-codes", h.Add)
	write.DELETE("/excluded-codes", h.Remove)
}

type codeRequest struct {
	CodeValue string `json:"code_value" query:"code_value"`
	CodeType  string `json:"code_type" query:"code_type"`
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.registry.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*ExcludedCode{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Add(c echo.Context) error {
	var req codeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	row, err := h.registry.Add(c.Request().Context(), req.CodeValue, req.CodeType)
	if err != nil {
		return registryError(err)
	}
	if row == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusCreated, row)
}

func (h *Handler) Remove(c echo.Context) error {
	req := codeRequest{
		CodeValue: c.QueryParam("code_value"),
		CodeType:  c.QueryParam("code_type"),
	}
	n, err := h.registry.Remove(c.Request().Context(), req.CodeValue, req.CodeType)
	if err != nil {
		return registryError(err)
	}
	if n == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "code is not excluded")
	}
	return c.JSON(http.StatusOK, map[string]int64{"removed": n})
}

func registryError(err error) error {
	var invalid *InvalidCodeError
	var unsupported *UnsupportedCodeTypeError
	switch {
	case errors.As(err, &invalid), errors.As(err, &unsupported):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
