package runledger

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/curation/pkg/pagination"
)

// Handler serves the read-only run audit endpoints.
type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/runs", h.ListRuns)
	api.GET("/runs/unfinished", h.ListUnfinished)
	api.GET("/runs/:id", h.GetRun)
	api.GET("/runs/:id/codes", h.ListCodes)
}

func (h *Handler) ListRuns(c echo.Context) error {
	page, err := pagination.Parse(c)
	if err != nil {
		return err
	}
	items, total, err := h.ledger.List(c.Request().Context(), page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Run{}
	}
	return c.JSON(http.StatusOK, page.Wrap(c.Request().URL, items, total))
}

func (h *Handler) ListUnfinished(c echo.Context) error {
	items, err := h.ledger.ListUnfinished(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Run{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.ledger.Get(c.Request().Context(), id)
	if err != nil {
		return ledgerError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListCodes(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.ledger.Codes(c.Request().Context(), id)
	if err != nil {
		return ledgerError(err)
	}
	resp := struct {
		Excluded []*RunCode `json:"excluded"`
		Included []*RunCode `json:"included"`
	}{Excluded: []*RunCode{}, Included: []*RunCode{}}
	for _, code := range items {
		if code.Included {
			resp.Included = append(resp.Included, code)
		} else {
			resp.Excluded = append(resp.Excluded, code)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func ledgerError(err error) error {
	if errors.Is(err, ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
