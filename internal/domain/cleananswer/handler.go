package cleananswer

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/curation/internal/domain/survey"
)

// Handler exposes the store read-only for spot checks after a run.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/clean-answers/count", h.Count)
	api.GET("/participants/:id/clean-answers", h.ListByParticipant)
}

// recordView adds the tagged value, which Record leaves out of its JSON.
type recordView struct {
	Record
	ValueKind survey.Kind `json:"value_kind"`
	Value     string      `json:"value"`
}

func (h *Handler) ListByParticipant(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid participant id")
	}
	records, err := h.store.ListByParticipants(c.Request().Context(), []int64{id})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]recordView, 0, len(records))
	for _, r := range records {
		v := recordView{Record: r}
		if r.Value != nil {
			v.ValueKind = r.Value.Kind()
			v.Value = r.Value.String()
		}
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Count(c echo.Context) error {
	n, err := h.store.Count(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": n})
}
