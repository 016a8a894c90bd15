package eventlog

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/workmesh/workmesh/internal/platform/httpx"
	"github.com/workmesh/workmesh/internal/shared"
)

// Handler exposes the event log for audit reads and CSV export.
type Handler struct {
	logger  *slog.Logger
	service *Service
	printer *message.Printer
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		printer: message.NewPrinter(language.English),
	}
}

// MountRoutes registers event log routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/export", h.exportCSV)
}

func filterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	var f Filter
	f.Topic = q.Get("topic")
	f.Entity = q.Get("entity")
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	events, err := h.service.List(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	total, err := h.service.Count(r.Context(), f)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page := f.Offset/f.Limit + 1
	httpx.JSON(w, http.StatusOK, map[string]any{
		"events":     events,
		"pagination": shared.NewPagination(page, f.Limit, total),
	})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.List(r.Context(), filterFromQuery(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)

	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	_ = cw.Write([]string{"id", "at", "topic", "entity", "entity_id", "actor", "amount"})
	for _, ev := range events {
		_ = cw.Write([]string{
			ev.ID.String(),
			ev.At.UTC().Format("2006-01-02 15:04:05"),
			ev.Topic,
			ev.Entity,
			ev.EntityID,
			strconv.FormatInt(ev.Actor, 10),
			h.amountColumn(ev),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("stream event export", "err", err)
	}
}

// amountColumn renders any monetary figure the event carries, grouped for
// spreadsheet readers.
func (h *Handler) amountColumn(ev Event) string {
	for _, key := range []string{"amount", "payout", "locked"} {
		v, ok := ev.Meta[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int64:
			return h.printer.Sprintf("%d", n)
		case float64:
			return h.printer.Sprintf("%d", int64(n))
		}
	}
	return ""
}
