package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// SnapshotStatus reports whether a corpus bundle has been published
type SnapshotStatus interface {
	Ready() bool
}

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	snapshots SnapshotStatus
	db        Pinger
}

// NewHealthHandler builds the health endpoints. db may be nil when the
// service runs without Postgres.
func NewHealthHandler(snapshots SnapshotStatus, db Pinger) *HealthHandler {
	return &HealthHandler{snapshots: snapshots, db: db}
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  "ok",
		Version: "0.1.0",
	})
}

// Ready fails with CORPUS_UNAVAILABLE until the first snapshot is published
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if !h.snapshots.Ready() {
		return domain.ErrCorpusUnavailable
	}
	if h.db != nil {
		if err := h.db.Ping(c.UserContext()); err != nil {
			return domain.ErrCatalogUnavailable.WithError(err)
		}
	}
	return c.JSON(HealthResponse{
		Status: "ready",
	})
}
