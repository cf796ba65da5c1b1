package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"ephemeral-relay/internal/service"
)

// GossipHandler runs the directory's periodic work as asynq tasks.
type GossipHandler struct {
	directory *service.DirectoryService
}

// NewGossipHandler creates a GossipHandler.
func NewGossipHandler(directory *service.DirectoryService) *GossipHandler {
	if directory == nil {
		panic("DirectoryService cannot be nil for GossipHandler")
	}
	return &GossipHandler{directory: directory}
}

// ProcessTick pushes this node's view to its peers. Tick throttles itself,
// so overlapping schedules cannot gossip faster than the interval.
func (h *GossipHandler) ProcessTick(ctx context.Context, _ *asynq.Task) error {
	h.directory.Tick(ctx)
	return nil
}

// ProcessPrune sweeps expired room locators. Tick and Ingest already prune
// opportunistically; this catches directories idle long enough to see
// neither.
func (h *GossipHandler) ProcessPrune(_ context.Context, _ *asynq.Task) error {
	h.directory.Prune()
	logrus.Debug("Directory prune sweep complete")
	return nil
}
