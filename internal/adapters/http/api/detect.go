package api

import (
	"context"
	"errors"
	"net/http"

	service "github.com/okian/starsignal/internal/app"
	"github.com/okian/starsignal/internal/domain/types"
	"github.com/okian/starsignal/pkg/logger"
)

// DetectDependencies triggers detection runs.
type DetectDependencies interface {
	RunDetection(ctx context.Context) (types.DetectionResult, error)
	RunCycle(ctx context.Context) (types.DetectionResult, error)
}

// DetectHandler handles on-demand detection requests.
type DetectHandler struct {
	deps DetectDependencies
}

// NewDetectHandler creates a new detect handler.
func NewDetectHandler(deps DetectDependencies) *DetectHandler {
	return &DetectHandler{deps: deps}
}

// HandleDetect handles POST /detect. With ?recalculate=true the metrics of
// every entity are recalculated first.
func (h *DetectHandler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	const op = "api.detect"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	run := h.deps.RunDetection
	switch r.URL.Query().Get("recalculate") {
	case "", "false":
	case "true":
		run = h.deps.RunCycle
	default:
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("recalculate must be true or false")))
		return
	}

	result, err := run(r.Context())
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		writeError(w, http.StatusConflict, "run_in_progress", WrapKind(op, ErrConflict, err))
	case err != nil:
		logger.Get().Named("api").Error(r.Context(), "detection request failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", WrapKind(op, ErrInternal, err))
	default:
		writeJSON(w, http.StatusOK, result)
	}
}
