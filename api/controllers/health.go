package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/intake-backend/api/responses"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
)

const readyTimeout = 3 * time.Second

// Pinger is implemented by every dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthStatus struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Env     string `json:"env,omitempty"`
}

func HealthLive(env string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, healthStatus{Success: true, Status: "live", Env: env})
	}
}

// HealthReady pings each named dependency; nil entries are skipped.
func HealthReady(env string, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable").
					WithDetails(map[string]any{"dependency": name}))
				return
			}
		}
		responses.WriteSuccess(w, healthStatus{Success: true, Status: "ready", Env: env})
	}
}
