package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const probeTimeout = 2 * time.Second

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type depStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Deps    map[string]depStatus `json:"deps"`
}

// Health reports 200 when every probe passes and 503 otherwise.
func Health(version string, probes ...Probe) echo.HandlerFunc {
	return func(c echo.Context) error {
		deps := make(map[string]depStatus, len(probes))
		overall := "ok"

		pingCtx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
		defer cancel()
		for _, p := range probes {
			if err := p.Check(pingCtx); err != nil {
				deps[p.Name] = depStatus{Status: "error", Error: err.Error()}
				overall = "degraded"
				continue
			}
			deps[p.Name] = depStatus{Status: "ok"}
		}

		status := http.StatusOK
		if overall != "ok" {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, healthResponse{
			Status:  overall,
			Version: version,
			Deps:    deps,
		})
	}
}
