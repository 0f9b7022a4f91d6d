// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package stats

import (
	"encoding/json"
	"net/http"

	"github.com/didcomm-mediator/atm/health"
	"github.com/didcomm-mediator/atm/internal/metrics"
)

// Server exposes the Statistics task's HTTP surface: Prometheus scraping,
// a JSON snapshot, and readiness, mirroring the deleted pkg/health/
// server.go's plain net/http handler-registration shape (see DESIGN.md)
// rather than pulling in an HTTP router framework the rest of this
// codebase does not otherwise use.
type Server struct {
	Task    *Task
	Checker *health.HealthChecker
}

// Handler builds the mux serving /metrics, /stats, and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot := s.Task.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.Checker == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	results := s.Checker.CheckAll(r.Context())
	overall := s.Checker.GetOverallStatus(r.Context())

	status := http.StatusOK
	if overall == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Status health.Status                   `json:"status"`
		Checks map[string]*health.CheckResult `json:"checks"`
	}{Status: overall, Checks: results})
}
