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

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide Prometheus registry for the mediator.
var Registry = prometheus.NewRegistry()

var (
	MessagesStored = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "atm_messages_stored_total",
		Help: "Number of messages accepted into a recipient inbox.",
	})
	MessagesDelivered = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "atm_messages_delivered_total",
		Help: "Number of messages delivered via pickup or live delivery.",
	})
	ForwardHops = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "atm_forward_hops_total",
		Help: "Number of routing/2.0/forward re-wraps performed.",
	})
	ACLDenied = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "atm_acl_denied_total",
		Help: "Number of operations rejected by the ACL engine.",
	})
	CryptoOperations = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "atm_crypto_operations_total",
		Help: "Number of envelope encrypt/decrypt/sign/verify operations performed.",
	})
	BytesStored = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "atm_bytes_stored",
		Help: "Total bytes currently held across all live MSG records.",
	})
	EnvelopeUnpackDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "atm_envelope_unpack_seconds",
		Help:    "Latency of EnvelopeEngine.Unpack calls.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartServer starts a standalone metrics HTTP server.
func StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
