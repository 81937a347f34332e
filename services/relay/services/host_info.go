// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/deimisq/ia-chat/services/relay/datatypes"
	"github.com/deimisq/ia-chat/services/relay/observability"
	"github.com/deimisq/ia-chat/services/zabbix"
)

var hostInfoTracer = otel.Tracer("iachat.relay.services.host_info")

// HostBackend is the slice of the Zabbix client the lookup flow needs.
type HostBackend interface {
	GetHostByID(ctx context.Context, hostID int64) (*zabbix.Host, error)
	GetProblemsForHost(ctx context.Context, hostID int64) ([]zabbix.Problem, error)
}

// HostInfoService answers host selection requests with a snapshot of the
// host and its recent problems. The snapshot is composed into the reply
// text directly and never written to conversation history.
type HostInfoService struct {
	backend HostBackend
	metrics *observability.RelayMetrics
	logger  *slog.Logger
}

// NewHostInfoService wires the lookup flow.
func NewHostInfoService(backend HostBackend, metrics *observability.RelayMetrics, logger *slog.Logger) *HostInfoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostInfoService{backend: backend, metrics: metrics, logger: logger}
}

// Lookup fetches the host and composes the reply. A failed host fetch is a
// BackendLookupFailed error; a failed problem fetch degrades to "no active
// problems", matching how operators expect a partially reachable backend
// to behave.
func (s *HostInfoService) Lookup(ctx context.Context, req *datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	ctx, span := hostInfoTracer.Start(ctx, "HostInfoService.Lookup")
	defer span.End()
	span.SetAttributes(attribute.Int64("zabbix.host_id", req.HostID))

	start := time.Now()
	host, err := s.backend.GetHostByID(ctx, req.HostID)
	s.observe("zabbix", start, err)
	if err != nil {
		span.SetStatus(codes.Error, "host lookup failed")
		return nil, datatypes.WrapRelayError(datatypes.ErrBackendLookup,
			"no se pudo obtener información del host seleccionado", err)
	}

	summary := datatypes.HostSummary{
		HostID:  req.HostID,
		Name:    host.Name,
		Enabled: host.Enabled(),
	}

	problems, err := s.backend.GetProblemsForHost(ctx, req.HostID)
	if err != nil {
		s.logger.Warn("problem lookup failed, reporting none",
			"host_id", req.HostID, "error", err)
		problems = nil
	}
	for i, p := range problems {
		if i >= datatypes.MaxHostProblems {
			break
		}
		summary.Problems = append(summary.Problems, datatypes.HostProblem{
			Name:     p.Name,
			Severity: p.Severity,
		})
	}

	resp := datatypes.NewChatResponse(composeHostMessage(summary))
	resp.ConversationID = req.ConversationID
	return resp, nil
}

// composeHostMessage renders the host snapshot as the assistant's reply.
// All backend-supplied fields are HTML-escaped before embedding.
func composeHostMessage(summary datatypes.HostSummary) string {
	status := "Deshabilitado"
	if summary.Enabled {
		status = "Habilitado"
	}

	var b strings.Builder
	b.WriteString("He obtenido información para el host seleccionado.\n\n")
	b.WriteString("Información del host:\n")
	fmt.Fprintf(&b, "- Nombre: %s\n", html.EscapeString(summary.Name))
	fmt.Fprintf(&b, "- Status: %s\n", status)

	if len(summary.Problems) > 0 {
		b.WriteString("\n\nProblemas recientes:\n")
		for _, p := range summary.Problems {
			fmt.Fprintf(&b, "- %s (Severidad: %s)\n",
				html.EscapeString(p.Name), html.EscapeString(p.Severity))
		}
	} else {
		b.WriteString("\n\nNo hay problemas activos para este host.")
	}

	b.WriteString("\n\n¿Qué información específica te gustaría saber sobre este host?")
	return b.String()
}

func (s *HostInfoService) observe(backend string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		s.metrics.UpstreamErrorsTotal.WithLabelValues(backend, "http").Inc()
	}
	s.metrics.UpstreamDurationSeconds.WithLabelValues(backend, status).
		Observe(time.Since(start).Seconds())
}
