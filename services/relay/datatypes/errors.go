// Copyright (C) 2025 ia-chat contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package datatypes

import "fmt"

// ErrorKind classifies relay failures for the caller-facing response.
type ErrorKind string

const (
	ErrRateLimited       ErrorKind = "RateLimited"
	ErrInvalidInput      ErrorKind = "InvalidInput"
	ErrPayloadTooLarge   ErrorKind = "PayloadTooLarge"
	ErrUpstreamTransport ErrorKind = "UpstreamTransportError"
	ErrUpstreamHTTP      ErrorKind = "UpstreamHTTPError"
	ErrUpstreamMalformed ErrorKind = "UpstreamMalformedResponse"
	ErrUpstreamService   ErrorKind = "UpstreamServiceError"
	ErrBackendLookup     ErrorKind = "BackendLookupFailed"
	ErrHistoryStore      ErrorKind = "HistoryStoreFailed"
)

// userMessages holds the stable, human-readable text returned for each
// failure kind. Technical detail stays in logs, never in the response.
var userMessages = map[ErrorKind]string{
	ErrRateLimited:       "Demasiadas peticiones. Por favor, espera un minuto e intenta de nuevo.",
	ErrInvalidInput:      "Solicitud inválida. Revisa el mensaje y la API Key e intenta de nuevo.",
	ErrPayloadTooLarge:   "Payload demasiado grande",
	ErrUpstreamTransport: "Error de conexión con el servicio de IA. Por favor, intenta de nuevo más tarde.",
	ErrUpstreamHTTP:      "El servicio de IA devolvió un error. Por favor, intenta de nuevo más tarde.",
	ErrUpstreamMalformed: "Respuesta inesperada del servicio de IA.",
	ErrUpstreamService:   "Error del servicio de IA.",
	ErrBackendLookup:     "Error al procesar la selección del host.",
	ErrHistoryStore:      "No se pudo eliminar el historial. Por favor, intenta de nuevo.",
}

// UserMessage returns the stable caller-facing text for a failure kind.
func (k ErrorKind) UserMessage() string {
	if msg, ok := userMessages[k]; ok {
		return msg
	}
	return "Error del servidor. Por favor, intenta de nuevo más tarde."
}

// RelayError is the typed error every relay component returns. Handlers
// branch on Kind to pick the HTTP status and response body. Detail goes to
// logs, and for ErrUpstreamService also to the caller, so it must never
// contain credentials.
type RelayError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *RelayError) Unwrap() error { return e.Err }

// NewRelayError builds a RelayError with a log-only detail string.
func NewRelayError(kind ErrorKind, detail string) *RelayError {
	return &RelayError{Kind: kind, Detail: detail}
}

// WrapRelayError builds a RelayError around an underlying cause.
func WrapRelayError(kind ErrorKind, detail string, err error) *RelayError {
	return &RelayError{Kind: kind, Detail: detail, Err: err}
}
