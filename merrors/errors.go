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

// Package merrors defines the typed error kinds shared across the mediator
// and client SDK, and the wire shape every REST/DIDComm response reports
// failures in.
package merrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error classes the mediator and SDK can raise.
type Kind string

const (
	Malformed               Kind = "Malformed"
	DIDNotResolved          Kind = "DIDNotResolved"
	DIDUrlNotFound          Kind = "DIDUrlNotFound"
	SecretNotFound          Kind = "SecretNotFound"
	NoCompatibleCrypto      Kind = "NoCompatibleCrypto"
	Unsupported             Kind = "Unsupported"
	InvalidState            Kind = "InvalidState"
	IllegalArgument         Kind = "IllegalArgument"
	MessageExpired          Kind = "MessageExpired"
	TooManyCryptoOperations Kind = "TooManyCryptoOperations"
	ServiceLimitError       Kind = "ServiceLimitError"
	Unauthorized            Kind = "Unauthorized"
	ACLDenied               Kind = "ACLDenied"
	SessionError            Kind = "SessionError"
	AnonymousMessageError   Kind = "AnonymousMessageError"
	ForwardMessageError     Kind = "ForwardMessageError"
	NotImplemented          Kind = "NotImplemented"
	DatabaseError           Kind = "DatabaseError"
	IOError                 Kind = "IOError"
)

// httpStatus maps each Kind to the REST status code carried in Response.
var httpStatus = map[Kind]int{
	Malformed:               http.StatusBadRequest,
	DIDNotResolved:          http.StatusNotFound,
	DIDUrlNotFound:          http.StatusNotFound,
	SecretNotFound:          http.StatusNotFound,
	NoCompatibleCrypto:      http.StatusBadRequest,
	Unsupported:             http.StatusNotImplemented,
	InvalidState:            http.StatusConflict,
	IllegalArgument:         http.StatusBadRequest,
	MessageExpired:          http.StatusGone,
	TooManyCryptoOperations: http.StatusBadRequest,
	ServiceLimitError:       http.StatusTooManyRequests,
	Unauthorized:            http.StatusUnauthorized,
	ACLDenied:               http.StatusForbidden,
	SessionError:            http.StatusUnauthorized,
	AnonymousMessageError:   http.StatusBadRequest,
	ForwardMessageError:     http.StatusBadRequest,
	NotImplemented:          http.StatusNotImplemented,
	DatabaseError:           http.StatusInternalServerError,
	IOError:                 http.StatusInternalServerError,
}

// Error is the single error type every exported operation in this module
// returns. It is never re-typed to a generic error once constructed.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: string(kind), Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Response is the wire shape every REST response and every DIDComm
// problem-report-adjacent response carries its failure in.
type Response struct {
	SessionID   string `json:"session_id,omitempty"`
	HTTPCode    int    `json:"http_code"`
	ErrorCode   int    `json:"error_code"`
	ErrorCodeStr string `json:"error_code_str"`
	Message     string `json:"message"`
}

// ToResponse translates err into the wire Response shape for a session.
func ToResponse(sessionID string, err error) Response {
	var e *Error
	if !errors.As(err, &e) {
		return Response{
			SessionID:    sessionID,
			HTTPCode:     http.StatusInternalServerError,
			ErrorCode:    1,
			ErrorCodeStr: string(DatabaseError),
			Message:      err.Error(),
		}
	}
	code, ok := httpStatus[e.Kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return Response{
		SessionID:    sessionID,
		HTTPCode:     code,
		ErrorCode:    code,
		ErrorCodeStr: string(e.Kind),
		Message:      e.Message,
	}
}

// Retryable reports whether a client should back off and retry the request
// that produced err, per spec.md §7: ServiceLimitError is the only
// retryable class.
func Retryable(err error) bool {
	return Is(err, ServiceLimitError)
}
