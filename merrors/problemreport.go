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

package merrors

// Sorter is the DIDComm problem-report v2 "sorter" field.
type Sorter string

const (
	Warning Sorter = "warning"
	Error_  Sorter = "error"
)

// Scope is the DIDComm problem-report v2 "scope" field.
type Scope string

const (
	ScopeProtocol Scope = "protocol"
	ScopeMessage  Scope = "message"
)

// ProblemReport is the body of a `https://didcomm.org/report-problem/2.0/problem-report`
// message, used inside the message stream rather than as an HTTP response.
type ProblemReport struct {
	Code        string            `json:"code"`
	Comment     string            `json:"comment,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Description map[string]string `json:"escalate_to,omitempty"`
}

// descriptor builds the stable `sorter.scope.descriptor` code string used by
// DIDComm problem reports, e.g. "e.p.forward-loop".
func descriptor(sorter Sorter, scope Scope, name string) string {
	s := "e"
	if sorter == Warning {
		s = "w"
	}
	sc := "m"
	if scope == ScopeProtocol {
		sc = "p"
	}
	return s + "." + sc + "." + name
}

// NewProblemReport builds a ProblemReport from an internal Error, choosing a
// stable descriptor for the error Kind.
func NewProblemReport(err *Error, sorter Sorter, scope Scope) ProblemReport {
	return ProblemReport{
		Code:    descriptor(sorter, scope, string(err.Kind)),
		Comment: err.Message,
	}
}
