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

// Package client is the ClientSDK facade spec.md's component table
// describes: a Profile bundling a DID, its key material, and a mediator
// DID, plus typed requests built over the same envelope engine the
// mediator itself uses.
package client

import (
	"github.com/didcomm-mediator/atm/envelope"
	"github.com/didcomm-mediator/atm/keyregistry"
)

// Profile is one authenticated identity's connection to one mediator,
// grounded on affinidi-messaging-sdk's Profile (original_source's
// authentication/mod.rs: "let (profile_did, mediator_did) = self.dids()?").
// Unlike the original, a Profile here is a plain value the caller supplies
// to NewClient rather than a type with its own authentication methods
// hanging off it; Client owns the handshake state instead, since Go has no
// natural place to attach methods to a struct that isn't this package's own
// receiver type when it's meant to be constructed by the application.
type Profile struct {
	DID         string
	MediatorDID string
	Resolver    keyregistry.DocumentResolver
	Secrets     envelope.SecretStore
}

func (p Profile) registry() *keyregistry.Registry {
	return keyregistry.New(p.Resolver)
}

func (p Profile) engine() *envelope.Engine {
	return &envelope.Engine{Registry: p.registry(), Secrets: p.Secrets}
}
