/*
Copyright 2024 Stamp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// WalletEndpointVersionV1 is the only wallet protocol version this service speaks.
const WalletEndpointVersionV1 = 1

// Recipient is the owner of an off-system wallet that receives certificate slices.
type Recipient struct {
	ID                               uuid.UUID `json:"id"`
	WalletEndpointReferenceVersion   int       `json:"wallet_endpoint_reference_version"`
	WalletEndpointReferenceEndpoint  string    `json:"wallet_endpoint_reference_endpoint"`
	WalletEndpointReferencePublicKey []byte    `json:"wallet_endpoint_reference_public_key"`
}

// WithdrawnCertificate is the immutable archive copy of a certificate. ID is the
// store-assigned cursor and only ever grows.
type WithdrawnCertificate struct {
	ID            int       `json:"id"`
	Certificate   `json:"certificate"`
	WithdrawnDate time.Time `json:"withdrawn_date"`
}

// OutboxMessage is an event waiting to be relayed to the dispatch mechanism.
type OutboxMessage struct {
	ID          uuid.UUID `json:"id"`
	MessageType string    `json:"message_type"`
	JsonPayload string    `json:"json_payload"`
	Created     time.Time `json:"created"`
}

// PageResult is one page of a cursor listing. TotalCount counts every row past
// the cursor, Count the rows in Items.
// NoLimit is the page size used when a listing is requested without a limit.
const NoLimit = math.MaxInt32

type PageResult[T any] struct {
	Items      []T `json:"items"`
	Count      int `json:"count"`
	Offset     int `json:"offset"`
	Limit      int `json:"limit"`
	TotalCount int `json:"total_count"`
}
