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
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventKind names an event of the issuance choreography. It is stored as the
// outbox message type and used as the asynq task type.
type EventKind string

const (
	EventCertificateCreated          EventKind = "certificate.created"
	EventCertificateSentToRegistry   EventKind = "certificate.sent_to_registry"
	EventCertificateIssuedInRegistry EventKind = "certificate.issued_in_registry"
	EventCertificateFailedInRegistry EventKind = "certificate.failed_in_registry"
	EventCertificateMarkedAsIssued   EventKind = "certificate.marked_as_issued"
)

// Event is implemented by every choreography payload.
type Event interface {
	Kind() EventKind
	CertificateKey() (registry string, certificateID uuid.UUID)
}

type CertificateCreatedEvent struct {
	CertificateID                    uuid.UUID         `json:"certificate_id"`
	RegistryName                     string            `json:"registry_name"`
	RecipientID                      uuid.UUID         `json:"recipient_id"`
	WalletEndpointReferencePublicKey []byte            `json:"wallet_endpoint_reference_public_key"`
	CertificateType                  CertificateType   `json:"certificate_type"`
	Quantity                         uint32            `json:"quantity"`
	Start                            int64             `json:"start"`
	End                              int64             `json:"end"`
	GridArea                         string            `json:"grid_area"`
	ClearTextAttributes              map[string]string `json:"clear_text_attributes"`
	HashedAttributes                 []HashedAttribute `json:"hashed_attributes"`
}

type CertificateSentToRegistryEvent struct {
	ShaID                  string    `json:"sha_id"`
	CertificateID          uuid.UUID `json:"certificate_id"`
	RegistryName           string    `json:"registry_name"`
	RecipientID            uuid.UUID `json:"recipient_id"`
	WalletEndpointPosition uint32    `json:"wallet_endpoint_position"`
	Quantity               uint32    `json:"quantity"`
	RandomR                []byte    `json:"random_r"`
}

type CertificateIssuedInRegistryEvent struct {
	CertificateID          uuid.UUID `json:"certificate_id"`
	RegistryName           string    `json:"registry_name"`
	RecipientID            uuid.UUID `json:"recipient_id"`
	WalletEndpointPosition uint32    `json:"wallet_endpoint_position"`
	Quantity               uint32    `json:"quantity"`
	RandomR                []byte    `json:"random_r"`
}

type CertificateFailedInRegistryEvent struct {
	CertificateID uuid.UUID `json:"certificate_id"`
	RegistryName  string    `json:"registry_name"`
	RejectReason  string    `json:"reject_reason"`
}

type CertificateMarkedAsIssuedEvent struct {
	CertificateID          uuid.UUID         `json:"certificate_id"`
	RegistryName           string            `json:"registry_name"`
	RecipientID            uuid.UUID         `json:"recipient_id"`
	WalletEndpointPosition uint32            `json:"wallet_endpoint_position"`
	Quantity               uint32            `json:"quantity"`
	RandomR                []byte            `json:"random_r"`
	HashedAttributes       []HashedAttribute `json:"hashed_attributes"`
}

func (CertificateCreatedEvent) Kind() EventKind          { return EventCertificateCreated }
func (CertificateSentToRegistryEvent) Kind() EventKind   { return EventCertificateSentToRegistry }
func (CertificateIssuedInRegistryEvent) Kind() EventKind { return EventCertificateIssuedInRegistry }
func (CertificateFailedInRegistryEvent) Kind() EventKind { return EventCertificateFailedInRegistry }
func (CertificateMarkedAsIssuedEvent) Kind() EventKind   { return EventCertificateMarkedAsIssued }

func (e CertificateCreatedEvent) CertificateKey() (string, uuid.UUID) {
	return e.RegistryName, e.CertificateID
}

func (e CertificateSentToRegistryEvent) CertificateKey() (string, uuid.UUID) {
	return e.RegistryName, e.CertificateID
}

func (e CertificateIssuedInRegistryEvent) CertificateKey() (string, uuid.UUID) {
	return e.RegistryName, e.CertificateID
}

func (e CertificateFailedInRegistryEvent) CertificateKey() (string, uuid.UUID) {
	return e.RegistryName, e.CertificateID
}

func (e CertificateMarkedAsIssuedEvent) CertificateKey() (string, uuid.UUID) {
	return e.RegistryName, e.CertificateID
}

// eventDecoders is the closed decode table. Adding an event kind means adding a row here.
var eventDecoders = map[EventKind]func([]byte) (Event, error){
	EventCertificateCreated:          decodeAs[CertificateCreatedEvent],
	EventCertificateSentToRegistry:   decodeAs[CertificateSentToRegistryEvent],
	EventCertificateIssuedInRegistry: decodeAs[CertificateIssuedInRegistryEvent],
	EventCertificateFailedInRegistry: decodeAs[CertificateFailedInRegistryEvent],
	EventCertificateMarkedAsIssued:   decodeAs[CertificateMarkedAsIssuedEvent],
}

func decodeAs[T Event](data []byte) (Event, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// EventKinds lists every known kind.
func EventKinds() []EventKind {
	return []EventKind{
		EventCertificateCreated,
		EventCertificateSentToRegistry,
		EventCertificateIssuedInRegistry,
		EventCertificateFailedInRegistry,
		EventCertificateMarkedAsIssued,
	}
}

// EncodeEvent serializes an event into its kind and JSON payload.
func EncodeEvent(evt Event) (EventKind, []byte, error) {
	if _, ok := eventDecoders[evt.Kind()]; !ok {
		return "", nil, fmt.Errorf("unknown event kind %q", evt.Kind())
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return "", nil, err
	}
	return evt.Kind(), data, nil
}

// DecodeEvent resolves kind through the decode table and deserializes data.
func DecodeEvent(kind EventKind, data []byte) (Event, error) {
	decode, ok := eventDecoders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	evt, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return evt, nil
}

// NewOutboxMessage wraps an event into an outbox row.
func NewOutboxMessage(evt Event) (*OutboxMessage, error) {
	kind, data, err := EncodeEvent(evt)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		ID:          uuid.New(),
		MessageType: string(kind),
		JsonPayload: string(data),
	}, nil
}

// Event decodes the message payload.
func (m *OutboxMessage) Event() (Event, error) {
	return DecodeEvent(EventKind(m.MessageType), []byte(m.JsonPayload))
}
