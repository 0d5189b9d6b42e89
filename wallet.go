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

package stamp

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stamp-registry/stamp/internal/request"
	"github.com/stamp-registry/stamp/model"
)

type FederatedCertificateID struct {
	Registry string    `json:"registry"`
	StreamID uuid.UUID `json:"streamId"`
}

type WalletHashedAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Salt  []byte `json:"salt"`
}

// WalletReceiveRequest is the body posted to a recipient's wallet endpoint.
type WalletReceiveRequest struct {
	PublicKey        []byte                  `json:"publicKey"`
	Position         uint32                  `json:"position"`
	CertificateID    FederatedCertificateID  `json:"certificateId"`
	Quantity         uint32                  `json:"quantity"`
	RandomR          []byte                  `json:"randomR"`
	HashedAttributes []WalletHashedAttribute `json:"hashedAttributes"`
}

func newWalletReceiveRequest(recipient *model.Recipient, evt model.CertificateMarkedAsIssuedEvent) WalletReceiveRequest {
	req := WalletReceiveRequest{
		PublicKey:        recipient.WalletEndpointReferencePublicKey,
		Position:         evt.WalletEndpointPosition,
		CertificateID:    FederatedCertificateID{Registry: evt.RegistryName, StreamID: evt.CertificateID},
		Quantity:         evt.Quantity,
		RandomR:          evt.RandomR,
		HashedAttributes: make([]WalletHashedAttribute, 0, len(evt.HashedAttributes)),
	}
	for _, attr := range evt.HashedAttributes {
		req.HashedAttributes = append(req.HashedAttributes, WalletHashedAttribute{Key: attr.Key, Value: attr.Value, Salt: attr.Salt})
	}
	return req
}

// WalletSender delivers a certificate slice to a wallet.
type WalletSender interface {
	Send(ctx context.Context, endpoint string, req WalletReceiveRequest) error
}

// WalletClient posts JSON to the wallet endpoint. Any non 2xx answer is an error.
type WalletClient struct {
	client *http.Client
}

func NewWalletClient(timeout time.Duration) *WalletClient {
	return &WalletClient{client: &http.Client{Timeout: timeout}}
}

func (w *WalletClient) Send(ctx context.Context, endpoint string, body WalletReceiveRequest) error {
	payload, err := request.ToJsonReq(body)
	if err != nil {
		return errors.Wrap(err, "failed to encode wallet request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return errors.Wrapf(err, "invalid wallet endpoint %s", endpoint)
	}

	if _, err := request.Do(w.client, req, nil); err != nil {
		return errors.Wrapf(err, "failed to send certificate to wallet %s", endpoint)
	}
	return nil
}
