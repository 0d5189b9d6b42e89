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

package registry

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/stamp-registry/stamp/internal/keys"
	"github.com/stamp-registry/stamp/model"
)

const (
	PayloadTypeIssued    = "project_origin.electricity.v1.IssuedEvent"
	PayloadTypeWithdrawn = "project_origin.electricity.v1.WithdrawnEvent"

	AttributeTypeCleartext = "cleartext"
	AttributeTypeHashed    = "hashed"

	KeyTypeEd25519 = "ed25519"
)

type FederatedStreamID struct {
	Registry string    `json:"registry"`
	StreamID uuid.UUID `json:"streamId"`
}

type Period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type Commitment struct {
	Content []byte `json:"content"`
}

type PublicKey struct {
	Content []byte `json:"content"`
	Type    string `json:"type"`
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// IssuedEvent is the payload announcing a new certificate to the registry.
type IssuedEvent struct {
	CertificateID      FederatedStreamID `json:"certificateId"`
	Type               string            `json:"type"`
	Period             Period            `json:"period"`
	GridArea           string            `json:"gridArea"`
	QuantityCommitment Commitment        `json:"quantityCommitment"`
	OwnerPublicKey     PublicKey         `json:"ownerPublicKey"`
	Attributes         []Attribute       `json:"attributes"`
}

type WithdrawnEvent struct {
	CertificateID FederatedStreamID `json:"certificateId"`
}

type Header struct {
	FederatedStreamID FederatedStreamID `json:"federatedStreamId"`
	PayloadType       string            `json:"payloadType"`
	PayloadSha512     []byte            `json:"payloadSha512"`
	Nonce             string            `json:"nonce"`
}

// Transaction is what the registry accepts: a header signed by the issuer and
// the serialized payload the header hashes.
type Transaction struct {
	Header          Header `json:"header"`
	HeaderSignature []byte `json:"headerSignature"`
	Payload         []byte `json:"payload"`
}

// ShaID is the content hash the registry indexes the transaction under.
func (t *Transaction) ShaID() (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", errors.Wrap(err, "failed to serialize transaction")
	}
	sum := sha256.Sum256(raw)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// Verify checks the header signature against the issuer public key.
func (t *Transaction) Verify(issuer ed25519.PublicKey) bool {
	raw, err := json.Marshal(t.Header)
	if err != nil {
		return false
	}
	return ed25519.Verify(issuer, raw, t.HeaderSignature)
}

// ParseIssuerKey reads an ed25519 private key from a PKCS#8 PEM document.
func ParseIssuerKey(pemBytes []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("issuer key is not PEM encoded")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse issuer key")
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.Errorf("issuer key must be ed25519, got %T", key)
	}
	return edKey, nil
}

// NewTransaction serializes payload, hashes it into a fresh header and signs the header.
func NewTransaction(streamID FederatedStreamID, payloadType string, payload any, issuerKey ed25519.PrivateKey) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize payload")
	}
	sum := sha512.Sum512(raw)

	header := Header{
		FederatedStreamID: streamID,
		PayloadType:       payloadType,
		PayloadSha512:     sum[:],
		Nonce:             uuid.NewString(),
	}
	rawHeader, err := json.Marshal(header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize header")
	}

	return &Transaction{
		Header:          header,
		HeaderSignature: ed25519.Sign(issuerKey, rawHeader),
		Payload:         raw,
	}, nil
}

// BuildIssuedTransaction builds the signed issuance of cert, owned by ownerKey
// and carrying the quantity commitment. Hashed attributes travel only as hashes.
func BuildIssuedTransaction(cert *model.Certificate, ownerKey []byte, commitment keys.Commitment, issuerPEM []byte) (*Transaction, error) {
	issuerKey, err := ParseIssuerKey(issuerPEM)
	if err != nil {
		return nil, err
	}

	event := IssuedEvent{
		CertificateID:      FederatedStreamID{Registry: cert.RegistryName, StreamID: cert.ID},
		Type:               strings.ToLower(cert.CertificateType.String()),
		Period:             Period{Start: cert.StartDate, End: cert.EndDate},
		GridArea:           cert.GridArea,
		QuantityCommitment: Commitment{Content: commitment.Content},
		OwnerPublicKey:     PublicKey{Content: ownerKey, Type: KeyTypeEd25519},
	}
	for _, key := range sortedKeys(cert.ClearTextAttributes) {
		event.Attributes = append(event.Attributes, Attribute{Key: key, Value: cert.ClearTextAttributes[key], Type: AttributeTypeCleartext})
	}
	for _, attr := range cert.HashedAttributes {
		event.Attributes = append(event.Attributes, Attribute{Key: model.HashedAttributeKeyAssetID, Value: cert.HashedValue(attr), Type: AttributeTypeHashed})
	}

	return NewTransaction(event.CertificateID, PayloadTypeIssued, event, issuerKey)
}

// BuildWithdrawnTransaction builds the signed withdrawal of a certificate.
func BuildWithdrawnTransaction(registryName string, certificateID uuid.UUID, issuerPEM []byte) (*Transaction, error) {
	issuerKey, err := ParseIssuerKey(issuerPEM)
	if err != nil {
		return nil, err
	}
	event := WithdrawnEvent{CertificateID: FederatedStreamID{Registry: registryName, StreamID: certificateID}}
	return NewTransaction(event.CertificateID, PayloadTypeWithdrawn, event, issuerKey)
}
