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
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/stamp-registry/stamp/internal/request"
)

type TransactionState int

const (
	TransactionStateUnknown TransactionState = iota
	TransactionStatePending
	TransactionStateCommitted
	TransactionStateFailed
)

func (s TransactionState) String() string {
	switch s {
	case TransactionStatePending:
		return "PENDING"
	case TransactionStateCommitted:
		return "COMMITTED"
	case TransactionStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ParseTransactionState maps the registry wire value. Unrecognised values are Unknown.
func ParseTransactionState(s string) TransactionState {
	switch strings.ToUpper(s) {
	case "PENDING":
		return TransactionStatePending
	case "COMMITTED":
		return TransactionStateCommitted
	case "FAILED":
		return TransactionStateFailed
	default:
		return TransactionStateUnknown
	}
}

// Client is the remote registry. Both calls are plain remote calls, any error is
// a communication failure.
type Client interface {
	SendTransaction(ctx context.Context, registryName string, tx *Transaction) error
	GetTransactionStatus(ctx context.Context, registryName, shaID string) (TransactionState, error)
}

// URLResolver maps a registry name to its base url.
type URLResolver func(registryName string) (string, error)

type HTTPClient struct {
	resolve URLResolver
	client  *http.Client
}

func NewHTTPClient(resolve URLResolver, timeout time.Duration) *HTTPClient {
	return &HTTPClient{resolve: resolve, client: &http.Client{Timeout: timeout}}
}

type sendTransactionsRequest struct {
	Transactions []*Transaction `json:"transactions"`
}

type transactionStatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *HTTPClient) SendTransaction(ctx context.Context, registryName string, tx *Transaction) error {
	base, err := c.resolve(registryName)
	if err != nil {
		return err
	}

	payload, err := request.ToJsonReq(sendTransactionsRequest{Transactions: []*Transaction{tx}})
	if err != nil {
		return errors.Wrap(err, "failed to encode transaction")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/v1/transactions", payload)
	if err != nil {
		return err
	}

	if _, err := request.Do(c.client, req, nil); err != nil {
		return errors.Wrapf(err, "failed to send transaction to registry %s", registryName)
	}
	return nil
}

func (c *HTTPClient) GetTransactionStatus(ctx context.Context, registryName, shaID string) (TransactionState, error) {
	base, err := c.resolve(registryName)
	if err != nil {
		return TransactionStateUnknown, err
	}

	endpoint := fmt.Sprintf("%s/v1/transactions/status/%s", strings.TrimRight(base, "/"), url.PathEscape(shaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return TransactionStateUnknown, err
	}

	var status transactionStatusResponse
	if _, err := request.Do(c.client, req, &status); err != nil {
		return TransactionStateUnknown, errors.Wrapf(err, "failed to get transaction status from registry %s", registryName)
	}
	return ParseTransactionState(status.Status), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
