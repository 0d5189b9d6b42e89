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

package api

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stamp-registry/stamp"
	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/database/mocks"
	"github.com/stamp-registry/stamp/internal/registry"
	"github.com/stamp-registry/stamp/internal/request"
	"github.com/stamp-registry/stamp/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response == nil {
		return resp, nil
	}
	err := json.NewDecoder(resp.Body).Decode(s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type nopBus struct{}

func (nopBus) Publish(context.Context, model.Event) error { return nil }

func (nopBus) Redeliver(context.Context, *stamp.Envelope, time.Duration) error { return nil }

type stubRegistry struct {
	sent []*registry.Transaction
	err  error
}

func (r *stubRegistry) SendTransaction(_ context.Context, _ string, tx *registry.Transaction) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, tx)
	return nil
}

func (r *stubRegistry) GetTransactionStatus(context.Context, string, string) (registry.TransactionState, error) {
	return registry.TransactionStateCommitted, nil
}

type testEnv struct {
	router   *gin.Engine
	uow      *mocks.MockUnitOfWork
	registry *stubRegistry
}

func issuerKeyPEM(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func setupRouter(t *testing.T, server config.ServerConfig) *testEnv {
	t.Helper()
	conf := &config.Configuration{
		ProjectName: "stamp",
		Server:      server,
		Registry: config.RegistryConfig{
			RegistryUrls:         map[string]string{"Energinet": "http://registry.local"},
			IssuerPrivateKeyPems: map[string]string{"DK1": issuerKeyPEM(t)},
		},
		Outbox: config.OutboxConfig{PollIntervalMs: 10},
	}
	config.MockConfig(conf)

	ds := &mocks.MockDataSource{}
	uow := mocks.NewMockUnitOfWork()
	ds.On("NewUnitOfWork").Return(uow)
	uow.On("Rollback").Return(nil).Maybe()

	reg := &stubRegistry{}
	s := stamp.New(ds, conf, stamp.Dependencies{Bus: nopBus{}, Registry: reg})
	api := NewAPI(s)
	require.NotNil(t, api)

	return &testEnv{router: api.Router(), uow: uow, registry: reg}
}

func (e *testEnv) do(t *testing.T, method, route string, payload interface{}, response interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		buf, err := request.ToJsonReq(payload)
		require.NoError(t, err)
		body = buf
	}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  body,
		Router:   e.router,
		Response: response,
		Method:   method,
		Route:    route,
	})
	require.NoError(t, err)
	return resp
}

func walletKey() []byte {
	return []byte(gofakeit.LetterN(32))
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupRouter(t, config.ServerConfig{})

	resp := env.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "po_stamp_certificate_intent_received_count")
}

func TestSecureRoutesRequireKey(t *testing.T) {
	env := setupRouter(t, config.ServerConfig{Secure: true, SecretKey: "s3cret"})

	resp := env.do(t, http.MethodGet, "/v1/certificates/withdrawn", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}
