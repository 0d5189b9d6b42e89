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
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/database"
	"github.com/stamp-registry/stamp/internal/apierror"
	"github.com/stamp-registry/stamp/internal/registry"
	"github.com/stamp-registry/stamp/model"
)

type certKey struct {
	registry string
	id       uuid.UUID
}

type memState struct {
	certificates    map[certKey]model.Certificate
	withdrawn       []model.WithdrawnCertificate
	nextWithdrawnID int
	recipients      map[uuid.UUID]model.Recipient
	outbox          []model.OutboxMessage
}

func newMemState() *memState {
	return &memState{
		certificates: map[certKey]model.Certificate{},
		recipients:   map[uuid.UUID]model.Recipient{},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		certificates:    make(map[certKey]model.Certificate, len(s.certificates)),
		withdrawn:       append([]model.WithdrawnCertificate(nil), s.withdrawn...),
		nextWithdrawnID: s.nextWithdrawnID,
		recipients:      make(map[uuid.UUID]model.Recipient, len(s.recipients)),
		outbox:          append([]model.OutboxMessage(nil), s.outbox...),
	}
	for k, v := range s.certificates {
		c.certificates[k] = copyCertificate(v)
	}
	for k, v := range s.recipients {
		c.recipients[k] = v
	}
	return c
}

func copyCertificate(cert model.Certificate) model.Certificate {
	attrs := make(map[string]string, len(cert.ClearTextAttributes))
	for k, v := range cert.ClearTextAttributes {
		attrs[k] = v
	}
	cert.ClearTextAttributes = attrs
	cert.HashedAttributes = append([]model.HashedAttribute(nil), cert.HashedAttributes...)
	if cert.RejectionReason != nil {
		reason := *cert.RejectionReason
		cert.RejectionReason = &reason
	}
	return cert
}

// memStore is a transactional in-memory IDataSource. A unit works on a private
// snapshot that replaces the committed state on Commit.
type memStore struct {
	mu        sync.Mutex
	state     *memState
	commitErr error
	fetchErr  error
	fetches   int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (s *memStore) NewUnitOfWork() database.IUnitOfWork {
	return &memUnit{store: s}
}

func (s *memStore) Ping(context.Context) error {
	return nil
}

// readOutbox counts outbox reads and fails them while fetchErr is set.
func (s *memStore) readOutbox() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return s.fetchErr
}

func (s *memStore) setFetchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

func (s *memStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *memStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *memStore) certificate(t *testing.T, registryName string, id uuid.UUID) model.Certificate {
	t.Helper()
	cert, ok := s.snapshot().certificates[certKey{registryName, id}]
	require.True(t, ok, "certificate %s/%s not stored", registryName, id)
	return cert
}

func (s *memStore) outboxTypes() []string {
	var types []string
	for _, msg := range s.snapshot().outbox {
		types = append(types, msg.MessageType)
	}
	return types
}

type memUnit struct {
	store *memStore
	work  *memState
}

func (u *memUnit) state() *memState {
	if u.work == nil {
		u.work = u.store.snapshot()
	}
	return u.work
}

func (u *memUnit) Commit() error {
	if u.work == nil {
		return nil
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	work := u.work
	u.work = nil
	if u.store.commitErr != nil {
		return u.store.commitErr
	}
	u.store.state = work
	return nil
}

func (u *memUnit) Rollback() error {
	u.work = nil
	return nil
}

func (u *memUnit) Certificates() database.CertificateRepository {
	return memCertificates{u}
}

func (u *memUnit) WithdrawnCertificates() database.WithdrawnCertificateRepository {
	return memWithdrawn{u}
}

func (u *memUnit) Recipients() database.RecipientRepository {
	return memRecipients{u}
}

func (u *memUnit) Outbox() database.OutboxRepository {
	return memOutbox{u}
}

type memCertificates struct{ u *memUnit }

func (r memCertificates) Create(_ context.Context, cert *model.Certificate) error {
	st := r.u.state()
	if _, ok := st.certificates[certKey{cert.RegistryName, cert.ID}]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, "Certificate with this id or metering point and period already exists", nil)
	}
	for _, other := range st.certificates {
		if other.MeteringPointID == cert.MeteringPointID && other.StartDate == cert.StartDate && other.EndDate == cert.EndDate {
			return apierror.NewAPIError(apierror.ErrConflict, "Certificate with this id or metering point and period already exists", nil)
		}
	}
	st.certificates[certKey{cert.RegistryName, cert.ID}] = copyCertificate(*cert)
	return nil
}

func (r memCertificates) Get(_ context.Context, registryName string, id uuid.UUID) (*model.Certificate, error) {
	cert, ok := r.u.state().certificates[certKey{registryName, id}]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil)
	}
	cert = copyCertificate(cert)
	return &cert, nil
}

func (r memCertificates) SetState(_ context.Context, cert *model.Certificate) error {
	st := r.u.state()
	key := certKey{cert.RegistryName, cert.ID}
	stored, ok := st.certificates[key]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil)
	}
	stored.IssuedState = cert.IssuedState
	stored.RejectionReason = cert.RejectionReason
	st.certificates[key] = stored
	return nil
}

type memWithdrawn struct{ u *memUnit }

func (r memWithdrawn) Withdraw(_ context.Context, cert *model.Certificate) (*model.WithdrawnCertificate, error) {
	st := r.u.state()
	key := certKey{cert.RegistryName, cert.ID}
	stored, ok := st.certificates[key]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Certificate not found", nil)
	}
	for _, w := range st.withdrawn {
		if w.RegistryName == cert.RegistryName && w.Certificate.ID == cert.ID {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Certificate already withdrawn", nil)
		}
	}
	st.nextWithdrawnID++
	withdrawn := model.WithdrawnCertificate{ID: st.nextWithdrawnID, Certificate: stored, WithdrawnDate: time.Now().UTC()}
	st.withdrawn = append(st.withdrawn, withdrawn)
	delete(st.certificates, key)
	return &withdrawn, nil
}

func (r memWithdrawn) Get(_ context.Context, registryName string, id uuid.UUID) (*model.WithdrawnCertificate, error) {
	for _, w := range r.u.state().withdrawn {
		if w.RegistryName == registryName && w.Certificate.ID == id {
			return &w, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound, "Withdrawn certificate not found", nil)
}

func (r memWithdrawn) GetMultiple(_ context.Context, fromID, skip, limit int) (model.PageResult[model.WithdrawnCertificate], error) {
	page := model.PageResult[model.WithdrawnCertificate]{Items: []model.WithdrawnCertificate{}, Offset: skip, Limit: limit}
	var after []model.WithdrawnCertificate
	for _, w := range r.u.state().withdrawn {
		if w.ID > fromID {
			after = append(after, w)
		}
	}
	page.TotalCount = len(after)
	for i := skip; i < len(after) && len(page.Items) < page.Limit; i++ {
		page.Items = append(page.Items, after[i])
	}
	page.Count = len(page.Items)
	return page, nil
}

type memRecipients struct{ u *memUnit }

func (r memRecipients) Create(_ context.Context, recipient *model.Recipient) error {
	st := r.u.state()
	if _, ok := st.recipients[recipient.ID]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, "Recipient with this id already exists", nil)
	}
	st.recipients[recipient.ID] = *recipient
	return nil
}

func (r memRecipients) Get(_ context.Context, id uuid.UUID) (*model.Recipient, error) {
	recipient, ok := r.u.state().recipients[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Recipient not found", nil)
	}
	return &recipient, nil
}

type memOutbox struct{ u *memUnit }

func (r memOutbox) Create(_ context.Context, msg *model.OutboxMessage) error {
	if msg.Created.IsZero() {
		msg.Created = time.Now().UTC()
	}
	st := r.u.state()
	st.outbox = append(st.outbox, *msg)
	return nil
}

func (r memOutbox) GetFirstNonProcessed(context.Context) (*model.OutboxMessage, error) {
	if err := r.u.store.readOutbox(); err != nil {
		return nil, err
	}
	st := r.u.state()
	if len(st.outbox) == 0 {
		return nil, nil
	}
	msg := st.outbox[0]
	return &msg, nil
}

func (r memOutbox) Delete(_ context.Context, id uuid.UUID) error {
	st := r.u.state()
	for i, msg := range st.outbox {
		if msg.ID == id {
			st.outbox = append(st.outbox[:i], st.outbox[i+1:]...)
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrNotFound, "Outbox message not found", nil)
}

type redelivery struct {
	env   *Envelope
	delay time.Duration
}

// memBus queues envelopes in memory. Redeliveries are queued immediately, the
// requested delay is only recorded.
type memBus struct {
	mu            sync.Mutex
	pending       []*Envelope
	published     []*Envelope
	redelivered   []redelivery
	failPublishes int
	redeliverErr  error
}

func (b *memBus) Publish(_ context.Context, evt model.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPublishes > 0 {
		b.failPublishes--
		return errors.New("bus unavailable")
	}
	env, err := NewEnvelope(evt)
	if err != nil {
		return err
	}
	b.published = append(b.published, env)
	b.pending = append(b.pending, env)
	return nil
}

func (b *memBus) Redeliver(_ context.Context, env *Envelope, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.redeliverErr != nil {
		return b.redeliverErr
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	cp, err := decodeEnvelope(data)
	if err != nil {
		return err
	}
	b.redelivered = append(b.redelivered, redelivery{env: cp, delay: delay})
	b.pending = append(b.pending, cp)
	return nil
}

func (b *memBus) next() *Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	env := b.pending[0]
	b.pending = b.pending[1:]
	return env
}

func (b *memBus) publishedKinds() []model.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make([]model.EventKind, 0, len(b.published))
	for _, env := range b.published {
		kinds = append(kinds, env.Kind)
	}
	return kinds
}

type sentTransaction struct {
	registryName string
	tx           *registry.Transaction
}

// fakeRegistry answers status polls from statuses in order. The last status repeats.
type fakeRegistry struct {
	mu        sync.Mutex
	sent      []sentTransaction
	polls     int
	statuses  []registry.TransactionState
	sendErr   error
	statusErr error
}

func (r *fakeRegistry) SendTransaction(_ context.Context, registryName string, tx *registry.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, sentTransaction{registryName: registryName, tx: tx})
	return nil
}

func (r *fakeRegistry) GetTransactionStatus(context.Context, string, string) (registry.TransactionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	if r.statusErr != nil {
		return registry.TransactionStateUnknown, r.statusErr
	}
	if len(r.statuses) == 0 {
		return registry.TransactionStateCommitted, nil
	}
	state := r.statuses[0]
	if len(r.statuses) > 1 {
		r.statuses = r.statuses[1:]
	}
	return state, nil
}

type walletCall struct {
	endpoint string
	req      WalletReceiveRequest
}

type fakeWallet struct {
	mu    sync.Mutex
	calls []walletCall
	err   error
}

func (w *fakeWallet) Send(_ context.Context, endpoint string, req WalletReceiveRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.calls = append(w.calls, walletCall{endpoint: endpoint, req: req})
	return nil
}

const testRegistry = "Energinet"

func newIssuerPEM(t *testing.T) (ed25519.PublicKey, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return pub, base64.StdEncoding.EncodeToString(block)
}

func testConfig(t *testing.T) (*config.Configuration, ed25519.PublicKey) {
	t.Helper()
	pub, encoded := newIssuerPEM(t)
	return &config.Configuration{
		ProjectName: "stamp",
		Queue:       config.QueueConfig{Name: "stamp", Concurrency: 1, MaxEnqueueRetry: 3},
		Outbox:      config.OutboxConfig{PollIntervalMs: 5},
		Retry: config.RetryConfig{
			DefaultFirstLevelRetryCount:     5,
			DefaultInitialIntervalSeconds:   1,
			DefaultIntervalIncrementSeconds: 180,
			StillProcessingRetryCount:       5,
			StillProcessingInitialSeconds:   1,
			StillProcessingIncrementSeconds: 5,
		},
		Registry: config.RegistryConfig{
			RegistryUrls:         map[string]string{testRegistry: "http://registry.local"},
			IssuerPrivateKeyPems: map[string]string{"DK1": encoded},
		},
		Wallet: config.WalletConfig{TimeoutSeconds: 5},
	}, pub
}

type harness struct {
	stamp        *Stamp
	store        *memStore
	bus          *memBus
	registry     *fakeRegistry
	wallet       *fakeWallet
	choreography *Choreography
	issuer       ed25519.PublicKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conf, issuer := testConfig(t)
	h := &harness{
		store:    newMemStore(),
		bus:      &memBus{},
		registry: &fakeRegistry{},
		wallet:   &fakeWallet{},
		issuer:   issuer,
	}
	h.stamp = New(h.store, conf, Dependencies{Bus: h.bus, Registry: h.registry, Wallet: h.wallet})
	h.choreography = h.stamp.Choreography()
	return h
}

func (h *harness) recipient(t *testing.T, version int) *model.Recipient {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	recipient, err := h.stamp.CreateRecipient(context.Background(), &model.Recipient{
		WalletEndpointReferenceVersion:   version,
		WalletEndpointReferenceEndpoint:  "http://wallet.local/v1/slices",
		WalletEndpointReferencePublicKey: pub,
	})
	require.NoError(t, err)
	return recipient
}

// deliver runs one envelope through the asynq handler of its kind.
func (h *harness) deliver(t *testing.T, env *Envelope) error {
	t.Helper()
	payload, err := json.Marshal(env)
	require.NoError(t, err)
	handler := h.choreography.Handler(env.Kind)
	require.NotNil(t, handler, "no handler for %s", env.Kind)
	return handler.ProcessTask(context.Background(), asynq.NewTask(string(env.Kind), payload))
}

// drain relays the outbox and delivers queued envelopes until both are empty.
// It returns the errors handlers gave back to the queue.
func (h *harness) drain(t *testing.T) []error {
	t.Helper()
	var failures []error
	relay := h.stamp.OutboxRelay()
	for i := 0; i < 200; i++ {
		relayed, err := relay.RunOnce(context.Background())
		require.NoError(t, err)
		if relayed {
			continue
		}
		env := h.bus.next()
		if env == nil {
			return failures
		}
		if err := h.deliver(t, env); err != nil {
			failures = append(failures, err)
		}
	}
	t.Fatal("choreography did not settle")
	return nil
}
