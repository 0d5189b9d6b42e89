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
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/stamp-registry/stamp/internal/apierror"
	"github.com/stamp-registry/stamp/internal/registry"
	"github.com/stamp-registry/stamp/model"
)

const registryRejectionReason = "Rejected by the registry"

// Submit signs the issuance of a stored certificate and sends it to the registry.
func (s *Stamp) Submit(ctx context.Context, evt model.CertificateCreatedEvent) error {
	ctx, span := otel.Tracer("stamp.choreography").Start(ctx, "Submit certificate to registry")
	defer span.End()

	fields := logrus.Fields{"certificate_id": evt.CertificateID, "registry": evt.RegistryName}

	uow := s.datasource.NewUnitOfWork()
	cert, err := uow.Certificates().Get(ctx, evt.RegistryName, evt.CertificateID)
	_ = uow.Rollback()
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			return permanent(err)
		}
		return err
	}
	if cert.IsIssued() || cert.IsRejected() {
		logrus.WithFields(fields).Infof("certificate already %s, skipping registry submission", cert.IssuedState)
		return nil
	}

	position := model.WalletEndpointPosition(evt.Start)
	if position == nil {
		return permanent(&WalletError{Message: fmt.Sprintf("cannot derive wallet endpoint position from start %d", evt.Start)})
	}

	ownerKey, err := s.deriver.Derive(evt.WalletEndpointReferencePublicKey, *position)
	if err != nil {
		return permanent(&WalletError{Message: "cannot derive owner key", Err: err})
	}

	commitment, err := s.committer.Commit(evt.Quantity)
	if err != nil {
		return err
	}

	issuerKey, err := s.registries.IssuerKey(cert.GridArea)
	if err != nil {
		return permanent(err)
	}

	tx, err := registry.BuildIssuedTransaction(cert, ownerKey, commitment, issuerKey)
	if err != nil {
		return permanent(err)
	}
	shaID, err := tx.ShaID()
	if err != nil {
		return permanent(err)
	}

	if err := s.registry.SendTransaction(ctx, evt.RegistryName, tx); err != nil {
		logrus.WithFields(fields).Warnf("failed to send transaction to registry: %v", err)
		return newTransientError("failed to send transaction to registry", err)
	}

	logrus.WithFields(fields).WithField("sha_id", shaID).Info("certificate sent to registry")
	return s.bus.Publish(ctx, model.CertificateSentToRegistryEvent{
		ShaID:                  shaID,
		CertificateID:          evt.CertificateID,
		RegistryName:           evt.RegistryName,
		RecipientID:            evt.RecipientID,
		WalletEndpointPosition: *position,
		Quantity:               evt.Quantity,
		RandomR:                commitment.RandomR,
	})
}

// AwaitCommitment polls the registry once. Pending transactions come back as
// ErrStillProcessing so the still processing policy schedules the next poll.
func (s *Stamp) AwaitCommitment(ctx context.Context, evt model.CertificateSentToRegistryEvent) error {
	ctx, span := otel.Tracer("stamp.choreography").Start(ctx, "Await registry commitment")
	defer span.End()

	fields := logrus.Fields{"certificate_id": evt.CertificateID, "registry": evt.RegistryName, "sha_id": evt.ShaID}

	state, err := s.registry.GetTransactionStatus(ctx, evt.RegistryName, evt.ShaID)
	if err != nil {
		logrus.WithFields(fields).Warnf("failed to get transaction status: %v", err)
		return newTransientError("failed to get transaction status from registry", err)
	}

	switch state {
	case registry.TransactionStateCommitted:
		logrus.WithFields(fields).Info("transaction committed in registry")
		return s.bus.Publish(ctx, model.CertificateIssuedInRegistryEvent{
			CertificateID:          evt.CertificateID,
			RegistryName:           evt.RegistryName,
			RecipientID:            evt.RecipientID,
			WalletEndpointPosition: evt.WalletEndpointPosition,
			Quantity:               evt.Quantity,
			RandomR:                evt.RandomR,
		})
	case registry.TransactionStateFailed:
		logrus.WithFields(fields).Info("transaction failed in registry")
		return s.bus.Publish(ctx, model.CertificateFailedInRegistryEvent{
			CertificateID: evt.CertificateID,
			RegistryName:  evt.RegistryName,
			RejectReason:  registryRejectionReason,
		})
	default:
		logrus.WithFields(fields).Infof("transaction is %s, still processing", state)
		return ErrStillProcessing
	}
}

// MarkIssued moves the certificate to Issued and queues the wallet notification
// in the same transaction. A redelivery finds it Issued and changes nothing.
func (s *Stamp) MarkIssued(ctx context.Context, evt model.CertificateIssuedInRegistryEvent) error {
	ctx, span := otel.Tracer("stamp.choreography").Start(ctx, "Mark certificate as issued")
	defer span.End()

	fields := logrus.Fields{"certificate_id": evt.CertificateID, "registry": evt.RegistryName}

	uow := s.datasource.NewUnitOfWork()
	defer func() { _ = uow.Rollback() }()

	cert, err := uow.Certificates().Get(ctx, evt.RegistryName, evt.CertificateID)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			logrus.WithFields(fields).Warn("certificate not found, nothing to mark as issued")
			return nil
		}
		return err
	}
	if cert.IsIssued() {
		logrus.WithFields(fields).Info("certificate already issued")
		return nil
	}

	if err := cert.Issue(); err != nil {
		return permanent(err)
	}
	if err := uow.Certificates().SetState(ctx, cert); err != nil {
		return err
	}

	msg, err := model.NewOutboxMessage(model.CertificateMarkedAsIssuedEvent{
		CertificateID:          evt.CertificateID,
		RegistryName:           evt.RegistryName,
		RecipientID:            evt.RecipientID,
		WalletEndpointPosition: evt.WalletEndpointPosition,
		Quantity:               cert.Quantity,
		RandomR:                evt.RandomR,
		HashedAttributes:       cert.HashedAttributes,
	})
	if err != nil {
		return permanent(err)
	}
	if err := uow.Outbox().Create(ctx, msg); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	certificatesIssuedCounter.WithLabelValues(cert.CertificateType.String()).Inc()
	logrus.WithFields(fields).Info("certificate issued")
	return nil
}

// MarkRejected moves the certificate to Rejected. Repeats are no-ops.
func (s *Stamp) MarkRejected(ctx context.Context, evt model.CertificateFailedInRegistryEvent) error {
	ctx, span := otel.Tracer("stamp.choreography").Start(ctx, "Mark certificate as rejected")
	defer span.End()

	fields := logrus.Fields{"certificate_id": evt.CertificateID, "registry": evt.RegistryName}

	uow := s.datasource.NewUnitOfWork()
	defer func() { _ = uow.Rollback() }()

	cert, err := uow.Certificates().Get(ctx, evt.RegistryName, evt.CertificateID)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			logrus.WithFields(fields).Warn("certificate not found, nothing to reject")
			return nil
		}
		return err
	}
	if cert.IsRejected() {
		return nil
	}

	if err := cert.Reject(evt.RejectReason); err != nil {
		return permanent(err)
	}
	if err := uow.Certificates().SetState(ctx, cert); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	logrus.WithFields(fields).Infof("certificate rejected: %s", evt.RejectReason)
	return nil
}

// NotifyWallet sends the certificate slice to the recipient's wallet.
func (s *Stamp) NotifyWallet(ctx context.Context, evt model.CertificateMarkedAsIssuedEvent) error {
	ctx, span := otel.Tracer("stamp.choreography").Start(ctx, "Send certificate to wallet")
	defer span.End()

	fields := logrus.Fields{"certificate_id": evt.CertificateID, "registry": evt.RegistryName, "recipient_id": evt.RecipientID}

	recipient, err := s.lookupRecipient(ctx, evt.RecipientID)
	if err != nil {
		if apierror.Is(err, apierror.ErrNotFound) {
			return &WalletError{Message: fmt.Sprintf("recipient %s not found", evt.RecipientID), Err: err}
		}
		return err
	}

	if recipient.WalletEndpointReferenceVersion != model.WalletEndpointVersionV1 {
		return permanent(&WalletError{Message: fmt.Sprintf("unsupported wallet endpoint version %d", recipient.WalletEndpointReferenceVersion)})
	}

	err = s.wallet.Send(ctx, recipient.WalletEndpointReferenceEndpoint, newWalletReceiveRequest(recipient, evt))
	if err != nil {
		logrus.WithFields(fields).Warnf("failed to send certificate to wallet: %v", err)
		return newTransientError("failed to send certificate to wallet", err)
	}

	logrus.WithFields(fields).Info("certificate sent to wallet")
	return nil
}
