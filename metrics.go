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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	intentReceivedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "po_stamp_certificate_intent_received_count",
		Help: "Number of accepted certificate issuance intents",
	})

	certificatesIssuedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "po_stamp_certificate_issued_count",
		Help: "Number of certificates marked as issued",
	}, []string{"certificate_type"})

	outboxPublishedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "po_stamp_outbox_published_count",
		Help: "Number of outbox messages relayed to the queue",
	})

	messageRetryCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "po_stamp_message_retry_count",
		Help: "Number of scheduled message redeliveries per retry policy",
	}, []string{"kind", "policy"})

	messageFailedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "po_stamp_message_failed_count",
		Help: "Number of messages that exhausted their retries or failed permanently",
	}, []string{"kind"})
)
