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
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// ErrStillProcessing signals that the registry has not committed the transaction
// yet. Only the still processing retry policy handles it.
var ErrStillProcessing = errors.New("registry transaction is still processing")

// TransientError wraps a failed remote call. It is retried with the default policy.
type TransientError struct {
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func newTransientError(message string, err error) error {
	return &TransientError{Message: message, Err: err}
}

// WalletError reports a problem with the recipient's wallet reference.
type WalletError struct {
	Message string
	Err     error
}

func (e *WalletError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *WalletError) Unwrap() error {
	return e.Err
}

// permanent marks err so that no retry policy picks it up.
func permanent(err error) error {
	return backoff.Permanent(err)
}

func isPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}
