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

package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const (
	randomRLength = 32
	ownerKeyInfo  = "stamp/owner-key/"
)

// Deriver derives the public key that owns the certificate at a wallet position.
type Deriver interface {
	Derive(walletPublicKey []byte, position uint32) ([]byte, error)
}

// Committer hides a quantity behind a commitment whose opening is handed to the wallet.
type Committer interface {
	Commit(quantity uint32) (Commitment, error)
}

// Commitment is the published Content plus the RandomR needed to open it.
type Commitment struct {
	Content []byte
	RandomR []byte
}

// HKDFDeriver expands the wallet public key with the position as info into an
// ed25519 seed and returns the matching public key. The same inputs always give
// the same key.
type HKDFDeriver struct{}

func (HKDFDeriver) Derive(walletPublicKey []byte, position uint32) ([]byte, error) {
	if len(walletPublicKey) == 0 {
		return nil, errors.New("wallet public key is empty")
	}

	info := []byte(ownerKeyInfo + strconv.FormatUint(uint64(position), 10))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, walletPublicKey, nil, info), seed); err != nil {
		return nil, errors.Wrap(err, "failed to derive owner key")
	}

	return ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey), nil
}

// HashCommitter commits to sha256(quantity || R) with a fresh random R.
type HashCommitter struct {
	// Rand defaults to crypto/rand.
	Rand io.Reader
}

func (c HashCommitter) Commit(quantity uint32) (Commitment, error) {
	source := c.Rand
	if source == nil {
		source = rand.Reader
	}

	r := make([]byte, randomRLength)
	if _, err := io.ReadFull(source, r); err != nil {
		return Commitment{}, errors.Wrap(err, "failed to draw blinding factor")
	}
	return Commitment{Content: commitmentContent(quantity, r), RandomR: r}, nil
}

// Open reports whether the commitment opens to quantity.
func (c Commitment) Open(quantity uint32) bool {
	return subtle.ConstantTimeCompare(c.Content, commitmentContent(quantity, c.RandomR)) == 1
}

func commitmentContent(quantity uint32, r []byte) []byte {
	buf := make([]byte, 4, 4+len(r))
	binary.BigEndian.PutUint32(buf, quantity)
	sum := sha256.Sum256(append(buf, r...))
	return sum[:]
}
