// Copyright 2025 The Libkeepass Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kdbcrypt implements the KeePass payload encryption scheme:
// AES key stretching of the credential and AES-256 or Twofish-256 in
// CBC mode with PKCS#7 padding over the database content.
package kdbcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/twofish"

	"github.com/kindahl/libkeepass/pkg/cipherio"
	"github.com/kindahl/libkeepass/pkg/padding"
)

// Errors
var ErrUnknownCipher = errors.New("kdbcrypt: unknown cipher")

// BlockSize is the cipher block size in bytes, shared by AES-256 and
// Twofish-256.
const BlockSize = 16

// Cipher selects the payload cipher algorithm.
type Cipher int

// Available ciphers
const (
	RijndaelCipher Cipher = iota
	TwofishCipher
)

func (c Cipher) String() string {
	switch c {
	case RijndaelCipher:
		return "AES"
	case TwofishCipher:
		return "Twofish"
	default:
		return "unknown"
	}
}

func (c Cipher) block(key []byte) (cipher.Block, error) {
	switch c {
	case RijndaelCipher:
		return aes.NewCipher(key)
	case TwofishCipher:
		return twofish.NewCipher(key)
	default:
		return nil, ErrUnknownCipher
	}
}

// Params specifies the values needed to encrypt or decrypt a payload.
type Params struct {
	Cipher Cipher
	Key    [32]byte // final key, from FinalKey
	IV     [16]byte
}

// TransformKey stretches a resolved 32-byte credential key: the key is
// encrypted rounds times with AES-256 ECB under seed, treating the two
// 16-byte halves as independent blocks, and the result is hashed. The
// halves run in parallel.
func TransformKey(resolved, seed [32]byte, rounds uint64) [32]byte {
	tk := resolved
	var wg sync.WaitGroup
	wg.Add(2)
	go transformHalf(&wg, tk[:BlockSize], seed[:], rounds)
	go transformHalf(&wg, tk[BlockSize:], seed[:], rounds)
	wg.Wait()
	return sha256.Sum256(tk[:])
}

func transformHalf(wg *sync.WaitGroup, half, seed []byte, rounds uint64) {
	defer wg.Done()
	c, err := aes.NewCipher(seed)
	if err != nil {
		panic(err)
	}
	for i := uint64(0); i < rounds; i++ {
		c.Encrypt(half, half)
	}
}

// FinalKey derives the payload cipher key from the header's master seed
// and the transformed credential key.
func FinalKey(masterSeed []byte, transformed [32]byte) [32]byte {
	h := sha256.New()
	h.Write(masterSeed)
	h.Write(transformed[:])
	var key [32]byte
	h.Sum(key[:0])
	return key
}

// NewEncrypter creates a writer that CBC-encrypts to w. Closing the
// writer flushes the final padded block but does not close w.
func NewEncrypter(w io.Writer, params *Params) (io.WriteCloser, error) {
	b, err := params.Cipher.block(params.Key[:])
	if err != nil {
		return nil, err
	}
	e := cipher.NewCBCEncrypter(b, params.IV[:])
	return cipherio.NewWriter(w, e, padding.PKCS7), nil
}

// NewDecrypter creates a reader that CBC-decrypts and strips padding
// from r.
func NewDecrypter(r io.Reader, params *Params) (io.Reader, error) {
	b, err := params.Cipher.block(params.Key[:])
	if err != nil {
		return nil, err
	}
	d := cipher.NewCBCDecrypter(b, params.IV[:])
	return cipherio.NewReader(r, d, padding.PKCS7), nil
}
