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

// Package obfuscate implements the Salsa20 keystream masking that
// KeePass2 applies to protected values inside the database payload.
package obfuscate

import "golang.org/x/crypto/salsa20/salsa"

// KeePassIV is the fixed inner random stream nonce used by KeePass2.
var KeePassIV = [8]byte{0xe8, 0x30, 0x09, 0x4b, 0x97, 0x20, 0x5d, 0x2a}

// A Salsa20 is a stateful keystream consumer. Process XORs its input
// with the next bytes of the keystream, so two instances built with the
// same key and fed identical call sequences produce identical outputs,
// and processing a processed value restores the original.
type Salsa20 struct {
	key     [32]byte
	counter [16]byte // nonce in bytes 0..8, block counter in bytes 8..16
	stream  [64]byte
	used    int
}

// NewSalsa20 creates a keystream over the given 32-byte key and 8-byte
// nonce, positioned at the start of the stream.
func NewSalsa20(key [32]byte, iv [8]byte) *Salsa20 {
	s := &Salsa20{key: key}
	s.used = len(s.stream)
	copy(s.counter[:8], iv[:])
	return s
}

// Process XORs p with the next len(p) keystream bytes and returns the
// result. The keystream position advances by len(p).
func (s *Salsa20) Process(p []byte) []byte {
	out := make([]byte, len(p))
	for i := range p {
		if s.used == len(s.stream) {
			s.refill()
		}
		out[i] = p[i] ^ s.stream[s.used]
		s.used++
	}
	return out
}

// refill generates the next 64-byte keystream block and advances the
// block counter, carrying into higher bytes on overflow.
func (s *Salsa20) refill() {
	var zero [64]byte
	ctr := s.counter
	salsa.XORKeyStream(s.stream[:], zero[:], &ctr, &s.key)
	s.used = 0
	for i := 8; i < len(s.counter); i++ {
		s.counter[i]++
		if s.counter[i] != 0 {
			break
		}
	}
}
