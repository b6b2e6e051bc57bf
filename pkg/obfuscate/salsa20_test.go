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

package obfuscate

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/salsa20"
)

func testKey() [32]byte {
	var key [32]byte
	for i := range key {
		key[i] = byte(i*17 + 1)
	}
	return key
}

// TestKeystreamMatchesReference checks the raw keystream against the
// one-shot x/crypto implementation across several block boundaries.
func TestKeystreamMatchesReference(t *testing.T) {
	key := testKey()
	plain := make([]byte, 300)
	for i := range plain {
		plain[i] = byte(i)
	}

	want := make([]byte, len(plain))
	salsa20.XORKeyStream(want, plain, KeePassIV[:], &key)

	s := NewSalsa20(key, KeePassIV)
	assert.Equal(t, want, s.Process(plain))
}

// TestDeterminism: two instances with the same key fed the same call
// sequence produce identical outputs, regardless of chunking.
func TestDeterminism(t *testing.T) {
	key := testKey()
	input := bytes.Repeat([]byte("protected value"), 20)

	whole := NewSalsa20(key, KeePassIV).Process(input)

	chunked := NewSalsa20(key, KeePassIV)
	var got []byte
	for _, size := range []int{1, 2, 3, 63, 64, 65, 100} {
		got = append(got, chunked.Process(input[len(got):len(got)+size])...)
	}
	got = append(got, chunked.Process(input[len(got):])...)
	assert.Equal(t, whole, got)
}

// TestSelfInverse: XOR with the same keystream position restores the
// original bytes.
func TestSelfInverse(t *testing.T) {
	key := testKey()
	values := [][]byte{
		[]byte("password"),
		[]byte(""),
		bytes.Repeat([]byte{0xab}, 200),
		[]byte("final"),
	}

	masking := NewSalsa20(key, KeePassIV)
	unmasking := NewSalsa20(key, KeePassIV)
	for _, v := range values {
		masked := masking.Process(v)
		got := unmasking.Process(masked)
		require.Equal(t, v, got)
		if len(v) > 0 {
			assert.NotEqual(t, v, masked)
		}
	}
}
