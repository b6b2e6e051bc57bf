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

package keepass

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialDeterministic(t *testing.T) {
	a := NewCredential()
	a.SetPassword("password")
	b := NewCredential()
	b.SetPassword("password")
	assert.Equal(t, a.resolve(hashSubKeys), b.resolve(hashSubKeys))
	assert.Equal(t, a.resolve(hashSubKeysOnlyIfComposite), b.resolve(hashSubKeysOnlyIfComposite))
}

func TestResolvePasswordOnly(t *testing.T) {
	c := NewCredential()
	c.SetPassword("password")
	passwordKey := sha256.Sum256([]byte("password"))

	// The KDB policy uses a lone sub-key as-is; the KDBX policy hashes
	// it again.
	assert.Equal(t, passwordKey, c.resolve(hashSubKeysOnlyIfComposite))
	assert.Equal(t, sha256.Sum256(passwordKey[:]), c.resolve(hashSubKeys))
}

func TestResolveComposite(t *testing.T) {
	keyFileKey := strings.Repeat("42", 32)

	c := NewCredential()
	c.SetPassword("password")
	require.NoError(t, c.SetKeyFileReader(strings.NewReader(keyFileKey)))

	passwordKey := sha256.Sum256([]byte("password"))
	h := sha256.New()
	h.Write(passwordKey[:])
	h.Write(c.keyFileKey[:])
	var want [32]byte
	h.Sum(want[:0])

	// Both sub-keys present: the policies agree.
	assert.Equal(t, want, c.resolve(hashSubKeys))
	assert.Equal(t, want, c.resolve(hashSubKeysOnlyIfComposite))
}

func TestResolveKeyFileOnly(t *testing.T) {
	c := NewCredential()
	require.NoError(t, c.SetKeyFileReader(strings.NewReader(strings.Repeat("ab", 32))))
	assert.Equal(t, c.keyFileKey, c.resolve(hashSubKeysOnlyIfComposite))
	assert.Equal(t, sha256.Sum256(c.keyFileKey[:]), c.resolve(hashSubKeys))
}

func TestKeyFileForms(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 100)
	}

	t.Run("xml", func(t *testing.T) {
		doc := `<?xml version="1.0" encoding="utf-8"?>
<KeyFile>
	<Meta><Version>1.00</Version></Meta>
	<Key><Data>` + base64.StdEncoding.EncodeToString(raw) + `</Data></Key>
</KeyFile>`
		c := NewCredential()
		require.NoError(t, c.SetKeyFileReader(strings.NewReader(doc)))
		assert.Equal(t, raw, c.keyFileKey[:])
	})

	t.Run("xml wrong key size", func(t *testing.T) {
		doc := `<KeyFile><Key><Data>` +
			base64.StdEncoding.EncodeToString(raw[:16]) + `</Data></Key></KeyFile>`
		c := NewCredential()
		err := c.SetKeyFileReader(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("hex", func(t *testing.T) {
		c := NewCredential()
		require.NoError(t, c.SetKeyFileReader(strings.NewReader(
			"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")))
		want := make([]byte, 32)
		for i := range want {
			want[i] = byte(i)
		}
		assert.Equal(t, want, c.keyFileKey[:])
	})

	t.Run("hex wrong length", func(t *testing.T) {
		c := NewCredential()
		err := c.SetKeyFileReader(strings.NewReader("0011223344"))
		assert.ErrorIs(t, err, ErrFormat)
	})

	t.Run("not hex", func(t *testing.T) {
		c := NewCredential()
		err := c.SetKeyFileReader(strings.NewReader(strings.Repeat("zz", 32)))
		assert.ErrorIs(t, err, ErrFormat)
	})
}

func TestSetKeyFileMissing(t *testing.T) {
	c := NewCredential()
	err := c.SetKeyFile("/nonexistent/path/to/key")
	assert.ErrorIs(t, err, ErrFileNotFound)
}
