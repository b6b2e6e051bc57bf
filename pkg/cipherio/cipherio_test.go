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

package cipherio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindahl/libkeepass/pkg/padding"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

var testIV = bytes.Repeat([]byte{0x24}, 16)

func newModes(t *testing.T) (enc, dec cipher.BlockMode) {
	t.Helper()
	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)
	return cipher.NewCBCEncrypter(block, testIV), cipher.NewCBCDecrypter(block, testIV)
}

func encrypt(t *testing.T, plain []byte) []byte {
	t.Helper()
	enc, _ := newModes(t)
	var buf bytes.Buffer
	w := NewWriter(&buf, enc, padding.PKCS7)
	_, err := w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 15, 16, 17, 31, 32, 33, 1000, 4096, 5000} {
		plain := make([]byte, size)
		for i := range plain {
			plain[i] = byte(i)
		}
		crypt := encrypt(t, plain)

		// Always padded: the ciphertext is a whole number of blocks and
		// strictly longer than the input.
		require.Zero(t, len(crypt)%16, "size %d", size)
		require.Greater(t, len(crypt), size, "size %d", size)

		_, dec := newModes(t)
		got, err := io.ReadAll(NewReader(bytes.NewReader(crypt), dec, padding.PKCS7))
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, plain, got, "size %d", size)
	}
}

func TestWriterSplitWrites(t *testing.T) {
	plain := make([]byte, 100)
	for i := range plain {
		plain[i] = byte(i * 3)
	}
	enc, _ := newModes(t)
	var buf bytes.Buffer
	w := NewWriter(&buf, enc, padding.PKCS7)
	for _, chunk := range [][]byte{plain[:1], plain[1:16], plain[16:17], plain[17:64], plain[64:]} {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	assert.Equal(t, encrypt(t, plain), buf.Bytes())
}

func TestReaderSmallReads(t *testing.T) {
	plain := []byte("the quick brown fox jumps over the lazy dog")
	crypt := encrypt(t, plain)
	_, dec := newModes(t)
	r := NewReader(bytes.NewReader(crypt), dec, padding.PKCS7)
	var got []byte
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, plain, got)
}

func TestReaderBadPadding(t *testing.T) {
	enc, dec := newModes(t)
	// A final plaintext byte of 0x11 claims 17 bytes of padding, which
	// can never be valid for a 16-byte block.
	plain := bytes.Repeat([]byte{0x11}, 16)
	crypt := make([]byte, len(plain))
	enc.CryptBlocks(crypt, plain)
	_, err := io.ReadAll(NewReader(bytes.NewReader(crypt), dec, padding.PKCS7))
	assert.ErrorIs(t, err, padding.ErrWrongPadding)
}

func TestReaderTruncated(t *testing.T) {
	crypt := encrypt(t, []byte("some plaintext"))
	_, dec := newModes(t)
	_, err := io.ReadAll(NewReader(bytes.NewReader(crypt[:len(crypt)-5]), dec, padding.PKCS7))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReaderEmptyStream(t *testing.T) {
	_, dec := newModes(t)
	_, err := io.ReadAll(NewReader(bytes.NewReader(nil), dec, padding.PKCS7))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
