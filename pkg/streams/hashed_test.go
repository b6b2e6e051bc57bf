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

package streams

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, w io.Writer, data []byte, blockSize int) {
	t.Helper()
	bw := NewBlockWriterSize(w, blockSize)
	_, err := bw.Write(data)
	require.NoError(t, err)
	require.NoError(t, bw.Close())
}

func TestBlockRoundTrip(t *testing.T) {
	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i * 13)
	}
	for _, blockSize := range []int{1, 7, 128, 4096, DefaultBlockSize} {
		var buf bytes.Buffer
		frame(t, &buf, payload, blockSize)
		got, err := io.ReadAll(NewBlockReader(&buf))
		require.NoError(t, err, "block size %d", blockSize)
		assert.Equal(t, payload, got, "block size %d", blockSize)
	}
}

func TestBlockRoundTripEmpty(t *testing.T) {
	var buf bytes.Buffer
	frame(t, &buf, nil, 128)
	// Only the terminator block is on the wire.
	assert.Equal(t, 40, buf.Len())
	got, err := io.ReadAll(NewBlockReader(&buf))
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestBlockWireFormat pins the exact framing of a short payload at
// block size 128: one data block and the zero terminator.
func TestBlockWireFormat(t *testing.T) {
	payload := []byte("abcdefghijklmnopqrstuvwxyz")

	var want bytes.Buffer
	writeUint32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		want.Write(b[:])
	}
	writeUint32(0)
	sum := sha256.Sum256(payload)
	want.Write(sum[:])
	writeUint32(uint32(len(payload)))
	want.Write(payload)
	writeUint32(1)
	want.Write(make([]byte, 32))
	writeUint32(0)

	var got bytes.Buffer
	frame(t, &got, payload, 128)
	assert.Equal(t, want.Bytes(), got.Bytes())
}

func TestBlockReaderCorruption(t *testing.T) {
	payload := bytes.Repeat([]byte("block data "), 50)
	var buf bytes.Buffer
	frame(t, &buf, payload, 64)
	pristine := buf.Bytes()

	// Flipping any byte of a non-terminal block must surface an error.
	for _, offset := range []int{0, 4, 36, 40, 100} {
		corrupt := append([]byte(nil), pristine...)
		corrupt[offset] ^= 0x01
		_, err := io.ReadAll(NewBlockReader(bytes.NewReader(corrupt)))
		assert.Error(t, err, "offset %d", offset)
	}
}

func TestBlockReaderChecksumMismatch(t *testing.T) {
	payload := []byte("payload under test")
	var buf bytes.Buffer
	frame(t, &buf, payload, 128)
	corrupt := buf.Bytes()
	// Corrupt a payload byte, leaving the recorded hash stale.
	corrupt[40] ^= 0xff
	_, err := io.ReadAll(NewBlockReader(bytes.NewReader(corrupt)))
	assert.ErrorIs(t, err, ErrBlockChecksum)
}

func TestBlockReaderIndexMismatch(t *testing.T) {
	payload := []byte("payload under test")
	var buf bytes.Buffer
	frame(t, &buf, payload, 128)
	corrupt := buf.Bytes()
	corrupt[0] = 5
	_, err := io.ReadAll(NewBlockReader(bytes.NewReader(corrupt)))
	assert.ErrorIs(t, err, ErrBlockIndex)
}

func TestBlockReaderCorruptTerminator(t *testing.T) {
	var buf bytes.Buffer
	frame(t, &buf, nil, 128)
	corrupt := buf.Bytes()
	corrupt[10] = 0xaa // a non-zero hash byte in the terminator
	_, err := io.ReadAll(NewBlockReader(bytes.NewReader(corrupt)))
	assert.ErrorIs(t, err, ErrEndBlock)
}

func TestBlockReaderTruncated(t *testing.T) {
	payload := bytes.Repeat([]byte{7}, 100)
	var buf bytes.Buffer
	frame(t, &buf, payload, 128)
	_, err := io.ReadAll(NewBlockReader(bytes.NewReader(buf.Bytes()[:60])))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestGzipRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 100, 10000} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i % 251)
		}
		compressed, err := GzipBytes(payload)
		require.NoError(t, err)
		got, err := GunzipBytes(compressed)
		require.NoError(t, err)
		assert.Equal(t, payload, got, "size %d", size)
	}
}

func TestGunzipGarbage(t *testing.T) {
	_, err := GunzipBytes([]byte("this is not a gzip stream"))
	assert.Error(t, err)
}
