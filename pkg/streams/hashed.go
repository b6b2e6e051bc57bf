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

// Package streams implements the stream framings used inside KeePass2
// database payloads: the SHA-256 checked block stream and gzip helpers.
package streams

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
)

// DefaultBlockSize is the payload size at which the block writer cuts a
// new block.
const DefaultBlockSize = 1 << 20

// Errors
var (
	ErrBlockIndex    = errors.New("streams: block index mismatch")
	ErrBlockChecksum = errors.New("streams: block checksum mismatch")
	ErrEndBlock      = errors.New("streams: corrupt end-of-stream block")
)

// blockHeader is the on-wire framing of a single block: a little-endian
// index, the SHA-256 of the payload, and the payload size. A block of
// size zero with an all-zero hash terminates the stream.
type blockHeader struct {
	index uint32
	hash  [sha256.Size]byte
	size  uint32
}

const blockHeaderSize = 4 + sha256.Size + 4

func (h *blockHeader) read(r io.Reader) error {
	var buf [blockHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	h.index = binary.LittleEndian.Uint32(buf[0:])
	copy(h.hash[:], buf[4:])
	h.size = binary.LittleEndian.Uint32(buf[4+sha256.Size:])
	return nil
}

func (h *blockHeader) write(w io.Writer) error {
	var buf [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:], h.index)
	copy(buf[4:], h.hash[:])
	binary.LittleEndian.PutUint32(buf[4+sha256.Size:], h.size)
	_, err := w.Write(buf[:])
	return err
}

// A BlockReader unwraps a hashed block stream, verifying the index and
// the SHA-256 of every block as it goes.
type BlockReader struct {
	src   io.Reader
	index uint32
	block bytes.Reader
	err   error
}

// NewBlockReader creates a reader that yields the payload bytes of the
// hashed block stream read from r.
func NewBlockReader(r io.Reader) *BlockReader {
	return &BlockReader{src: r}
}

func (br *BlockReader) Read(p []byte) (int, error) {
	for br.block.Len() == 0 {
		if br.err != nil {
			return 0, br.err
		}
		br.next()
	}
	return br.block.Read(p)
}

func (br *BlockReader) next() {
	var h blockHeader
	if err := h.read(br.src); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		br.err = err
		return
	}
	if h.index != br.index {
		br.err = ErrBlockIndex
		return
	}
	br.index++
	if h.size == 0 {
		if h.hash != [sha256.Size]byte{} {
			br.err = ErrEndBlock
		} else {
			br.err = io.EOF
		}
		return
	}
	payload := make([]byte, h.size)
	if _, err := io.ReadFull(br.src, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		br.err = err
		return
	}
	if sha256.Sum256(payload) != h.hash {
		br.err = ErrBlockChecksum
		return
	}
	br.block.Reset(payload)
}

// A BlockWriter frames its input as a hashed block stream. Closing the
// writer emits the final partial block, if any, and the empty
// terminator block; it does not close the underlying writer.
type BlockWriter struct {
	dst       io.Writer
	blockSize int
	buf       []byte
	index     uint32
	err       error
	closed    bool
}

// NewBlockWriter creates a block writer with the default block size.
func NewBlockWriter(w io.Writer) *BlockWriter {
	return NewBlockWriterSize(w, DefaultBlockSize)
}

// NewBlockWriterSize creates a block writer cutting blocks of the given
// payload size.
func NewBlockWriterSize(w io.Writer, blockSize int) *BlockWriter {
	if blockSize <= 0 {
		panic("streams: illegal block size")
	}
	return &BlockWriter{
		dst:       w,
		blockSize: blockSize,
		buf:       make([]byte, 0, blockSize),
	}
}

func (bw *BlockWriter) Write(p []byte) (int, error) {
	if bw.err != nil {
		return 0, bw.err
	}
	n := len(p)
	for len(bw.buf)+len(p) >= bw.blockSize {
		take := bw.blockSize - len(bw.buf)
		bw.buf = append(bw.buf, p[:take]...)
		p = p[take:]
		if err := bw.flushBlock(); err != nil {
			return n - len(p), err
		}
	}
	bw.buf = append(bw.buf, p...)
	return n, nil
}

func (bw *BlockWriter) flushBlock() error {
	h := blockHeader{
		index: bw.index,
		size:  uint32(len(bw.buf)),
	}
	if len(bw.buf) > 0 {
		h.hash = sha256.Sum256(bw.buf)
	}
	if err := h.write(bw.dst); err != nil {
		bw.err = err
		return err
	}
	if _, err := bw.dst.Write(bw.buf); err != nil {
		bw.err = err
		return err
	}
	bw.index++
	bw.buf = bw.buf[:0]
	return nil
}

// Close flushes any buffered payload and writes the terminator block.
func (bw *BlockWriter) Close() error {
	if bw.closed {
		return nil
	} else if bw.err != nil {
		return bw.err
	}
	if len(bw.buf) > 0 {
		if err := bw.flushBlock(); err != nil {
			return err
		}
	}
	if err := bw.flushBlock(); err != nil {
		return err
	}
	bw.closed = true
	return nil
}
