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

// Package cipherio provides I/O interfaces for block encryption streams.
package cipherio

import (
	"bytes"
	"crypto/cipher"
	"errors"
	"io"

	"github.com/kindahl/libkeepass/pkg/padding"
)

type reader struct {
	src  io.Reader
	mode cipher.BlockMode
	pad  padding.Scheme

	rbuf  []byte       // read staging buffer
	enc   []byte       // ciphertext carried between fills
	plain bytes.Buffer // decrypted bytes ready to serve
	err   error
}

// NewReader creates a reader that decrypts from r and strips padding at
// end of stream. A stream that is empty or not a whole number of cipher
// blocks yields io.ErrUnexpectedEOF; bad padding yields a padding error.
func NewReader(r io.Reader, mode cipher.BlockMode, pad padding.Scheme) io.Reader {
	return &reader{
		src:  r,
		mode: mode,
		pad:  pad,
		rbuf: make([]byte, 4096),
	}
}

func (r *reader) Read(p []byte) (int, error) {
	for r.plain.Len() == 0 && r.err == nil {
		r.fill()
	}
	if r.plain.Len() > 0 {
		return r.plain.Read(p)
	}
	return 0, r.err
}

// fill reads more ciphertext and decrypts every whole block except the
// last one seen so far. The trailing block is withheld until end of
// stream is known, because it may carry the padding.
func (r *reader) fill() {
	bs := r.mode.BlockSize()
	n, err := io.ReadAtLeast(r.src, r.rbuf, 1)
	r.enc = append(r.enc, r.rbuf[:n]...)
	if err == nil {
		keep := len(r.enc) % bs
		if keep == 0 {
			keep = bs
		}
		if nd := len(r.enc) - keep; nd > 0 {
			r.mode.CryptBlocks(r.enc[:nd], r.enc[:nd])
			r.plain.Write(r.enc[:nd])
			r.enc = append(r.enc[:0], r.enc[nd:]...)
		}
		return
	}
	if err != io.EOF {
		r.err = err
		return
	}
	if len(r.enc) == 0 || len(r.enc)%bs != 0 {
		r.err = io.ErrUnexpectedEOF
		return
	}
	r.mode.CryptBlocks(r.enc, r.enc)
	stripped, err := r.pad.Strip(r.enc, bs)
	if err != nil {
		r.err = err
		return
	}
	r.plain.Write(stripped)
	r.enc = nil
	r.err = io.EOF
}

type writer struct {
	dst  io.Writer
	mode cipher.BlockMode
	pad  padding.Scheme

	buf []byte // pending plaintext, less than one block after each Write
	err error
}

// NewWriter creates a writer that encrypts its input to w. Closing the
// writer encrypts the final padded block but does not close w. The
// output is always at least one block longer than the input.
func NewWriter(w io.Writer, mode cipher.BlockMode, pad padding.Scheme) io.WriteCloser {
	return &writer{
		dst:  w,
		mode: mode,
		pad:  pad,
		buf:  make([]byte, 0, 4096),
	}
}

func (w *writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	bs := w.mode.BlockSize()
	w.buf = append(w.buf, p...)
	nd := len(w.buf) - len(w.buf)%bs
	if nd > 0 {
		w.mode.CryptBlocks(w.buf[:nd], w.buf[:nd])
		if _, err := w.dst.Write(w.buf[:nd]); err != nil {
			w.err = err
			return 0, err
		}
		w.buf = append(w.buf[:0], w.buf[nd:]...)
	}
	return len(p), nil
}

func (w *writer) Close() error {
	if w.err == errClosed {
		return nil
	} else if w.err != nil {
		return w.err
	}
	last := w.pad.Pad(w.buf, w.mode.BlockSize())
	w.mode.CryptBlocks(last, last)
	_, err := w.dst.Write(last)
	w.err = errClosed
	return err
}

var errClosed = errors.New("cipherio: write on closed writer")
