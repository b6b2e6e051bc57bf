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
	"encoding/binary"
	"io"
	"time"
)

// reader reads little-endian values from a stream, keeping the first
// error and turning every later call into a no-op.
type reader struct {
	r   io.Reader
	err error
}

func (r *reader) readFull(p []byte) {
	if r.err != nil {
		return
	}
	_, r.err = io.ReadFull(r.r, p)
}

func (r *reader) readUint8() uint8 {
	var buf [1]byte
	r.readFull(buf[:])
	return buf[0]
}

func (r *reader) readUint16() uint16 {
	var buf [2]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func (r *reader) readUint32() uint32 {
	var buf [4]byte
	r.readFull(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

// writer is the sticky-error counterpart of reader.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *writer) writeUint8(v uint8) {
	w.write([]byte{v})
}

func (w *writer) writeUint16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.write(buf[:])
}

func (w *writer) writeUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.write(buf[:])
}

// stripNull cuts b at the first NUL, the way KDB strings terminate.
func stripNull(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// fieldReader iterates the type/size/value fields of a KDB record.
// Each field value is read into an isolated bounded buffer, both to
// reject overlong decodes and to advance past unknown fields whole.
type fieldReader struct {
	r   reader
	buf []byte
}

func newFieldReader(r io.Reader) *fieldReader {
	return &fieldReader{
		r:   reader{r: r},
		buf: make([]byte, 0, 1024),
	}
}

// next returns the next field. The value is only valid until the
// following call. After the terminator field, the error is io.EOF.
func (fr *fieldReader) next() (key uint16, val []byte, err error) {
	if fr.r.err != nil {
		return 0, nil, fr.r.err
	}
	key = fr.r.readUint16()
	sz := int(fr.r.readUint32())
	if cap(fr.buf) < sz {
		fr.buf = make([]byte, sz)
	}
	fr.buf = fr.buf[:sz]
	fr.r.readFull(fr.buf)
	if fr.r.err != nil {
		return 0, nil, fr.r.err
	}
	if key == kdbFieldTerminator {
		fr.r.err = io.EOF
	}
	return key, fr.buf, nil
}

func writeField(w *writer, key uint16, val []byte) {
	w.writeUint16(key)
	w.writeUint32(uint32(len(val)))
	w.write(val)
}

func writeUint16Field(w *writer, key uint16, val uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], val)
	writeField(w, key, buf[:])
}

func writeUint32Field(w *writer, key uint16, val uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	writeField(w, key, buf[:])
}

// writeStringField writes a NUL-terminated string field; the wire size
// is the string length plus one.
func writeStringField(w *writer, key uint16, s string) {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	writeField(w, key, buf)
}

// kdbNeverTime is the packed sentinel KeePass 1.x uses for "no time";
// it decodes as 2999-12-28 23:59:59 in the local calendar.
var kdbNeverTime = [5]byte{0x2e, 0xdf, 0x39, 0x7e, 0xfb}

// readKdbTime unpacks a 5-byte KDB time:
//
//	00YYYYYY YYYYYYMM MMDDDDDH HHHHMMMM MMSSSSSS
//
// The calendar fields are in local time.
func readKdbTime(name string, b []byte) (time.Time, error) {
	if err := verifyFieldSize(name, b, 5); err != nil {
		return time.Time{}, err
	}
	if [5]byte(b) == kdbNeverTime {
		return time.Time{}, nil
	}
	year := int(b[0])<<6 | int(b[1])>>2
	month := time.Month(b[1]&0x03<<2 | b[2]>>6)
	day := int(b[2] >> 1 & 0x1f)
	hour := int(b[2]&0x01)<<4 | int(b[3])>>4
	minute := int(b[3]&0x0f)<<2 | int(b[4])>>6
	second := int(b[4] & 0x3f)
	if month < time.January || month > time.December || day < 1 || day > 31 ||
		hour > 23 || minute > 59 || second > 60 || year < 1900 {
		return time.Time{}, internalErr("%s out of range", name)
	}
	return time.Date(year, month, day, hour, minute, second, 0, time.Local), nil
}

func writeKdbTimeField(w *writer, key uint16, t time.Time) {
	if t.IsZero() {
		b := kdbNeverTime
		writeField(w, key, b[:])
		return
	}
	t = t.Local()
	year, month, day := t.Date()
	hour, minute, second := t.Clock()
	var b [5]byte
	b[0] = byte(year >> 6)
	b[1] = byte(year&0x3f)<<2 | byte(month)>>2
	b[2] = byte(month&0x03)<<6 | byte(day)<<1 | byte(hour>>4)
	b[3] = byte(hour&0x0f)<<4 | byte(minute>>2)
	b[4] = byte(minute&0x03)<<6 | byte(second)
	writeField(w, key, b[:])
}

func verifyFieldSize(name string, val []byte, want int) error {
	if len(val) != want {
		return formatErr("%s field size is %d, should be %d", name, len(val), want)
	}
	return nil
}

// kdbxNeverTime is the ISO-8601 sentinel KeePass2 writes for "no
// time".
const kdbxNeverTime = "2999-12-28T22:59:59Z"

const kdbxTimeLayout = "2006-01-02T15:04:05Z"

// parseKdbxTime reads an ISO-8601 UTC date, mapping the sentinel to
// the zero time.
func parseKdbxTime(text string) (time.Time, error) {
	if text == kdbxNeverTime {
		return time.Time{}, nil
	}
	if text == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(kdbxTimeLayout, text)
	if err != nil {
		return time.Time{}, formatErr("malformed date %q", text)
	}
	return t, nil
}

func formatKdbxTime(t time.Time) string {
	if t.IsZero() {
		return kdbxNeverTime
	}
	return t.UTC().Format(kdbxTimeLayout)
}
