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
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"crypto/sha256"
	"encoding/xml"
	"errors"
	"io"

	"github.com/kindahl/libkeepass/pkg/kdbcrypt"
	"github.com/kindahl/libkeepass/pkg/obfuscate"
	"github.com/kindahl/libkeepass/pkg/padding"
	"github.com/kindahl/libkeepass/pkg/streams"
)

// KDBX file magic and version.
const (
	kdbxSignature0 = 0x9aa2d903
	kdbxSignature1 = 0xb54bfb67

	kdbxVersionCriticalMask = 0xffff0000
	kdbxVersionCriticalMin  = 0x00030001
)

// Outer header field ids.
const (
	kdbxFieldEndOfHeader             = 0
	kdbxFieldCipherID                = 2
	kdbxFieldCompressionFlags        = 3
	kdbxFieldMasterSeed              = 4
	kdbxFieldTransformSeed           = 5
	kdbxFieldTransformRounds         = 6
	kdbxFieldEncryptionInitVec       = 7
	kdbxFieldInnerRandomStreamKey    = 8
	kdbxFieldContentStreamStartBytes = 9
	kdbxFieldInnerRandomStreamID     = 10
)

// Compression flags.
const (
	kdbxCompressionNone = 0
	kdbxCompressionGzip = 1
)

// Inner random stream algorithms.
const kdbxRandomStreamSalsa20 = 2

// kdbxCipherAes is the cipher UUID KeePass2 assigns to AES-256.
var kdbxCipherAes = [16]byte{
	0x31, 0xc1, 0xf2, 0xe6, 0xbf, 0x71, 0x43, 0x50,
	0xbe, 0x58, 0x05, 0x21, 0x6a, 0xfc, 0x5a, 0xff,
}

// ReadKdbx decrypts and decodes a KDBX (KeePass 2.x) database from r.
func ReadKdbx(r io.Reader, cred *Credential) (*Database, error) {
	// Everything up to the end of the outer header is hashed and later
	// checked against Meta/HeaderHash inside the payload.
	headerDigest := sha256.New()
	hr := reader{r: io.TeeReader(r, headerDigest)}

	signature0 := hr.readUint32()
	signature1 := hr.readUint32()
	version := hr.readUint32()
	if hr.err != nil {
		return nil, formatErr("not a KDBX database")
	}
	if signature0 != kdbxSignature0 || signature1 != kdbxSignature1 {
		return nil, formatErr("not a KDBX database")
	}
	if version&kdbxVersionCriticalMask > kdbxVersionCriticalMin&kdbxVersionCriticalMask {
		return nil, formatErr("KDBX version %#08x is not supported", version)
	}

	db := &Database{
		Format: FormatKdbx,
		Cipher: kdbcrypt.RijndaelCipher,
	}
	var startBytes [32]byte

	for done := false; !done; {
		id := hr.readUint8()
		size := hr.readUint16()
		// Read each header field into an isolated buffer so that
		// parsing can never run outside the field.
		field := make([]byte, size)
		hr.readFull(field)
		if hr.err != nil {
			return nil, ioErr(hr.err, "truncated KDBX header")
		}

		switch id {
		case kdbxFieldEndOfHeader:
			done = true
		case kdbxFieldCipherID:
			if len(field) != 16 || [16]byte(field) != kdbxCipherAes {
				return nil, formatErr("unknown cipher in KDBX")
			}
		case kdbxFieldCompressionFlags:
			if err := verifyFieldSize("compression flags", field, 4); err != nil {
				return nil, err
			}
			switch leUint32(field) {
			case kdbxCompressionNone:
				db.Compress = false
			case kdbxCompressionGzip:
				db.Compress = true
			default:
				return nil, formatErr("unknown compression method in KDBX")
			}
		case kdbxFieldMasterSeed:
			db.MasterSeed = append([]byte(nil), field...)
		case kdbxFieldTransformSeed:
			if err := verifyFieldSize("transform seed", field, 32); err != nil {
				return nil, err
			}
			copy(db.TransformSeed[:], field)
		case kdbxFieldTransformRounds:
			if err := verifyFieldSize("transform rounds", field, 8); err != nil {
				return nil, err
			}
			db.TransformRounds = leUint64(field)
		case kdbxFieldEncryptionInitVec:
			if err := verifyFieldSize("initialization vector", field, 16); err != nil {
				return nil, err
			}
			copy(db.EncryptionIV[:], field)
		case kdbxFieldInnerRandomStreamKey:
			if err := verifyFieldSize("inner random stream key", field, 32); err != nil {
				return nil, err
			}
			copy(db.InnerRandomStreamKey[:], field)
		case kdbxFieldContentStreamStartBytes:
			if err := verifyFieldSize("stream start bytes", field, 32); err != nil {
				return nil, err
			}
			copy(startBytes[:], field)
		case kdbxFieldInnerRandomStreamID:
			if err := verifyFieldSize("random stream id", field, 4); err != nil {
				return nil, err
			}
			if leUint32(field) != kdbxRandomStreamSalsa20 {
				return nil, formatErr("unknown random stream in KDBX")
			}
		default:
			return nil, formatErr("illegal header field in KDBX")
		}
	}
	var headerHash [32]byte
	headerDigest.Sum(headerHash[:0])

	transformed := cred.transform(db.TransformSeed, db.TransformRounds, hashSubKeys)
	params := &kdbcrypt.Params{
		Cipher: db.Cipher,
		Key:    kdbcrypt.FinalKey(db.MasterSeed, transformed),
		IV:     db.EncryptionIV,
	}
	dec, err := kdbcrypt.NewDecrypter(r, params)
	if err != nil {
		return nil, internalErr("cannot build decrypter: %v", err)
	}

	var startTest [32]byte
	if _, err := io.ReadFull(dec, startTest[:]); err != nil {
		return nil, ErrBadPassword
	}
	if startTest != startBytes {
		return nil, ErrBadPassword
	}

	var content io.Reader = streams.NewBlockReader(dec)
	if db.Compress {
		zr, err := gzip.NewReader(content)
		if err != nil {
			return nil, classifyPayloadErr(err)
		}
		content = zr
	}
	xmlBytes, err := io.ReadAll(content)
	if err != nil {
		return nil, classifyPayloadErr(err)
	}

	var doc xmlDocument
	if err := xml.Unmarshal(xmlBytes, &doc); err != nil {
		return nil, formatErr("malformed XML in KDBX")
	}

	obf := obfuscate.NewSalsa20(sha256.Sum256(db.InnerRandomStreamKey[:]), obfuscate.KeePassIV)
	ctx := newXMLContext(obf)
	meta, root, embeddedHash, err := ctx.parseDocument(&doc)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(embeddedHash, headerHash[:]) {
		return nil, formatErr("header checksum error in KDBX")
	}
	db.Meta = meta
	db.Root = root
	return db, nil
}

// classifyPayloadErr maps a failure inside the decrypted payload
// pipeline to the error taxonomy: padding failures mean the key was
// wrong, anything else is a stream integrity problem.
func classifyPayloadErr(err error) error {
	if errors.Is(err, padding.ErrWrongPadding) || errors.Is(err, padding.ErrDataSize) {
		return ErrBadPassword
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return err
	}
	return ioErr(err, "corrupt KDBX payload")
}

// WriteKdbx encodes and encrypts db as a KDBX (KeePass 2.x) database.
// KDBX is always written with the AES cipher.
func WriteKdbx(w io.Writer, db *Database, cred *Credential) error {
	if db.Cipher != kdbcrypt.RijndaelCipher {
		return internalErr("KDBX is written with AES only")
	}
	if len(db.MasterSeed) > 0xffff {
		return internalErr("master seed size exceeds KDBX maximum")
	}

	var startBytes [32]byte
	if _, err := io.ReadFull(rand.Reader, startBytes[:]); err != nil {
		return ioErr(err, "cannot generate stream start bytes")
	}

	// The header goes to a staging buffer first so that its hash can
	// be embedded in the payload.
	var header bytes.Buffer
	hw := writer{w: &header}
	hw.writeUint32(kdbxSignature0)
	hw.writeUint32(kdbxSignature1)
	hw.writeUint32(kdbxVersionCriticalMin)

	writeHeaderField := func(id uint8, data []byte) {
		hw.writeUint8(id)
		hw.writeUint16(uint16(len(data)))
		hw.write(data)
	}
	writeHeaderField(kdbxFieldCipherID, kdbxCipherAes[:])
	compression := uint32(kdbxCompressionNone)
	if db.Compress {
		compression = kdbxCompressionGzip
	}
	writeHeaderField(kdbxFieldCompressionFlags, leUint32Bytes(compression))
	writeHeaderField(kdbxFieldMasterSeed, db.MasterSeed)
	writeHeaderField(kdbxFieldTransformSeed, db.TransformSeed[:])
	writeHeaderField(kdbxFieldTransformRounds, leUint64Bytes(db.TransformRounds))
	writeHeaderField(kdbxFieldEncryptionInitVec, db.EncryptionIV[:])
	writeHeaderField(kdbxFieldInnerRandomStreamKey, db.InnerRandomStreamKey[:])
	writeHeaderField(kdbxFieldContentStreamStartBytes, startBytes[:])
	writeHeaderField(kdbxFieldInnerRandomStreamID, leUint32Bytes(kdbxRandomStreamSalsa20))
	writeHeaderField(kdbxFieldEndOfHeader, nil)
	if hw.err != nil {
		return ioErr(hw.err, "cannot stage KDBX header")
	}
	headerHash := sha256.Sum256(header.Bytes())

	obf := obfuscate.NewSalsa20(sha256.Sum256(db.InnerRandomStreamKey[:]), obfuscate.KeePassIV)
	ctx := newXMLContext(obf)
	doc, err := ctx.buildDocument(db, headerHash[:])
	if err != nil {
		return err
	}
	xmlBytes, err := xml.MarshalIndent(doc, "", "\t")
	if err != nil {
		return internalErr("cannot marshal KDBX XML: %v", err)
	}

	var content bytes.Buffer
	content.Write(startBytes[:])
	bw := streams.NewBlockWriter(&content)
	var payload io.Writer = bw
	var zw *gzip.Writer
	if db.Compress {
		zw = gzip.NewWriter(bw)
		payload = zw
	}
	if _, err := payload.Write([]byte(xml.Header)); err != nil {
		return ioErr(err, "cannot write KDBX content")
	}
	if _, err := payload.Write(xmlBytes); err != nil {
		return ioErr(err, "cannot write KDBX content")
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return ioErr(err, "cannot write KDBX content")
		}
	}
	if err := bw.Close(); err != nil {
		return ioErr(err, "cannot write KDBX content")
	}

	if _, err := io.Copy(w, &header); err != nil {
		return ioErr(err, "cannot write KDBX header")
	}

	transformed := cred.transform(db.TransformSeed, db.TransformRounds, hashSubKeys)
	params := &kdbcrypt.Params{
		Cipher: db.Cipher,
		Key:    kdbcrypt.FinalKey(db.MasterSeed, transformed),
		IV:     db.EncryptionIV,
	}
	enc, err := kdbcrypt.NewEncrypter(w, params)
	if err != nil {
		return internalErr("cannot build encrypter: %v", err)
	}
	if _, err := io.Copy(enc, &content); err != nil {
		return ioErr(err, "cannot write KDBX content")
	}
	if err := enc.Close(); err != nil {
		return ioErr(err, "cannot write KDBX content")
	}
	return nil
}

func leUint32Bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func leUint64Bytes(v uint64) []byte {
	return []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b)) | uint64(leUint32(b[4:]))<<32
}
