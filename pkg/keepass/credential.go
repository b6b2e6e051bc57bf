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
	"encoding/hex"
	"encoding/xml"
	"io"
	"os"

	"github.com/kindahl/libkeepass/pkg/kdbcrypt"
)

// A Credential is the composite of up to two 32-byte sub-keys: one
// derived from a passphrase and one from a key file. A zero sub-key
// means absent. Building the same credential from the same inputs is
// deterministic.
type Credential struct {
	passwordKey [32]byte
	keyFileKey  [32]byte
}

// NewCredential returns an empty credential.
func NewCredential() *Credential {
	return &Credential{}
}

// SetPassword derives the passphrase sub-key from the UTF-8 password.
func (c *Credential) SetPassword(password string) {
	c.passwordKey = sha256.Sum256([]byte(password))
}

// SetKeyFile loads the key-file sub-key from the file at path.
func (c *Credential) SetKeyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &Error{Kind: KindFileNotFound, Msg: "cannot open key file", Err: err}
	}
	defer f.Close()
	return c.SetKeyFileReader(f)
}

// keyFileXML is the KeePass2 XML key file layout.
type keyFileXML struct {
	XMLName xml.Name `xml:"KeyFile"`
	Key     struct {
		Data string `xml:"Data"`
	} `xml:"Key"`
}

// SetKeyFileReader loads the key-file sub-key from r. Three forms are
// accepted, in order: an XML document KeyFile/Key/Data holding base64
// of 32 bytes, a text file of exactly 64 hexadecimal characters, and
// nothing else.
func (c *Credential) SetKeyFileReader(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return ioErr(err, "cannot read key file")
	}

	var doc keyFileXML
	if xml.Unmarshal(data, &doc) == nil {
		raw, err := base64.StdEncoding.DecodeString(doc.Key.Data)
		if err != nil || len(raw) != 32 {
			return formatErr("invalid key size in key file")
		}
		copy(c.keyFileKey[:], raw)
		return nil
	}

	if len(data) == 64 {
		var key [32]byte
		if _, err := hex.Decode(key[:], data); err == nil {
			c.keyFileKey = key
			return nil
		}
	}
	return formatErr("unknown key file format")
}

// subKeyResolution selects how the present sub-keys combine into the
// 32-byte key fed to the transformation.
type subKeyResolution int

const (
	// hashSubKeys hashes the concatenation of all present sub-keys,
	// even when only one is present. KDBX uses this.
	hashSubKeys subKeyResolution = iota

	// hashSubKeysOnlyIfComposite hashes only when both sub-keys are
	// present; a lone sub-key is used as-is. KDB uses this.
	hashSubKeysOnlyIfComposite
)

func (c *Credential) resolve(resolution subKeyResolution) [32]byte {
	var zero [32]byte
	hasPassword := c.passwordKey != zero
	hasKeyFile := c.keyFileKey != zero

	if resolution == hashSubKeys {
		h := sha256.New()
		if hasPassword {
			h.Write(c.passwordKey[:])
		}
		if hasKeyFile {
			h.Write(c.keyFileKey[:])
		}
		var key [32]byte
		h.Sum(key[:0])
		return key
	}

	switch {
	case hasPassword && hasKeyFile:
		h := sha256.New()
		h.Write(c.passwordKey[:])
		h.Write(c.keyFileKey[:])
		var key [32]byte
		h.Sum(key[:0])
		return key
	case hasPassword:
		return c.passwordKey
	default:
		return c.keyFileKey
	}
}

// transform resolves the credential and runs the KeePass key
// stretching over it.
func (c *Credential) transform(seed [32]byte, rounds uint64, resolution subKeyResolution) [32]byte {
	return kdbcrypt.TransformKey(c.resolve(resolution), seed, rounds)
}
