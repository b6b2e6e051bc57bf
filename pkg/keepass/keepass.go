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

// Package keepass reads and writes KeePass password databases in the
// legacy KDB (KeePass 1.x) and KDBX (KeePass 2.x, critical version up
// to 3.1) container formats.
package keepass // import "github.com/kindahl/libkeepass/pkg/keepass"

import (
	"bufio"
	"io"
	"os"
)

// Import opens, decrypts, and decodes the database at path. The
// container format is detected from the file signature.
func Import(path string, cred *Credential) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: KindFileNotFound, Msg: "cannot open database", Err: err}
	}
	defer f.Close()
	return Read(f, cred)
}

// Read decrypts and decodes a database from r, detecting the container
// format from the signature words.
func Read(r io.Reader, cred *Credential) (*Database, error) {
	br := bufio.NewReader(r)
	sig, err := br.Peek(8)
	if err != nil {
		return nil, formatErr("not a KeePass database")
	}
	switch leUint32(sig[4:]) {
	case kdbSignature1:
		return ReadKdb(br, cred)
	case kdbxSignature1:
		return ReadKdbx(br, cred)
	default:
		return nil, formatErr("not a KeePass database")
	}
}

// Export encodes and encrypts db to path, overwriting any existing
// file. The container format follows db.Format, so a database imported
// from KDB round-trips as KDB and one imported from KDBX as KDBX.
func Export(path string, db *Database, cred *Credential) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return ioErr(err, "unable to open database for writing")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = ioErr(cerr, "cannot close database")
		}
	}()
	return Write(f, db, cred)
}

// Write encodes and encrypts db to w in the container format selected
// by db.Format.
func Write(w io.Writer, db *Database, cred *Credential) error {
	switch db.Format {
	case FormatKdb:
		return WriteKdb(w, db, cred)
	case FormatKdbx:
		return WriteKdbx(w, db, cred)
	default:
		return internalErr("unknown database format %d", db.Format)
	}
}
