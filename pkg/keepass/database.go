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
	"crypto/rand"
	"io"

	"github.com/kindahl/libkeepass/pkg/kdbcrypt"
)

// Format identifies the on-disk container of a database.
type Format int

// Container formats
const (
	FormatKdb Format = iota
	FormatKdbx
)

// DefaultTransformRounds is the key stretching round count used for
// fresh databases.
const DefaultTransformRounds = 8192

// A Database owns a tree of groups and entries together with the
// cryptographic parameters needed to write it back out.
type Database struct {
	Format Format
	Cipher kdbcrypt.Cipher

	// Root is the synthetic top of the group tree. It has no on-disk
	// record in KDB; in KDBX it is the Root/Group element.
	Root *Group

	// Meta is present for KDBX databases only.
	Meta *Metadata

	// MasterSeed is 16 bytes in KDB and arbitrary (typically 32) in
	// KDBX.
	MasterSeed           []byte
	EncryptionIV         [16]byte
	TransformSeed        [32]byte
	InnerRandomStreamKey [32]byte
	TransformRounds      uint64
	Compress             bool
}

// New creates an empty KDBX database with fresh random seeds and the
// default transform round count.
func New() (*Database, error) {
	db := &Database{
		Format:          FormatKdbx,
		Cipher:          kdbcrypt.RijndaelCipher,
		Root:            NewGroup(),
		Meta:            NewMetadata(),
		MasterSeed:      make([]byte, 32),
		TransformRounds: DefaultTransformRounds,
		Compress:        true,
	}
	if err := db.Reseed(rand.Reader); err != nil {
		return nil, err
	}
	return db, nil
}

// Reseed regenerates the master seed, encryption IV, transform seed,
// and inner random stream key from r.
func (db *Database) Reseed(r io.Reader) error {
	for _, b := range [][]byte{
		db.MasterSeed,
		db.EncryptionIV[:],
		db.TransformSeed[:],
		db.InnerRandomStreamKey[:],
	} {
		if _, err := io.ReadFull(r, b); err != nil {
			return ioErr(err, "cannot generate random seeds")
		}
	}
	return nil
}

// FindGroup searches the tree for a group with the given UUID.
func (db *Database) FindGroup(id [16]byte) *Group {
	var walk func(g *Group) *Group
	walk = func(g *Group) *Group {
		if g.UUID == id {
			return g
		}
		for _, sub := range g.Groups {
			if found := walk(sub); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(db.Root)
}

// FindEntry searches the tree for an entry with the given UUID.
func (db *Database) FindEntry(id [16]byte) *Entry {
	var walk func(g *Group) *Entry
	walk = func(g *Group) *Entry {
		for _, e := range g.Entries {
			if e.UUID == id {
				return e
			}
		}
		for _, sub := range g.Groups {
			if found := walk(sub); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(db.Root)
}

// Equal compares two databases: the group trees by value and the
// metadata presence. Cryptographic parameters are excluded, since they
// change on every reseed without affecting the logical content.
func (db *Database) Equal(other *Database) bool {
	if db == nil || other == nil {
		return db == other
	}
	if (db.Meta == nil) != (other.Meta == nil) {
		return false
	}
	return db.Root.Equal(other.Root)
}
