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
	"time"

	"github.com/google/uuid"
)

// A Binary is a chunk of attachment data. KDBX databases may share one
// binary between several attachments. Compress is a serialization hint
// only; the in-memory data is never compressed.
type Binary struct {
	Data     ProtectedString
	Compress bool
}

// Equal compares binaries by value.
func (b *Binary) Equal(other *Binary) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Data == other.Data
}

// An Icon is a custom image referenced by groups and entries.
type Icon struct {
	UUID uuid.UUID
	Data []byte
}

// MemoryProtection records which of the standard entry strings a
// KeePass2 client should protect in memory.
type MemoryProtection struct {
	Title    bool
	Username bool
	Password bool
	URL      bool
	Notes    bool
}

// A MetaField is a free-form key/value item in the database custom
// data.
type MetaField struct {
	Key   string
	Value string
}

// Metadata is the KDBX database preamble: generator information,
// policy knobs, custom icons, and the shared binary pool. Group fields
// are back-references into the database tree; they never own their
// target.
type Metadata struct {
	Generator              string
	DatabaseName           Timestamped[string]
	DatabaseDescription    Timestamped[string]
	DefaultUsername        Timestamped[string]
	MaintenanceHistoryDays uint32
	DatabaseColor          string
	MasterKeyChanged       time.Time
	MasterKeyChangeRec     int64
	MasterKeyChangeForce   int64
	MemoryProtection       MemoryProtection
	RecycleBin             *Group
	RecycleBinChanged      time.Time
	EntryTemplates         *Group
	EntryTemplatesChanged  time.Time
	HistoryMaxItems        int32
	HistoryMaxSize         int64
	LastSelectedGroup      *Group
	LastVisibleGroup       *Group

	Binaries []*Binary
	Icons    []*Icon
	Fields   []MetaField
}

// NewMetadata returns metadata with the KeePass2 defaults.
func NewMetadata() *Metadata {
	return &Metadata{
		MaintenanceHistoryDays: 365,
		MasterKeyChangeRec:     -1,
		MasterKeyChangeForce:   -1,
		MemoryProtection:       MemoryProtection{Password: true},
		HistoryMaxItems:        -1,
		HistoryMaxSize:         -1,
	}
}

// AddBinary appends a binary to the shared pool.
func (m *Metadata) AddBinary(b *Binary) {
	m.Binaries = append(m.Binaries, b)
}

// AddIcon appends a custom icon.
func (m *Metadata) AddIcon(icon *Icon) {
	m.Icons = append(m.Icons, icon)
}

// AddField appends a custom data item.
func (m *Metadata) AddField(key, value string) {
	m.Fields = append(m.Fields, MetaField{Key: key, Value: value})
}
