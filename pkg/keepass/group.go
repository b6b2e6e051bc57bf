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

// A Group is a node in the database tree. It owns its child groups and
// entries; LastVisibleEntry and CustomIcon are back-references.
type Group struct {
	UUID       uuid.UUID
	Name       string
	Notes      string
	Icon       uint32
	CustomIcon *Icon

	CreationTime     time.Time
	ModificationTime time.Time
	AccessTime       time.Time
	ExpiryTime       time.Time
	MoveTime         time.Time
	Expires          bool
	UsageCount       uint32

	// Flags is the KDB legacy flags word; KDBX ignores it.
	Flags uint16

	Expanded                bool
	DefaultAutoTypeSequence string
	EnableAutoType          bool
	EnableSearching         bool
	LastVisibleEntry        *Entry

	Groups  []*Group
	Entries []*Entry
}

// NewGroup creates an empty group with a fresh random UUID.
func NewGroup() *Group {
	return &Group{UUID: uuid.New()}
}

// AddGroup appends a child group.
func (g *Group) AddGroup(sub *Group) {
	g.Groups = append(g.Groups, sub)
}

// AddEntry appends an entry.
func (g *Group) AddEntry(e *Entry) {
	g.Entries = append(g.Entries, e)
}

// HasNonMetaEntries reports whether the group contains at least one
// entry that is not a meta entry.
func (g *Group) HasNonMetaEntries() bool {
	for _, e := range g.Entries {
		if !e.IsMetaEntry() {
			return true
		}
	}
	return false
}

// Equal compares groups by value, recursing into children. Weak
// references compare by identity of the current target.
func (g *Group) Equal(other *Group) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.CustomIcon != other.CustomIcon {
		return false
	}
	if g.UUID != other.UUID ||
		g.Icon != other.Icon ||
		g.Name != other.Name ||
		g.Notes != other.Notes ||
		!g.CreationTime.Equal(other.CreationTime) ||
		!g.ModificationTime.Equal(other.ModificationTime) ||
		!g.AccessTime.Equal(other.AccessTime) ||
		!g.ExpiryTime.Equal(other.ExpiryTime) ||
		!g.MoveTime.Equal(other.MoveTime) ||
		g.Flags != other.Flags ||
		g.Expires != other.Expires ||
		g.Expanded != other.Expanded ||
		g.UsageCount != other.UsageCount ||
		g.DefaultAutoTypeSequence != other.DefaultAutoTypeSequence ||
		g.EnableAutoType != other.EnableAutoType ||
		g.EnableSearching != other.EnableSearching ||
		g.LastVisibleEntry != other.LastVisibleEntry {
		return false
	}
	if len(g.Groups) != len(other.Groups) || len(g.Entries) != len(other.Entries) {
		return false
	}
	for i := range g.Groups {
		if !g.Groups[i].Equal(other.Groups[i]) {
			return false
		}
	}
	for i := range g.Entries {
		if !g.Entries[i].Equal(other.Entries[i]) {
			return false
		}
	}
	return true
}
