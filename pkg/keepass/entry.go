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

// An Attachment binds a name to a binary, which may be shared with
// other attachments in the same database.
type Attachment struct {
	Name   string
	Binary *Binary
}

// Equal compares attachments by value.
func (a *Attachment) Equal(other *Attachment) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.Name == other.Name && a.Binary.Equal(other.Binary)
}

// An Association maps a window title to an auto-type keystroke
// sequence.
type Association struct {
	Window   string
	Sequence string
}

// AutoType holds the auto-type settings of an entry.
type AutoType struct {
	Enabled      bool
	Obfuscation  uint32
	Sequence     string
	Associations []Association
}

// Equal compares auto-type settings by value, associations in order.
func (a AutoType) Equal(other AutoType) bool {
	if a.Enabled != other.Enabled ||
		a.Obfuscation != other.Obfuscation ||
		a.Sequence != other.Sequence ||
		len(a.Associations) != len(other.Associations) {
		return false
	}
	for i := range a.Associations {
		if a.Associations[i] != other.Associations[i] {
			return false
		}
	}
	return true
}

// A Field is a custom key/value string on an entry.
type Field struct {
	Key   string
	Value ProtectedString
}

// An Entry stores a single credential record: the five standard
// strings, timestamps, attachments, custom fields, and older versions
// of itself in History.
type Entry struct {
	UUID       uuid.UUID
	Icon       uint32
	CustomIcon *Icon

	Title    ProtectedString
	URL      ProtectedString
	Username ProtectedString
	Password ProtectedString
	Notes    ProtectedString

	OverrideURL string
	Tags        string

	CreationTime     time.Time
	ModificationTime time.Time
	AccessTime       time.Time
	ExpiryTime       time.Time
	MoveTime         time.Time
	Expires          bool
	UsageCount       uint32

	BackgroundColor string
	ForegroundColor string

	AutoType     AutoType
	Attachments  []*Attachment
	History      []*Entry
	CustomFields []Field
}

// NewEntry creates an empty entry with a fresh random UUID.
func NewEntry() *Entry {
	return &Entry{UUID: uuid.New()}
}

// AddAttachment appends an attachment.
func (e *Entry) AddAttachment(a *Attachment) {
	e.Attachments = append(e.Attachments, a)
}

// HasAttachment reports whether the entry carries any attachment.
func (e *Entry) HasAttachment() bool {
	return len(e.Attachments) > 0
}

// AddHistoryEntry appends an older version of the entry.
func (e *Entry) AddHistoryEntry(old *Entry) {
	e.History = append(e.History, old)
}

// AddCustomField appends a custom string field.
func (e *Entry) AddCustomField(key string, value ProtectedString) {
	e.CustomFields = append(e.CustomFields, Field{Key: key, Value: value})
}

// HasNonDefaultAutoTypeSettings reports whether any auto-type setting
// differs from its zero value.
func (e *Entry) HasNonDefaultAutoTypeSettings() bool {
	return !e.AutoType.Equal(AutoType{})
}

// IsMetaEntry reports whether the entry is a KeePass 1.x meta stream: a
// sentinel record holding per-group client state rather than a
// credential. Meta entries are hidden from the JSON serialization.
func (e *Entry) IsMetaEntry() bool {
	hasBinStream := false
	for _, a := range e.Attachments {
		if a.Name == "bin-stream" {
			hasBinStream = true
			break
		}
	}
	return e.Title.Value() == "Meta-Info" &&
		e.URL.Value() == "$" &&
		e.Username.Value() == "SYSTEM" &&
		!e.Notes.Empty() &&
		hasBinStream
}

// Equal compares entries by value. Strong references (attachments,
// history) compare deeply in order; the custom icon back-reference
// compares by identity of the current target.
func (e *Entry) Equal(other *Entry) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.CustomIcon != other.CustomIcon {
		return false
	}
	if e.UUID != other.UUID ||
		e.Icon != other.Icon ||
		e.Title != other.Title ||
		e.URL != other.URL ||
		e.OverrideURL != other.OverrideURL ||
		e.Username != other.Username ||
		e.Password != other.Password ||
		e.Notes != other.Notes ||
		e.Tags != other.Tags ||
		!e.CreationTime.Equal(other.CreationTime) ||
		!e.ModificationTime.Equal(other.ModificationTime) ||
		!e.AccessTime.Equal(other.AccessTime) ||
		!e.ExpiryTime.Equal(other.ExpiryTime) ||
		!e.MoveTime.Equal(other.MoveTime) ||
		e.Expires != other.Expires ||
		e.UsageCount != other.UsageCount ||
		e.BackgroundColor != other.BackgroundColor ||
		e.ForegroundColor != other.ForegroundColor ||
		!e.AutoType.Equal(other.AutoType) {
		return false
	}
	if len(e.Attachments) != len(other.Attachments) ||
		len(e.History) != len(other.History) ||
		len(e.CustomFields) != len(other.CustomFields) {
		return false
	}
	for i := range e.Attachments {
		if !e.Attachments[i].Equal(other.Attachments[i]) {
			return false
		}
	}
	for i := range e.History {
		if !e.History[i].Equal(other.History[i]) {
			return false
		}
	}
	for i := range e.CustomFields {
		if e.CustomFields[i] != other.CustomFields[i] {
			return false
		}
	}
	return true
}
