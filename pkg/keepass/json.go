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
	"strconv"
	"strings"
	"time"
)

// The compact JSON serialization mirrors the historical reference
// output: empty fields are omitted, meta entries are suppressed, and
// timestamps render in local time.

func jsonTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func writeJSONField(b *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	b.WriteByte(',')
	b.WriteString(strconv.Quote(name))
	b.WriteByte(':')
	b.WriteString(strconv.Quote(value))
}

func writeJSONTime(b *strings.Builder, name string, t time.Time) {
	if t.IsZero() {
		return
	}
	writeJSONField(b, name, jsonTime(t))
}

// ToJSON serializes the attachment as a compact JSON object.
func (a *Attachment) ToJSON() string {
	var b strings.Builder
	b.WriteByte('{')
	if a.Name != "" {
		b.WriteString("\"name\":")
		b.WriteString(strconv.Quote(a.Name))
	}
	if a.Binary != nil && !a.Binary.Data.Empty() {
		if a.Name != "" {
			b.WriteByte(',')
		}
		b.WriteString("\"data\":")
		b.WriteString(strconv.Quote(a.Binary.Data.Value()))
	}
	b.WriteByte('}')
	return b.String()
}

// ToJSON serializes the entry as a compact JSON object, omitting empty
// fields.
func (e *Entry) ToJSON() string {
	var b strings.Builder
	b.WriteString("{\"icon\":")
	b.WriteString(strconv.FormatUint(uint64(e.Icon), 10))
	writeJSONField(&b, "title", e.Title.Value())
	writeJSONField(&b, "url", e.URL.Value())
	writeJSONField(&b, "username", e.Username.Value())
	writeJSONField(&b, "password", e.Password.Value())
	writeJSONField(&b, "notes", e.Notes.Value())
	writeJSONTime(&b, "creation_time", e.CreationTime)
	writeJSONTime(&b, "modification_time", e.ModificationTime)
	writeJSONTime(&b, "access_time", e.AccessTime)
	writeJSONTime(&b, "expiry_time", e.ExpiryTime)
	for _, a := range e.Attachments {
		b.WriteString(",\"attachment\":")
		b.WriteString(a.ToJSON())
	}
	b.WriteByte('}')
	return b.String()
}

// ToJSON serializes the group subtree as a compact JSON object. Meta
// entries are hidden; their presence affects only HasNonMetaEntries.
func (g *Group) ToJSON() string {
	var b strings.Builder
	b.WriteString("{\"icon\":")
	b.WriteString(strconv.FormatUint(uint64(g.Icon), 10))
	if g.CustomIcon != nil {
		b.WriteString(",\"custom_icon\":\"true\"")
	}
	writeJSONField(&b, "name", g.Name)
	writeJSONField(&b, "notes", g.Notes)
	writeJSONTime(&b, "creation_time", g.CreationTime)
	writeJSONTime(&b, "modification_time", g.ModificationTime)
	writeJSONTime(&b, "access_time", g.AccessTime)
	writeJSONTime(&b, "expiry_time", g.ExpiryTime)
	writeJSONTime(&b, "move_time", g.MoveTime)
	if g.Flags != 0 {
		b.WriteString(",\"flags\":")
		b.WriteString(strconv.FormatUint(uint64(g.Flags), 10))
	}
	if len(g.Groups) > 0 {
		b.WriteString(",\"groups\":[")
		for i, sub := range g.Groups {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(sub.ToJSON())
		}
		b.WriteByte(']')
	}
	if g.HasNonMetaEntries() {
		b.WriteString(",\"entries\":[")
		first := true
		for _, e := range g.Entries {
			if e.IsMetaEntry() {
				continue
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			b.WriteString(e.ToJSON())
		}
		b.WriteByte(']')
	}
	b.WriteByte('}')
	return b.String()
}
