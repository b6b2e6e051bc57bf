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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDUniqueness(t *testing.T) {
	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 100; i++ {
		g := NewGroup()
		require.False(t, seen[g.UUID], "duplicate group UUID after %d creations", i)
		seen[g.UUID] = true

		e := NewEntry()
		require.False(t, seen[e.UUID], "duplicate entry UUID after %d creations", i)
		seen[e.UUID] = true
	}
}

func TestProtectedStringEquality(t *testing.T) {
	assert.Equal(t, NewProtectedString("secret", true), NewProtectedString("secret", true))
	assert.NotEqual(t, NewProtectedString("secret", true), NewProtectedString("secret", false))
	assert.NotEqual(t, NewProtectedString("secret", true), NewProtectedString("other", true))
	assert.Equal(t, PlainString(""), ProtectedString{})
}

func TestTimestamped(t *testing.T) {
	var ts Timestamped[string]
	assert.Empty(t, ts.Value())
	assert.True(t, ts.Time().IsZero())

	before := time.Now()
	ts.Set("name")
	assert.Equal(t, "name", ts.Value())
	assert.False(t, ts.Time().Before(before))

	at := time.Date(2014, 7, 6, 12, 0, 0, 0, time.UTC)
	ts.SetAt("older", at)
	assert.Equal(t, "older", ts.Value())
	assert.True(t, ts.Time().Equal(at))
}

func newMetaEntry() *Entry {
	e := NewEntry()
	e.Title = PlainString("Meta-Info")
	e.URL = PlainString("$")
	e.Username = PlainString("SYSTEM")
	e.Notes = PlainString("KPX_GROUP_TREE_STATE")
	e.AddAttachment(&Attachment{
		Name:   "bin-stream",
		Binary: &Binary{Data: PlainString("\x00\x01\x02")},
	})
	return e
}

func TestIsMetaEntry(t *testing.T) {
	assert.True(t, newMetaEntry().IsMetaEntry())

	tests := []struct {
		name   string
		mutate func(*Entry)
	}{
		{"different title", func(e *Entry) { e.Title = PlainString("Info") }},
		{"different url", func(e *Entry) { e.URL = PlainString("$$") }},
		{"different username", func(e *Entry) { e.Username = PlainString("system") }},
		{"empty notes", func(e *Entry) { e.Notes = PlainString("") }},
		{"different attachment name", func(e *Entry) { e.Attachments[0].Name = "stream" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newMetaEntry()
			test.mutate(e)
			assert.False(t, e.IsMetaEntry())
		})
	}
}

func TestHasNonMetaEntries(t *testing.T) {
	g := NewGroup()
	assert.False(t, g.HasNonMetaEntries())

	g.AddEntry(newMetaEntry())
	assert.False(t, g.HasNonMetaEntries())

	e := NewEntry()
	e.Title = PlainString("login")
	g.AddEntry(e)
	assert.True(t, g.HasNonMetaEntries())
}

func TestGroupJSONSuppressesMetaEntries(t *testing.T) {
	g := NewGroup()
	g.Name = "Internet"
	g.AddEntry(newMetaEntry())
	assert.Equal(t, `{"icon":0,"name":"Internet"}`, g.ToJSON())

	e := NewEntry()
	e.Title = PlainString("site")
	g.AddEntry(e)
	assert.Equal(t, `{"icon":0,"name":"Internet","entries":[{"icon":0,"title":"site"}]}`, g.ToJSON())
}

func TestEntryJSON(t *testing.T) {
	e := NewEntry()
	e.Icon = 3
	e.Title = PlainString("fancy site")
	e.Username = PlainString("admin")
	e.Password = NewProtectedString("hunter2", true)
	e.CreationTime = time.Date(2014, 6, 21, 10, 11, 12, 0, time.Local)
	e.AddAttachment(&Attachment{Name: "note.txt", Binary: &Binary{Data: PlainString("hello")}})

	assert.Equal(t,
		`{"icon":3,"title":"fancy site","username":"admin","password":"hunter2",`+
			`"creation_time":"2014-06-21 10:11:12",`+
			`"attachment":{"name":"note.txt","data":"hello"}}`,
		e.ToJSON())
}

func TestGroupJSONTree(t *testing.T) {
	root := NewGroup()
	child := NewGroup()
	child.Name = "eMail"
	child.Icon = 19
	root.AddGroup(child)
	grandchild := NewGroup()
	grandchild.Name = "Work"
	child.AddGroup(grandchild)

	assert.Equal(t,
		`{"icon":0,"groups":[{"icon":19,"name":"eMail","groups":[{"icon":0,"name":"Work"}]}]}`,
		root.ToJSON())
}

func TestGroupEqual(t *testing.T) {
	a := NewGroup()
	a.Name = "General"
	b := &Group{UUID: a.UUID, Name: "General"}
	assert.True(t, a.Equal(b))

	b.Name = "Other"
	assert.False(t, a.Equal(b))

	b.Name = "General"
	b.AddEntry(NewEntry())
	assert.False(t, a.Equal(b))
}

func TestEntryEqual(t *testing.T) {
	a := NewEntry()
	a.Title = NewProtectedString("title", true)
	a.AutoType.Associations = append(a.AutoType.Associations, Association{Window: "w", Sequence: "s"})

	b := &Entry{
		UUID:     a.UUID,
		Title:    NewProtectedString("title", true),
		AutoType: AutoType{Associations: []Association{{Window: "w", Sequence: "s"}}},
	}
	assert.True(t, a.Equal(b))

	b.Title = NewProtectedString("title", false)
	assert.False(t, a.Equal(b))
}

func TestNewDatabaseHasRandomSeeds(t *testing.T) {
	db, err := New()
	require.NoError(t, err)
	// A database starts with usable random material.
	assert.NotEqual(t, make([]byte, 32), db.MasterSeed)
}
