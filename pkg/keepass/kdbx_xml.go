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
	"encoding/base64"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kindahl/libkeepass/pkg/obfuscate"
	"github.com/kindahl/libkeepass/pkg/streams"
)

// The KDBX payload is an XML document. The wire structs below mirror
// its element layout exactly; field order matters because the XML
// encoder emits struct fields in declaration order and the Salsa20
// keystream is consumed in that same order.

// xmlBool renders as the "True"/"False" literals KeePass2 writes.
type xmlBool bool

func (b xmlBool) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	s := "False"
	if b {
		s = "True"
	}
	return e.EncodeElement(s, start)
}

func (b *xmlBool) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	*b = xmlBool(parseXMLBool(s, false))
	return nil
}

func parseXMLBool(s string, def bool) bool {
	switch {
	case s == "":
		return def
	case strings.EqualFold(s, "true") || s == "1":
		return true
	default:
		return false
	}
}

type xmlDocument struct {
	XMLName xml.Name `xml:"KeePassFile"`
	Meta    xmlMeta  `xml:"Meta"`
	Root    xmlRoot  `xml:"Root"`
}

type xmlRoot struct {
	Group xmlGroup `xml:"Group"`
}

type xmlMeta struct {
	HeaderHash                 string              `xml:"HeaderHash"`
	Generator                  string              `xml:"Generator"`
	DatabaseName               string              `xml:"DatabaseName"`
	DatabaseNameChanged        string              `xml:"DatabaseNameChanged"`
	DatabaseDescription        string              `xml:"DatabaseDescription"`
	DatabaseDescriptionChanged string              `xml:"DatabaseDescriptionChanged"`
	DefaultUserName            string              `xml:"DefaultUserName"`
	DefaultUserNameChanged     string              `xml:"DefaultUserNameChanged"`
	MaintenanceHistoryDays     *uint32             `xml:"MaintenanceHistoryDays"`
	Color                      string              `xml:"Color"`
	MasterKeyChanged           string              `xml:"MasterKeyChanged"`
	MasterKeyChangeRec         *int64              `xml:"MasterKeyChangeRec"`
	MasterKeyChangeForce       *int64              `xml:"MasterKeyChangeForce"`
	MemoryProtection           xmlMemoryProtection `xml:"MemoryProtection"`
	RecycleBinEnabled          *xmlBool            `xml:"RecycleBinEnabled"`
	RecycleBinUUID             string              `xml:"RecycleBinUUID,omitempty"`
	RecycleBinChanged          string              `xml:"RecycleBinChanged"`
	EntryTemplatesGroup        string              `xml:"EntryTemplatesGroup,omitempty"`
	EntryTemplatesGroupChanged string              `xml:"EntryTemplatesGroupChanged"`
	HistoryMaxItems            *int32              `xml:"HistoryMaxItems"`
	HistoryMaxSize             *int64              `xml:"HistoryMaxSize"`
	LastSelectedGroup          string              `xml:"LastSelectedGroup,omitempty"`
	LastTopVisibleGroup        string              `xml:"LastTopVisibleGroup,omitempty"`
	CustomIcons                xmlCustomIcons      `xml:"CustomIcons"`
	Binaries                   xmlBinaries         `xml:"Binaries"`
	CustomData                 xmlCustomData       `xml:"CustomData"`
}

type xmlMemoryProtection struct {
	ProtectTitle    xmlBool  `xml:"ProtectTitle"`
	ProtectUserName xmlBool  `xml:"ProtectUserName"`
	ProtectPassword *xmlBool `xml:"ProtectPassword"`
	ProtectURL      xmlBool  `xml:"ProtectURL"`
	ProtectNotes    xmlBool  `xml:"ProtectNotes"`
}

type xmlCustomIcons struct {
	Icons []xmlIcon `xml:"Icon"`
}

type xmlIcon struct {
	UUID string `xml:"UUID"`
	Data string `xml:"Data"`
}

type xmlBinaries struct {
	Binaries []xmlPoolBinary `xml:"Binary"`
}

type xmlPoolBinary struct {
	ID                string `xml:"ID,attr"`
	Protected         string `xml:"Protected,attr,omitempty"`
	Compressed        string `xml:"Compressed,attr,omitempty"`
	ProtectedInMemory string `xml:"ProtectedInMemory,attr,omitempty"`
	Data              string `xml:",chardata"`
}

type xmlCustomData struct {
	Items []xmlCustomDataItem `xml:"Item"`
}

type xmlCustomDataItem struct {
	Key   string `xml:"Key"`
	Value string `xml:"Value"`
}

type xmlTimes struct {
	CreationTime         string  `xml:"CreationTime"`
	LastModificationTime string  `xml:"LastModificationTime"`
	LastAccessTime       string  `xml:"LastAccessTime"`
	ExpiryTime           string  `xml:"ExpiryTime"`
	LocationChanged      string  `xml:"LocationChanged"`
	Expires              xmlBool `xml:"Expires"`
	UsageCount           uint32  `xml:"UsageCount"`
}

type xmlGroup struct {
	UUID                    string     `xml:"UUID"`
	Name                    string     `xml:"Name"`
	Notes                   string     `xml:"Notes"`
	IconID                  uint32     `xml:"IconID"`
	CustomIconUUID          string     `xml:"CustomIconUUID,omitempty"`
	Times                   xmlTimes   `xml:"Times"`
	IsExpanded              xmlBool    `xml:"IsExpanded"`
	DefaultAutoTypeSequence string     `xml:"DefaultAutoTypeSequence"`
	EnableAutoType          xmlBool    `xml:"EnableAutoType"`
	EnableSearching         xmlBool    `xml:"EnableSearching"`
	LastTopVisibleEntry     string     `xml:"LastTopVisibleEntry,omitempty"`
	Entries                 []xmlEntry `xml:"Entry"`
	Groups                  []xmlGroup `xml:"Group"`
}

type xmlEntry struct {
	UUID            string           `xml:"UUID"`
	IconID          uint32           `xml:"IconID"`
	ForegroundColor string           `xml:"ForegroundColor"`
	BackgroundColor string           `xml:"BackgroundColor"`
	OverrideURL     string           `xml:"OverrideURL"`
	Tags            string           `xml:"Tags"`
	CustomIconUUID  string           `xml:"CustomIconUUID,omitempty"`
	Times           xmlTimes         `xml:"Times"`
	AutoType        xmlAutoType      `xml:"AutoType"`
	Strings         []xmlString      `xml:"String"`
	Binaries        []xmlEntryBinary `xml:"Binary"`
	History         xmlHistory       `xml:"History"`
}

type xmlHistory struct {
	Entries []xmlEntry `xml:"Entry"`
}

type xmlAutoType struct {
	Enabled                 xmlBool          `xml:"Enabled"`
	DataTransferObfuscation uint32           `xml:"DataTransferObfuscation"`
	DefaultSequence         string           `xml:"DefaultSequence"`
	Associations            []xmlAssociation `xml:"Association"`
}

type xmlAssociation struct {
	Window            string `xml:"Window"`
	KeystrokeSequence string `xml:"KeystrokeSequence"`
}

type xmlString struct {
	Key   string   `xml:"Key"`
	Value xmlValue `xml:"Value"`
}

type xmlValue struct {
	Protected         string `xml:"Protected,attr,omitempty"`
	ProtectedInMemory string `xml:"ProtectedInMemory,attr,omitempty"`
	Text              string `xml:",chardata"`
}

type xmlEntryBinary struct {
	Key   string         `xml:"Key"`
	Value xmlBinaryValue `xml:"Value"`
}

type xmlBinaryValue struct {
	Ref               string `xml:"Ref,attr,omitempty"`
	Protected         string `xml:"Protected,attr,omitempty"`
	Compressed        string `xml:"Compressed,attr,omitempty"`
	ProtectedInMemory string `xml:"ProtectedInMemory,attr,omitempty"`
	Text              string `xml:",chardata"`
}

// xmlContext carries the state shared by the whole parse or build of a
// document: the keystream and the reference pools for two-phase
// resolution.
type xmlContext struct {
	obfuscator *obfuscate.Salsa20
	groupPool  map[string]*Group
	iconPool   map[string]*Icon
	binaryPool map[string]*Binary
	binaryIDs  map[*Binary]string
}

func newXMLContext(obf *obfuscate.Salsa20) *xmlContext {
	return &xmlContext{
		obfuscator: obf,
		groupPool:  make(map[string]*Group),
		iconPool:   make(map[string]*Icon),
		binaryPool: make(map[string]*Binary),
		binaryIDs:  make(map[*Binary]string),
	}
}

func decodeUUID(text string) (uuid.UUID, error) {
	var id uuid.UUID
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil || len(raw) != len(id) {
		return id, formatErr("malformed UUID %q", text)
	}
	copy(id[:], raw)
	return id, nil
}

func encodeUUID(id uuid.UUID) string {
	return base64.StdEncoding.EncodeToString(id[:])
}

// groupRef resolves a UUID string against the pool of parsed groups,
// allocating an empty shell when the group has not been seen. Called
// only after the Root subtree is fully parsed.
func (ctx *xmlContext) groupRef(text string) (*Group, error) {
	if text == "" {
		return nil, nil
	}
	if g, ok := ctx.groupPool[text]; ok {
		return g, nil
	}
	id, err := decodeUUID(text)
	if err != nil {
		return nil, err
	}
	g := &Group{UUID: id}
	ctx.groupPool[text] = g
	return g, nil
}

// parseProtectedValue reads a Value element, consuming keystream bytes
// when the value is protected.
func (ctx *xmlContext) parseProtectedValue(v xmlValue) (ProtectedString, error) {
	if parseXMLBool(v.Protected, false) {
		raw, err := base64.StdEncoding.DecodeString(v.Text)
		if err != nil {
			return ProtectedString{}, formatErr("malformed protected value")
		}
		if len(raw) > 0 {
			return NewProtectedString(string(ctx.obfuscator.Process(raw)), true), nil
		}
		return NewProtectedString("", true), nil
	}
	return NewProtectedString(v.Text, parseXMLBool(v.ProtectedInMemory, false)), nil
}

func (ctx *xmlContext) writeProtectedValue(s ProtectedString) xmlValue {
	if s.IsProtected() {
		return xmlValue{
			Protected: "True",
			Text:      base64.StdEncoding.EncodeToString(ctx.obfuscator.Process([]byte(s.Value()))),
		}
	}
	return xmlValue{Text: s.Value()}
}

// parseInlineBinary decodes binary content carried directly in the
// document, protected, compressed, or plain.
func (ctx *xmlContext) parseInlineBinary(protAttr, compAttr, pimAttr, text string) (*Binary, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, formatErr("malformed binary data")
	}
	if parseXMLBool(protAttr, false) {
		if len(raw) > 0 {
			raw = ctx.obfuscator.Process(raw)
		}
		return &Binary{Data: NewProtectedString(string(raw), true)}, nil
	}
	pim := parseXMLBool(pimAttr, false)
	if parseXMLBool(compAttr, false) {
		plain, err := streams.GunzipBytes(raw)
		if err != nil {
			return nil, ioErr(err, "cannot decompress binary data")
		}
		return &Binary{Data: NewProtectedString(string(plain), pim), Compress: true}, nil
	}
	return &Binary{Data: NewProtectedString(string(raw), pim)}, nil
}

func (ctx *xmlContext) parseMeta(x *xmlMeta) (*Metadata, error) {
	meta := NewMetadata()
	meta.Generator = x.Generator

	t, err := parseKdbxTime(x.DatabaseNameChanged)
	if err != nil {
		return nil, err
	}
	meta.DatabaseName.SetAt(x.DatabaseName, t)
	if t, err = parseKdbxTime(x.DatabaseDescriptionChanged); err != nil {
		return nil, err
	}
	meta.DatabaseDescription.SetAt(x.DatabaseDescription, t)
	if t, err = parseKdbxTime(x.DefaultUserNameChanged); err != nil {
		return nil, err
	}
	meta.DefaultUsername.SetAt(x.DefaultUserName, t)

	if x.MaintenanceHistoryDays != nil {
		meta.MaintenanceHistoryDays = *x.MaintenanceHistoryDays
	}
	meta.DatabaseColor = x.Color
	if meta.MasterKeyChanged, err = parseKdbxTime(x.MasterKeyChanged); err != nil {
		return nil, err
	}
	if x.MasterKeyChangeRec != nil {
		meta.MasterKeyChangeRec = *x.MasterKeyChangeRec
	}
	if x.MasterKeyChangeForce != nil {
		meta.MasterKeyChangeForce = *x.MasterKeyChangeForce
	}

	meta.MemoryProtection = MemoryProtection{
		Title:    bool(x.MemoryProtection.ProtectTitle),
		Username: bool(x.MemoryProtection.ProtectUserName),
		Password: true,
		URL:      bool(x.MemoryProtection.ProtectURL),
		Notes:    bool(x.MemoryProtection.ProtectNotes),
	}
	if x.MemoryProtection.ProtectPassword != nil {
		meta.MemoryProtection.Password = bool(*x.MemoryProtection.ProtectPassword)
	}

	if meta.RecycleBinChanged, err = parseKdbxTime(x.RecycleBinChanged); err != nil {
		return nil, err
	}
	if meta.EntryTemplatesChanged, err = parseKdbxTime(x.EntryTemplatesGroupChanged); err != nil {
		return nil, err
	}
	if x.HistoryMaxItems != nil {
		meta.HistoryMaxItems = *x.HistoryMaxItems
	}
	if x.HistoryMaxSize != nil {
		meta.HistoryMaxSize = *x.HistoryMaxSize
	}

	// RecycleBinUUID, EntryTemplatesGroup, LastSelectedGroup, and
	// LastTopVisibleGroup resolve after the Root subtree is parsed.

	for _, xi := range x.CustomIcons.Icons {
		data, err := base64.StdEncoding.DecodeString(xi.Data)
		if err != nil {
			return nil, formatErr("malformed icon data")
		}
		if len(data) == 0 {
			continue
		}
		id, err := decodeUUID(xi.UUID)
		if err != nil {
			return nil, err
		}
		icon := &Icon{UUID: id, Data: data}
		meta.AddIcon(icon)
		ctx.iconPool[xi.UUID] = icon
	}

	for _, xb := range x.Binaries.Binaries {
		binary, err := ctx.parseInlineBinary(xb.Protected, xb.Compressed, xb.ProtectedInMemory, xb.Data)
		if err != nil {
			return nil, err
		}
		meta.AddBinary(binary)
		ctx.binaryPool[xb.ID] = binary
	}

	for _, item := range x.CustomData.Items {
		if item.Key == "" {
			continue
		}
		meta.AddField(item.Key, item.Value)
	}
	return meta, nil
}

func (ctx *xmlContext) parseTimes(x xmlTimes) (creation, modification, access, expiry, move time.Time, expires bool, usage uint32, err error) {
	if creation, err = parseKdbxTime(x.CreationTime); err != nil {
		return
	}
	if modification, err = parseKdbxTime(x.LastModificationTime); err != nil {
		return
	}
	if access, err = parseKdbxTime(x.LastAccessTime); err != nil {
		return
	}
	if expiry, err = parseKdbxTime(x.ExpiryTime); err != nil {
		return
	}
	if move, err = parseKdbxTime(x.LocationChanged); err != nil {
		return
	}
	expires = bool(x.Expires)
	usage = x.UsageCount
	return
}

func (ctx *xmlContext) parseEntry(x *xmlEntry) (*Entry, error) {
	e := &Entry{}
	id, err := decodeUUID(x.UUID)
	if err != nil {
		return nil, err
	}
	e.UUID = id
	e.Icon = x.IconID
	e.ForegroundColor = x.ForegroundColor
	e.BackgroundColor = x.BackgroundColor
	e.OverrideURL = x.OverrideURL
	e.Tags = x.Tags

	if x.CustomIconUUID != "" {
		// An unknown icon reference is dropped rather than rejected.
		if icon, ok := ctx.iconPool[x.CustomIconUUID]; ok {
			e.CustomIcon = icon
		}
	}

	e.CreationTime, e.ModificationTime, e.AccessTime, e.ExpiryTime, e.MoveTime, e.Expires, e.UsageCount, err = ctx.parseTimes(x.Times)
	if err != nil {
		return nil, err
	}

	e.AutoType.Enabled = bool(x.AutoType.Enabled)
	e.AutoType.Obfuscation = x.AutoType.DataTransferObfuscation
	e.AutoType.Sequence = x.AutoType.DefaultSequence
	for _, a := range x.AutoType.Associations {
		e.AutoType.Associations = append(e.AutoType.Associations, Association{
			Window:   a.Window,
			Sequence: a.KeystrokeSequence,
		})
	}

	for _, s := range x.Strings {
		val, err := ctx.parseProtectedValue(s.Value)
		if err != nil {
			return nil, err
		}
		switch s.Key {
		case "Title":
			e.Title = val
		case "URL":
			e.URL = val
		case "UserName":
			e.Username = val
		case "Password":
			e.Password = val
		case "Notes":
			e.Notes = val
		default:
			e.AddCustomField(s.Key, val)
		}
	}

	for _, b := range x.Binaries {
		var binary *Binary
		if b.Value.Ref != "" {
			pooled, ok := ctx.binaryPool[b.Value.Ref]
			if !ok {
				return nil, formatErr("entry attachment refers to non-existing binary data")
			}
			binary = pooled
		} else {
			binary, err = ctx.parseInlineBinary(b.Value.Protected, b.Value.Compressed, b.Value.ProtectedInMemory, b.Value.Text)
			if err != nil {
				return nil, err
			}
		}
		e.AddAttachment(&Attachment{Name: b.Key, Binary: binary})
	}

	for i := range x.History.Entries {
		old, err := ctx.parseEntry(&x.History.Entries[i])
		if err != nil {
			return nil, err
		}
		e.AddHistoryEntry(old)
	}
	return e, nil
}

func (ctx *xmlContext) parseGroup(x *xmlGroup) (*Group, error) {
	g := &Group{}
	id, err := decodeUUID(x.UUID)
	if err != nil {
		return nil, err
	}
	g.UUID = id
	ctx.groupPool[x.UUID] = g

	g.Name = x.Name
	g.Notes = x.Notes
	g.Icon = x.IconID
	if x.CustomIconUUID != "" {
		// An unknown icon reference is dropped rather than rejected.
		if icon, ok := ctx.iconPool[x.CustomIconUUID]; ok {
			g.CustomIcon = icon
		}
	}

	g.CreationTime, g.ModificationTime, g.AccessTime, g.ExpiryTime, g.MoveTime, g.Expires, g.UsageCount, err = ctx.parseTimes(x.Times)
	if err != nil {
		return nil, err
	}

	g.Expanded = bool(x.IsExpanded)
	g.DefaultAutoTypeSequence = x.DefaultAutoTypeSequence
	g.EnableAutoType = bool(x.EnableAutoType)
	g.EnableSearching = bool(x.EnableSearching)

	var lastVisible uuid.UUID
	haveLastVisible := false
	if x.LastTopVisibleEntry != "" {
		if lastVisible, err = decodeUUID(x.LastTopVisibleEntry); err != nil {
			return nil, err
		}
		haveLastVisible = true
	}

	for i := range x.Entries {
		e, err := ctx.parseEntry(&x.Entries[i])
		if err != nil {
			return nil, err
		}
		g.AddEntry(e)
		if haveLastVisible && e.UUID == lastVisible {
			g.LastVisibleEntry = e
		}
	}

	for i := range x.Groups {
		sub, err := ctx.parseGroup(&x.Groups[i])
		if err != nil {
			return nil, err
		}
		g.AddGroup(sub)
	}
	return g, nil
}

// parseDocument turns the decoded XML document into a model, returning
// the metadata, root group, and the header hash embedded in Meta.
func (ctx *xmlContext) parseDocument(doc *xmlDocument) (*Metadata, *Group, []byte, error) {
	headerHash, err := base64.StdEncoding.DecodeString(doc.Meta.HeaderHash)
	if err != nil {
		return nil, nil, nil, formatErr("malformed header hash")
	}
	meta, err := ctx.parseMeta(&doc.Meta)
	if err != nil {
		return nil, nil, nil, err
	}
	root, err := ctx.parseGroup(&doc.Root.Group)
	if err != nil {
		return nil, nil, nil, err
	}

	// Group back-references can only resolve once every group has been
	// parsed.
	recycleEnabled := true
	if doc.Meta.RecycleBinEnabled != nil {
		recycleEnabled = bool(*doc.Meta.RecycleBinEnabled)
	}
	if recycleEnabled {
		if meta.RecycleBin, err = ctx.groupRef(doc.Meta.RecycleBinUUID); err != nil {
			return nil, nil, nil, err
		}
	}
	if meta.EntryTemplates, err = ctx.groupRef(doc.Meta.EntryTemplatesGroup); err != nil {
		return nil, nil, nil, err
	}
	// The last-selected and last-visible references never allocate a
	// shell: they resolve only to groups already in the pool (the parsed
	// tree and any shells allocated above) and stay nil otherwise.
	if g, ok := ctx.groupPool[doc.Meta.LastSelectedGroup]; ok {
		meta.LastSelectedGroup = g
	}
	if g, ok := ctx.groupPool[doc.Meta.LastTopVisibleGroup]; ok {
		meta.LastVisibleGroup = g
	}
	return meta, root, headerHash, nil
}

func (ctx *xmlContext) buildTimes(creation, modification, access, expiry, move time.Time, expires bool, usage uint32) xmlTimes {
	return xmlTimes{
		CreationTime:         formatKdbxTime(creation),
		LastModificationTime: formatKdbxTime(modification),
		LastAccessTime:       formatKdbxTime(access),
		ExpiryTime:           formatKdbxTime(expiry),
		LocationChanged:      formatKdbxTime(move),
		Expires:              xmlBool(expires),
		UsageCount:           usage,
	}
}

func (ctx *xmlContext) buildMeta(x *xmlMeta, meta *Metadata, headerHash []byte) error {
	x.HeaderHash = base64.StdEncoding.EncodeToString(headerHash)
	x.Generator = meta.Generator
	x.DatabaseName = meta.DatabaseName.Value()
	x.DatabaseNameChanged = formatKdbxTime(meta.DatabaseName.Time())
	x.DatabaseDescription = meta.DatabaseDescription.Value()
	x.DatabaseDescriptionChanged = formatKdbxTime(meta.DatabaseDescription.Time())
	x.DefaultUserName = meta.DefaultUsername.Value()
	x.DefaultUserNameChanged = formatKdbxTime(meta.DefaultUsername.Time())
	days := meta.MaintenanceHistoryDays
	x.MaintenanceHistoryDays = &days
	x.Color = meta.DatabaseColor
	x.MasterKeyChanged = formatKdbxTime(meta.MasterKeyChanged)
	rec, force := meta.MasterKeyChangeRec, meta.MasterKeyChangeForce
	x.MasterKeyChangeRec = &rec
	x.MasterKeyChangeForce = &force

	protPassword := xmlBool(meta.MemoryProtection.Password)
	x.MemoryProtection = xmlMemoryProtection{
		ProtectTitle:    xmlBool(meta.MemoryProtection.Title),
		ProtectUserName: xmlBool(meta.MemoryProtection.Username),
		ProtectPassword: &protPassword,
		ProtectURL:      xmlBool(meta.MemoryProtection.URL),
		ProtectNotes:    xmlBool(meta.MemoryProtection.Notes),
	}

	recycleEnabled := xmlBool(meta.RecycleBin != nil)
	x.RecycleBinEnabled = &recycleEnabled
	if meta.RecycleBin != nil {
		x.RecycleBinUUID = encodeUUID(meta.RecycleBin.UUID)
	}
	x.RecycleBinChanged = formatKdbxTime(meta.RecycleBinChanged)
	if meta.EntryTemplates != nil {
		x.EntryTemplatesGroup = encodeUUID(meta.EntryTemplates.UUID)
	}
	x.EntryTemplatesGroupChanged = formatKdbxTime(meta.EntryTemplatesChanged)
	items, size := meta.HistoryMaxItems, meta.HistoryMaxSize
	x.HistoryMaxItems = &items
	x.HistoryMaxSize = &size
	if meta.LastSelectedGroup != nil {
		x.LastSelectedGroup = encodeUUID(meta.LastSelectedGroup.UUID)
	}
	if meta.LastVisibleGroup != nil {
		x.LastTopVisibleGroup = encodeUUID(meta.LastVisibleGroup.UUID)
	}

	for _, icon := range meta.Icons {
		x.CustomIcons.Icons = append(x.CustomIcons.Icons, xmlIcon{
			UUID: encodeUUID(icon.UUID),
			Data: base64.StdEncoding.EncodeToString(icon.Data),
		})
	}

	for i, binary := range meta.Binaries {
		id := strconv.Itoa(i)
		xb := xmlPoolBinary{ID: id}
		switch {
		case binary.Data.IsProtected():
			xb.Protected = "True"
			xb.Data = base64.StdEncoding.EncodeToString(
				ctx.obfuscator.Process([]byte(binary.Data.Value())))
		case binary.Compress:
			compressed, err := streams.GzipBytes([]byte(binary.Data.Value()))
			if err != nil {
				return ioErr(err, "cannot compress binary data")
			}
			xb.Compressed = "True"
			xb.Data = base64.StdEncoding.EncodeToString(compressed)
		default:
			xb.Data = base64.StdEncoding.EncodeToString([]byte(binary.Data.Value()))
		}
		x.Binaries.Binaries = append(x.Binaries.Binaries, xb)
		ctx.binaryIDs[binary] = id
	}

	for _, field := range meta.Fields {
		x.CustomData.Items = append(x.CustomData.Items, xmlCustomDataItem{
			Key:   field.Key,
			Value: field.Value,
		})
	}
	return nil
}

func (ctx *xmlContext) buildEntry(e *Entry) xmlEntry {
	x := xmlEntry{
		UUID:            encodeUUID(e.UUID),
		IconID:          e.Icon,
		ForegroundColor: e.ForegroundColor,
		BackgroundColor: e.BackgroundColor,
		OverrideURL:     e.OverrideURL,
		Tags:            e.Tags,
	}
	if e.CustomIcon != nil {
		x.CustomIconUUID = encodeUUID(e.CustomIcon.UUID)
	}
	x.Times = ctx.buildTimes(e.CreationTime, e.ModificationTime, e.AccessTime,
		e.ExpiryTime, e.MoveTime, e.Expires, e.UsageCount)

	x.AutoType = xmlAutoType{
		Enabled:                 xmlBool(e.AutoType.Enabled),
		DataTransferObfuscation: e.AutoType.Obfuscation,
		DefaultSequence:         e.AutoType.Sequence,
	}
	for _, a := range e.AutoType.Associations {
		x.AutoType.Associations = append(x.AutoType.Associations, xmlAssociation{
			Window:            a.Window,
			KeystrokeSequence: a.Sequence,
		})
	}

	standard := []struct {
		key   string
		value ProtectedString
	}{
		{"Title", e.Title},
		{"URL", e.URL},
		{"UserName", e.Username},
		{"Password", e.Password},
		{"Notes", e.Notes},
	}
	for _, s := range standard {
		x.Strings = append(x.Strings, xmlString{
			Key:   s.key,
			Value: ctx.writeProtectedValue(s.value),
		})
	}
	for _, f := range e.CustomFields {
		x.Strings = append(x.Strings, xmlString{
			Key:   f.Key,
			Value: ctx.writeProtectedValue(f.Value),
		})
	}

	for _, a := range e.Attachments {
		xb := xmlEntryBinary{Key: a.Name}
		if id, ok := ctx.binaryIDs[a.Binary]; ok {
			xb.Value.Ref = id
		} else if a.Binary != nil {
			xb.Value.Text = base64.StdEncoding.EncodeToString([]byte(a.Binary.Data.Value()))
		}
		x.Binaries = append(x.Binaries, xb)
	}

	for _, old := range e.History {
		x.History.Entries = append(x.History.Entries, ctx.buildEntry(old))
	}
	return x
}

func (ctx *xmlContext) buildGroup(g *Group) xmlGroup {
	x := xmlGroup{
		UUID:                    encodeUUID(g.UUID),
		Name:                    g.Name,
		Notes:                   g.Notes,
		IconID:                  g.Icon,
		IsExpanded:              xmlBool(g.Expanded),
		DefaultAutoTypeSequence: g.DefaultAutoTypeSequence,
		EnableAutoType:          xmlBool(g.EnableAutoType),
		EnableSearching:         xmlBool(g.EnableSearching),
	}
	if g.CustomIcon != nil {
		x.CustomIconUUID = encodeUUID(g.CustomIcon.UUID)
	}
	x.Times = ctx.buildTimes(g.CreationTime, g.ModificationTime, g.AccessTime,
		g.ExpiryTime, g.MoveTime, g.Expires, g.UsageCount)
	if g.LastVisibleEntry != nil {
		x.LastTopVisibleEntry = encodeUUID(g.LastVisibleEntry.UUID)
	}
	for _, e := range g.Entries {
		x.Entries = append(x.Entries, ctx.buildEntry(e))
	}
	for _, sub := range g.Groups {
		x.Groups = append(x.Groups, ctx.buildGroup(sub))
	}
	return x
}

// buildDocument turns a database into its XML wire form, consuming the
// keystream in the same order the parser does.
func (ctx *xmlContext) buildDocument(db *Database, headerHash []byte) (*xmlDocument, error) {
	meta := db.Meta
	if meta == nil {
		meta = NewMetadata()
	}
	doc := &xmlDocument{}
	if err := ctx.buildMeta(&doc.Meta, meta, headerHash); err != nil {
		return nil, err
	}
	doc.Root.Group = ctx.buildGroup(db.Root)
	return doc, nil
}
