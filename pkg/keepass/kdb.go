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
	"crypto/sha256"
	"io"
	"math"

	"github.com/kindahl/libkeepass/pkg/kdbcrypt"
)

// KDB file magic and version.
const (
	kdbSignature0 = 0x9aa2d903
	kdbSignature1 = 0xb54bfb65

	kdbFileVersion         = 0x00030002
	kdbVersionCriticalMask = 0xffffff00
)

// KDB header cipher flags.
const (
	kdbFlagSha2     = 0x00000001
	kdbFlagRijndael = 0x00000002
	kdbFlagTwofish  = 0x00000008
)

// Group field tags. A group record ends at kdbFieldTerminator.
const (
	kdbGroupIDField               = 0x0001
	kdbGroupNameField             = 0x0002
	kdbGroupCreationTimeField     = 0x0003
	kdbGroupModificationTimeField = 0x0004
	kdbGroupAccessTimeField       = 0x0005
	kdbGroupExpiryTimeField       = 0x0006
	kdbGroupIconField             = 0x0007
	kdbGroupLevelField            = 0x0008
	kdbGroupFlagsField            = 0x0009
)

// Entry field tags.
const (
	kdbEntryUUIDField             = 0x0001
	kdbEntryGroupIDField          = 0x0002
	kdbEntryIconField             = 0x0003
	kdbEntryTitleField            = 0x0004
	kdbEntryURLField              = 0x0005
	kdbEntryUsernameField         = 0x0006
	kdbEntryPasswordField         = 0x0007
	kdbEntryNotesField            = 0x0008
	kdbEntryCreationTimeField     = 0x0009
	kdbEntryModificationTimeField = 0x000a
	kdbEntryAccessTimeField       = 0x000b
	kdbEntryExpiryTimeField       = 0x000c
	kdbEntryAttachmentNameField   = 0x000d
	kdbEntryAttachmentDataField   = 0x000e
)

const kdbFieldTerminator = 0xffff

// kdbHeader is the 124-byte KDB file header.
type kdbHeader struct {
	flags           uint32
	version         uint32
	masterSeed      [16]byte
	encryptionIV    [16]byte
	numGroups       uint32
	numEntries      uint32
	contentHash     [32]byte
	transformSeed   [32]byte
	transformRounds uint32
}

func (h *kdbHeader) read(r io.Reader) error {
	rr := reader{r: r}
	signature0 := rr.readUint32()
	signature1 := rr.readUint32()
	h.flags = rr.readUint32()
	h.version = rr.readUint32()
	rr.readFull(h.masterSeed[:])
	rr.readFull(h.encryptionIV[:])
	h.numGroups = rr.readUint32()
	h.numEntries = rr.readUint32()
	rr.readFull(h.contentHash[:])
	rr.readFull(h.transformSeed[:])
	h.transformRounds = rr.readUint32()
	if rr.err != nil {
		return formatErr("not a KDB database")
	}
	if signature0 != kdbSignature0 || signature1 != kdbSignature1 {
		return formatErr("not a KDB database")
	}
	if h.version&kdbVersionCriticalMask != kdbFileVersion&kdbVersionCriticalMask {
		return formatErr("unsupported KDB version %#08x", h.version)
	}
	return nil
}

func (h *kdbHeader) write(w io.Writer) error {
	ww := writer{w: w}
	ww.writeUint32(kdbSignature0)
	ww.writeUint32(kdbSignature1)
	ww.writeUint32(h.flags)
	ww.writeUint32(kdbFileVersion)
	ww.write(h.masterSeed[:])
	ww.write(h.encryptionIV[:])
	ww.writeUint32(h.numGroups)
	ww.writeUint32(h.numEntries)
	ww.write(h.contentHash[:])
	ww.write(h.transformSeed[:])
	ww.writeUint32(h.transformRounds)
	if ww.err != nil {
		return ioErr(ww.err, "cannot write KDB header")
	}
	return nil
}

func (h *kdbHeader) cipher() (kdbcrypt.Cipher, error) {
	switch {
	case h.flags&kdbFlagRijndael != 0:
		return kdbcrypt.RijndaelCipher, nil
	case h.flags&kdbFlagTwofish != 0:
		return kdbcrypt.TwofishCipher, nil
	default:
		return 0, formatErr("unknown cipher in KDB")
	}
}

// ReadKdb decrypts and decodes a KDB (KeePass 1.x) database from r.
func ReadKdb(r io.Reader, cred *Credential) (*Database, error) {
	var h kdbHeader
	if err := h.read(r); err != nil {
		return nil, err
	}
	crypt, err := io.ReadAll(r)
	if err != nil {
		return nil, ioErr(err, "cannot read KDB content")
	}

	db := &Database{
		Format:          FormatKdb,
		MasterSeed:      append([]byte(nil), h.masterSeed[:]...),
		EncryptionIV:    h.encryptionIV,
		TransformSeed:   h.transformSeed,
		TransformRounds: uint64(h.transformRounds),
	}
	db.Cipher, err = h.cipher()
	if err != nil {
		return nil, err
	}

	transformed := cred.transform(h.transformSeed, uint64(h.transformRounds), hashSubKeysOnlyIfComposite)
	params := &kdbcrypt.Params{
		Cipher: db.Cipher,
		Key:    kdbcrypt.FinalKey(h.masterSeed[:], transformed),
		IV:     h.encryptionIV,
	}
	dec, err := kdbcrypt.NewDecrypter(bytes.NewReader(crypt), params)
	if err != nil {
		return nil, internalErr("cannot build decrypter: %v", err)
	}
	plain, err := io.ReadAll(dec)
	if err != nil {
		// A wrong key generically surfaces as a padding error.
		return nil, ErrBadPassword
	}
	if sha256.Sum256(plain) != h.contentHash {
		return nil, ErrBadPassword
	}

	content := bytes.NewReader(plain)
	groups := make([]*Group, h.numGroups)
	levels := make([]uint16, h.numGroups)
	groupByID := make(map[uint32]*Group, h.numGroups)
	for i := range groups {
		g, id, level, err := readKdbGroup(content)
		if err != nil {
			return nil, err
		}
		groups[i] = g
		levels[i] = level
		groupByID[id] = g
	}
	entries := make([]*Entry, h.numEntries)
	entryGroupIDs := make([]uint32, h.numEntries)
	for i := range entries {
		e, gid, err := readKdbEntry(content)
		if err != nil {
			return nil, err
		}
		entries[i] = e
		entryGroupIDs[i] = gid
	}

	// Rebuild the tree from the flat level-tagged sequence. The root
	// lives at level zero; a group may only go one level deeper than
	// its predecessor, but may jump back any number of levels.
	db.Root = NewGroup()
	lastByLevel := []*Group{db.Root}
	lastLevel := 0
	for i, g := range groups {
		level := int(levels[i]) + 1
		if level > lastLevel {
			if level != lastLevel+1 {
				return nil, formatErr("malformed group tree")
			}
			lastByLevel[level-1].AddGroup(g)
			lastByLevel = append(lastByLevel[:level], g)
		} else {
			lastByLevel[level-1].AddGroup(g)
			lastByLevel[level] = g
		}
		lastLevel = level
	}

	for i, e := range entries {
		parent, ok := groupByID[entryGroupIDs[i]]
		if !ok {
			return nil, formatErr("database contains an orphaned entry")
		}
		parent.AddEntry(e)
	}
	return db, nil
}

func readKdbGroup(r io.Reader) (g *Group, id uint32, level uint16, err error) {
	g = &Group{}
	fr := newFieldReader(r)
	for {
		key, val, err := fr.next()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, 0, formatErr("missing terminator in KDB group")
		} else if err != nil {
			return nil, 0, 0, ioErr(err, "truncated KDB group")
		}
		switch key {
		case 0x0000:
			// comment field, ignored
		case kdbGroupIDField:
			if err := verifyFieldSize("group ID", val, 4); err != nil {
				return nil, 0, 0, err
			}
			id = leUint32(val)
		case kdbGroupNameField:
			g.Name = string(stripNull(val))
		case kdbGroupCreationTimeField:
			g.CreationTime, err = readKdbTime("group creation time", val)
		case kdbGroupModificationTimeField:
			g.ModificationTime, err = readKdbTime("group modification time", val)
		case kdbGroupAccessTimeField:
			g.AccessTime, err = readKdbTime("group access time", val)
		case kdbGroupExpiryTimeField:
			g.ExpiryTime, err = readKdbTime("group expiry time", val)
		case kdbGroupIconField:
			if err := verifyFieldSize("group icon", val, 4); err != nil {
				return nil, 0, 0, err
			}
			g.Icon = leUint32(val)
		case kdbGroupLevelField:
			if err := verifyFieldSize("group level", val, 2); err != nil {
				return nil, 0, 0, err
			}
			level = leUint16(val)
		case kdbGroupFlagsField:
			if err := verifyFieldSize("group flags", val, 2); err != nil {
				return nil, 0, 0, err
			}
			g.Flags = leUint16(val)
		case kdbFieldTerminator:
			return g, id, level, nil
		default:
			return nil, 0, 0, formatErr("unknown group field %#04x", key)
		}
		if err != nil {
			return nil, 0, 0, err
		}
	}
}

func readKdbEntry(r io.Reader) (e *Entry, groupID uint32, err error) {
	e = &Entry{}
	var attachment *Attachment
	fr := newFieldReader(r)
	for {
		key, val, err := fr.next()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, formatErr("missing terminator in KDB entry")
		} else if err != nil {
			return nil, 0, ioErr(err, "truncated KDB entry")
		}
		switch key {
		case 0x0000:
			// comment field, ignored
		case kdbEntryUUIDField:
			if err := verifyFieldSize("entry UUID", val, 16); err != nil {
				return nil, 0, err
			}
			copy(e.UUID[:], val)
		case kdbEntryGroupIDField:
			if err := verifyFieldSize("entry group ID", val, 4); err != nil {
				return nil, 0, err
			}
			groupID = leUint32(val)
		case kdbEntryIconField:
			if err := verifyFieldSize("entry icon", val, 4); err != nil {
				return nil, 0, err
			}
			e.Icon = leUint32(val)
		case kdbEntryTitleField:
			e.Title = PlainString(string(stripNull(val)))
		case kdbEntryURLField:
			e.URL = PlainString(string(stripNull(val)))
		case kdbEntryUsernameField:
			e.Username = PlainString(string(stripNull(val)))
		case kdbEntryPasswordField:
			e.Password = PlainString(string(stripNull(val)))
		case kdbEntryNotesField:
			e.Notes = PlainString(string(stripNull(val)))
		case kdbEntryCreationTimeField:
			e.CreationTime, err = readKdbTime("entry creation time", val)
		case kdbEntryModificationTimeField:
			e.ModificationTime, err = readKdbTime("entry modification time", val)
		case kdbEntryAccessTimeField:
			e.AccessTime, err = readKdbTime("entry access time", val)
		case kdbEntryExpiryTimeField:
			e.ExpiryTime, err = readKdbTime("entry expiry time", val)
		case kdbEntryAttachmentNameField:
			// KeePass 1.x writes an attachment name holding only a NUL
			// when unused.
			name := string(stripNull(val))
			if name == "" {
				continue
			}
			if attachment == nil {
				attachment = &Attachment{}
			}
			attachment.Name = name
		case kdbEntryAttachmentDataField:
			if len(val) > 0 {
				if attachment == nil {
					attachment = &Attachment{}
				}
				attachment.Binary = &Binary{
					Data: PlainString(string(val)),
				}
			}
		case kdbFieldTerminator:
			if attachment != nil {
				e.AddAttachment(attachment)
			}
			return e, groupID, nil
		default:
			return nil, 0, formatErr("unknown entry field %#04x", key)
		}
		if err != nil {
			return nil, 0, err
		}
	}
}

func writeKdbGroup(w *writer, g *Group, id uint32, level uint16) {
	writeUint32Field(w, kdbGroupIDField, id)
	writeStringField(w, kdbGroupNameField, g.Name)
	writeKdbTimeField(w, kdbGroupCreationTimeField, g.CreationTime)
	writeKdbTimeField(w, kdbGroupModificationTimeField, g.ModificationTime)
	writeKdbTimeField(w, kdbGroupAccessTimeField, g.AccessTime)
	writeKdbTimeField(w, kdbGroupExpiryTimeField, g.ExpiryTime)
	writeUint32Field(w, kdbGroupIconField, g.Icon)
	writeUint16Field(w, kdbGroupLevelField, level)
	writeUint16Field(w, kdbGroupFlagsField, g.Flags)
	writeField(w, kdbFieldTerminator, nil)
}

func writeKdbEntry(w *writer, e *Entry, groupID uint32) error {
	writeField(w, kdbEntryUUIDField, e.UUID[:])
	writeUint32Field(w, kdbEntryGroupIDField, groupID)
	writeUint32Field(w, kdbEntryIconField, e.Icon)
	writeStringField(w, kdbEntryTitleField, e.Title.Value())
	writeStringField(w, kdbEntryURLField, e.URL.Value())
	writeStringField(w, kdbEntryUsernameField, e.Username.Value())
	writeStringField(w, kdbEntryPasswordField, e.Password.Value())
	writeStringField(w, kdbEntryNotesField, e.Notes.Value())
	writeKdbTimeField(w, kdbEntryCreationTimeField, e.CreationTime)
	writeKdbTimeField(w, kdbEntryModificationTimeField, e.ModificationTime)
	writeKdbTimeField(w, kdbEntryAccessTimeField, e.AccessTime)
	writeKdbTimeField(w, kdbEntryExpiryTimeField, e.ExpiryTime)
	if e.HasAttachment() {
		if len(e.Attachments) > 1 {
			return internalErr("KDB entries hold at most one attachment")
		}
		a := e.Attachments[0]
		if a.Name != "" {
			writeStringField(w, kdbEntryAttachmentNameField, a.Name)
		}
		if a.Binary != nil && !a.Binary.Data.Empty() {
			writeField(w, kdbEntryAttachmentDataField, []byte(a.Binary.Data.Value()))
		}
	} else if !e.IsMetaEntry() {
		// KeePass 1.x emits the empty attachment pair for plain
		// entries.
		writeStringField(w, kdbEntryAttachmentNameField, "")
		writeField(w, kdbEntryAttachmentDataField, nil)
	}
	writeField(w, kdbFieldTerminator, nil)
	return nil
}

// WriteKdb encodes and encrypts db as a KDB (KeePass 1.x) database.
func WriteKdb(w io.Writer, db *Database, cred *Credential) error {
	if len(db.MasterSeed) != 16 {
		return internalErr("KDB master seed must be 16 bytes")
	}

	// Write the plaintext to a staging buffer: all groups depth first
	// with synthetic sequential ids, then all entries tagged with
	// their parent's id.
	var content bytes.Buffer
	cw := &writer{w: &content}

	numGroups := uint32(0)
	var walkGroups func(g *Group, level int) error
	walkGroups = func(g *Group, level int) error {
		for _, sub := range g.Groups {
			if level > math.MaxUint16 {
				return internalErr("group hierarchy exceeds KDB maximum")
			}
			writeKdbGroup(cw, sub, numGroups, uint16(level))
			numGroups++
			if err := walkGroups(sub, level+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walkGroups(db.Root, 0); err != nil {
		return err
	}

	numEntries := uint32(0)
	groupIndex := uint32(0)
	var walkEntries func(g *Group) error
	walkEntries = func(g *Group) error {
		for _, sub := range g.Groups {
			id := groupIndex
			groupIndex++
			for _, e := range sub.Entries {
				if err := writeKdbEntry(cw, e, id); err != nil {
					return err
				}
				numEntries++
			}
			if err := walkEntries(sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walkEntries(db.Root); err != nil {
		return err
	}
	if cw.err != nil {
		return ioErr(cw.err, "cannot stage KDB content")
	}

	var masterSeed [16]byte
	copy(masterSeed[:], db.MasterSeed)
	cipher := db.Cipher
	flags := uint32(kdbFlagSha2 | kdbFlagRijndael)
	if cipher == kdbcrypt.TwofishCipher {
		flags = kdbFlagSha2 | kdbFlagTwofish
	}
	h := kdbHeader{
		flags:           flags,
		masterSeed:      masterSeed,
		encryptionIV:    db.EncryptionIV,
		numGroups:       numGroups,
		numEntries:      numEntries,
		contentHash:     sha256.Sum256(content.Bytes()),
		transformSeed:   db.TransformSeed,
		transformRounds: uint32(db.TransformRounds),
	}
	if err := h.write(w); err != nil {
		return err
	}

	transformed := cred.transform(db.TransformSeed, db.TransformRounds, hashSubKeysOnlyIfComposite)
	params := &kdbcrypt.Params{
		Cipher: cipher,
		Key:    kdbcrypt.FinalKey(masterSeed[:], transformed),
		IV:     db.EncryptionIV,
	}
	enc, err := kdbcrypt.NewEncrypter(w, params)
	if err != nil {
		return internalErr("cannot build encrypter: %v", err)
	}
	if _, err := io.Copy(enc, &content); err != nil {
		return ioErr(err, "cannot write KDB content")
	}
	if err := enc.Close(); err != nil {
		return ioErr(err, "cannot write KDB content")
	}
	return nil
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
