package schema

import (
	"io/fs"
	"strconv"
	"time"
)

// Field identifies one attribute of an [Entry].
type Field uint16

// Entry fields, stable on the wire.
const (
	FieldName Field = iota + 1
	FieldDisplayName
	FieldSize
	FieldFileType
	FieldAccess
	FieldModTime
	FieldAccessTime
	FieldCreationTime
	FieldUser
	FieldGroup
	FieldLinkDest
	FieldMimeType
	FieldHash
)

// Entry is one stat or directory listing record, a sparse set of string
// and number fields.
type Entry struct {
	Strings map[Field]string `cbor:"1,keyasint,omitempty"`
	Numbers map[Field]int64  `cbor:"2,keyasint,omitempty"`
}

// NewEntry returns an [Entry] carrying a name.
func NewEntry(name string) Entry {
	e := Entry{
		Strings: make(map[Field]string),
		Numbers: make(map[Field]int64),
	}
	e.Strings[FieldName] = name

	return e
}

// EntryFromFileInfo builds an [Entry] from a [fs.FileInfo].
func EntryFromFileInfo(info fs.FileInfo) Entry {
	e := NewEntry(info.Name())
	e.SetNumber(FieldSize, info.Size())
	e.SetNumber(FieldFileType, int64(info.Mode().Type()))
	e.SetNumber(FieldAccess, int64(info.Mode().Perm()))
	e.SetNumber(FieldModTime, info.ModTime().Unix())

	return e
}

// SetString sets a string field.
func (e *Entry) SetString(f Field, v string) {
	if e.Strings == nil {
		e.Strings = make(map[Field]string)
	}
	e.Strings[f] = v
}

// SetNumber sets a number field.
func (e *Entry) SetNumber(f Field, v int64) {
	if e.Numbers == nil {
		e.Numbers = make(map[Field]int64)
	}
	e.Numbers[f] = v
}

// String returns a string field, falling back to the formatted number
// field of the same id.
func (e Entry) String(f Field) string {
	if v, ok := e.Strings[f]; ok {
		return v
	}

	if v, ok := e.Numbers[f]; ok {
		return strconv.FormatInt(v, 10)
	}

	return ""
}

// Number returns a number field or the given default.
func (e Entry) Number(f Field, def int64) int64 {
	if v, ok := e.Numbers[f]; ok {
		return v
	}

	return def
}

// Name returns the entry name.
func (e Entry) Name() string {
	return e.Strings[FieldName]
}

// Size returns the entry size or -1 if unknown.
func (e Entry) Size() int64 {
	return e.Number(FieldSize, -1)
}

// Mode returns the combined file type and permission bits.
func (e Entry) Mode() fs.FileMode {
	return fs.FileMode(e.Number(FieldFileType, 0)) | fs.FileMode(e.Number(FieldAccess, 0)).Perm()
}

// ModTime returns the modification time or the zero time.
func (e Entry) ModTime() time.Time {
	v, ok := e.Numbers[FieldModTime]
	if !ok {
		return time.Time{}
	}

	return time.Unix(v, 0)
}

// IsDir returns if the entry describes a directory.
func (e Entry) IsDir() bool {
	return e.Mode().IsDir()
}

// IsLink returns if the entry describes a symbolic link.
func (e Entry) IsLink() bool {
	return e.Mode()&fs.ModeSymlink != 0 || e.Strings[FieldLinkDest] != ""
}
