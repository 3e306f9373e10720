package materials

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the variant discriminant of a material.
type Type string

// Material variants.
const (
	TypeFolder Type = "folder"
	TypeFile   Type = "file"
	TypeLink   Type = "link"
	TypeText   Type = "text"
	TypeEmbed  Type = "embed"
)

// Types lists every valid variant.
var Types = []Type{TypeFolder, TypeFile, TypeLink, TypeText, TypeEmbed}

// IsValid reports whether t is one of the known variants.
func (t Type) IsValid() bool {
	switch t {
	case TypeFolder, TypeFile, TypeLink, TypeText, TypeEmbed:
		return true
	}
	return false
}

// HasContent reports whether the variant keeps a payload in the content store.
func (t Type) HasContent() bool {
	return t == TypeFile || t == TypeText || t == TypeEmbed
}

// ParseType converts a persisted type column into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVariant, s)
	}
	return t, nil
}

// Record is the persisted metadata row of a material.
//
// URI holds the target of a LINK and, for a FILE, the legacy on-disk location
// while the file is pending migration.
type Record struct {
	ID          uuid.UUID  `json:"id"`
	Type        Type       `json:"type"`
	CourseID    uuid.UUID  `json:"course_id"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	AddTime     time.Time  `json:"add_time"`
	MimeType    string     `json:"mime_type,omitempty"`
	SizeBytes   int64      `json:"size_bytes"`
	URI         string     `json:"uri,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	if r.ParentID != nil {
		p := *r.ParentID
		c.ParentID = &p
	}
	return &c
}

// IsPendingLegacyImport reports whether the row still waits for the legacy import.
func (r *Record) IsPendingLegacyImport() bool {
	return r.Type == TypeFile && r.URI != ""
}
