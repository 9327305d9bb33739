package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Book visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
	VisibilityPending = "pending"
)

// Digital formats a book may carry.
const (
	FormatEPUB      = "epub"
	FormatPDF       = "pdf"
	FormatMOBI      = "mobi"
	FormatTXT       = "txt"
	FormatAudiobook = "audiobook"
)

var ValidFormats = []string{FormatEPUB, FormatPDF, FormatMOBI, FormatTXT, FormatAudiobook}

// FormatValid reports whether format is one of the supported digital formats.
func FormatValid(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// FileRef describes one digital format of a book: where the bytes live and
// whether they are ready to serve. The storage locator is populated by the
// ingestion pipeline; delivery only reads it.
type FileRef struct {
	StorageLocator string `bson:"storageLocator" json:"-"`
	SizeBytes      int64  `bson:"sizeBytes" json:"sizeBytes"`
	Available      bool   `bson:"available" json:"available"`
	DownloadCount  int64  `bson:"downloadCount" json:"downloadCount"`
	ViewCount      int64  `bson:"viewCount" json:"viewCount"`
	OriginalName   string `bson:"originalName,omitempty" json:"originalName,omitempty"`
}

type Book struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID      primitive.ObjectID `bson:"ownerId" json:"ownerId"`
	Title        string             `bson:"title" json:"title"`
	Authors      []string           `bson:"authors,omitempty" json:"authors,omitempty"`
	Visibility   string             `bson:"visibility" json:"visibility"`
	DigitalFiles map[string]FileRef `bson:"digitalFiles" json:"digitalFiles"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
}

// File returns the FileRef for format, if the book carries one.
func (b *Book) File(format string) (FileRef, bool) {
	ref, ok := b.DigitalFiles[format]
	return ref, ok
}
