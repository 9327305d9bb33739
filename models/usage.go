package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UsageCounter accumulates access counts per (book, format). Increments are
// applied with a single server-side atomic operation, never read-modify-write.
type UsageCounter struct {
	BookID        primitive.ObjectID `bson:"bookId" json:"bookId"`
	Format        string             `bson:"format" json:"format"`
	DownloadCount int64              `bson:"downloadCount" json:"downloadCount"`
	LastAccessed  time.Time          `bson:"lastAccessed" json:"lastAccessed"`
}

// ReadingProgress is a reader's last-known position in one format of one
// book. Conflicts resolve last-writer-wins by UpdatedAt.
type ReadingProgress struct {
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	BookID    primitive.ObjectID `bson:"bookId" json:"bookId"`
	Format    string             `bson:"format" json:"format"`
	Position  string             `bson:"position" json:"position"` // opaque marker: CFI, page, or seconds offset
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}
