package store

import (
	"context"

	"github.com/kitabi/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (db *DB) InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error) {
	res, err := db.Books().InsertOne(ctx, book, options.InsertOne())
	if err != nil {
		return primitive.NilObjectID, err
	}
	return res.InsertedID.(primitive.ObjectID), nil
}

func (db *DB) BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOne(ctx, bson.M{"_id": id}).Decode(&book)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// SetFileRef records one digital format for a book. The ingestion pipeline
// calls this after the bytes are durably stored; flipping available to true
// here is what makes the format servable.
func (db *DB) SetFileRef(ctx context.Context, id primitive.ObjectID, format string, ref models.FileRef) error {
	_, err := db.Books().UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"digitalFiles." + format: ref}})
	return err
}
