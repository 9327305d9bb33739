package store

import (
	"context"
	"time"

	"github.com/kitabi/backend/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IncrementDownload bumps the (book, format) counter with a single $inc, the
// atomic update primitive, so concurrent readers of a popular book never lose
// increments. Two first-ever accesses can race the upsert under the unique
// index; the loser retries once against the row the winner created, so its
// increment still lands. The per-book FileRef counter is bumped the same way.
func (db *DB) IncrementDownload(ctx context.Context, bookID primitive.ObjectID, format string, n int64, at time.Time) error {
	filter := bson.M{"bookId": bookID, "format": format}
	update := bson.M{
		"$inc": bson.M{"downloadCount": n},
		"$max": bson.M{"lastAccessed": at},
	}
	_, err := db.Usage().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		_, err = db.Usage().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	}
	if err != nil {
		return err
	}
	_, err = db.Books().UpdateOne(ctx,
		bson.M{"_id": bookID},
		bson.M{"$inc": bson.M{"digitalFiles." + format + ".downloadCount": n}})
	return err
}

// DownloadCount reads the counter; zero when no access has been recorded yet.
func (db *DB) DownloadCount(ctx context.Context, bookID primitive.ObjectID, format string) (int64, error) {
	var c models.UsageCounter
	err := db.Usage().FindOne(ctx, bson.M{"bookId": bookID, "format": format}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.DownloadCount, nil
}

// UpsertProgress applies a last-writer-wins update keyed on updatedAt: an
// existing row is overwritten only by a newer timestamp, and a missing row is
// inserted without clobbering a concurrent newer write.
func (db *DB) UpsertProgress(ctx context.Context, p *models.ReadingProgress) error {
	key := bson.M{"userId": p.UserID, "bookId": p.BookID, "format": p.Format}

	filter := bson.M{"userId": p.UserID, "bookId": p.BookID, "format": p.Format,
		"updatedAt": bson.M{"$lte": p.UpdatedAt}}
	res, err := db.Progress().UpdateOne(ctx, filter,
		bson.M{"$set": bson.M{"position": p.Position, "updatedAt": p.UpdatedAt}})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Either no row exists yet or a newer write already landed. $setOnInsert
	// only touches the former case; a duplicate-key race with another inserter
	// means someone else won, which is fine under last-writer-wins.
	_, err = db.Progress().UpdateOne(ctx, key,
		bson.M{"$setOnInsert": bson.M{
			"userId": p.UserID, "bookId": p.BookID, "format": p.Format,
			"position": p.Position, "updatedAt": p.UpdatedAt,
		}},
		options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// ProgressFor returns the stored position for (user, book, format), or nil when
// none has been recorded.
func (db *DB) ProgressFor(ctx context.Context, userID, bookID primitive.ObjectID, format string) (*models.ReadingProgress, error) {
	var p models.ReadingProgress
	err := db.Progress().FindOne(ctx, bson.M{"userId": userID, "bookId": bookID, "format": format}).Decode(&p)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
