package store

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// reachTimeout bounds every reachability probe so auth can fall back to the
// demo identity set instead of hanging on a dead database.
const reachTimeout = 2 * time.Second

type DB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoDB connects to MongoDB. The initial ping is advisory only: an
// unreachable store at boot is logged, not fatal, because callers probe
// reachability per request and the server degrades to demo mode meanwhile.
func NewMongoDB(ctx context.Context, uri, dbName string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		log.Println("mongodb not reachable yet, will keep probing:", err)
	} else {
		log.Println("Connected to MongoDB")
	}
	return &DB{
		Client:   client,
		Database: client.Database(dbName),
	}, nil
}

// Reachable pings the server with a short timeout. It is called per
// authentication attempt so the system recovers without a restart once the
// store comes back.
func (db *DB) Reachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, reachTimeout)
	defer cancel()
	return db.Client.Ping(ctx, nil) == nil
}

func (db *DB) Users() *mongo.Collection {
	return db.Database.Collection("users")
}

func (db *DB) Books() *mongo.Collection {
	return db.Database.Collection("books")
}

func (db *DB) Usage() *mongo.Collection {
	return db.Database.Collection("usage_counters")
}

func (db *DB) Progress() *mongo.Collection {
	return db.Database.Collection("reading_progress")
}

// EnsureIndexes creates the unique keys the usage paths rely on. Errors are
// returned so main can log them; they are not fatal.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	_, err := db.Usage().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bookId", Value: 1}, {Key: "format", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = db.Progress().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "bookId", Value: 1}, {Key: "format", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (db *DB) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.Client.Disconnect(ctx)
}
