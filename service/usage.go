package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kitabi/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CounterStore applies an atomic download-count increment. Implemented by the
// Redis counters and the Mongo store; both use a single server-side atomic
// operation rather than read-modify-write.
type CounterStore interface {
	IncrementDownload(ctx context.Context, bookID primitive.ObjectID, format string, n int64, at time.Time) error
}

// ProgressStore persists reading positions with last-writer-wins semantics.
type ProgressStore interface {
	UpsertProgress(ctx context.Context, p *models.ReadingProgress) error
}

type usageEvent struct {
	access   bool // false = progress update
	bookID   primitive.ObjectID
	userID   primitive.ObjectID
	format   string
	bytes    int64
	position string
	at       time.Time
}

// Recorder applies usage accounting off the request's critical path. Events
// flow through a buffered channel into a single worker, which keeps one
// session's progress updates in submission order while the HTTP response
// never waits on persistence. Failures are logged and swallowed; they are
// never surfaced to the reader.
type Recorder struct {
	counters CounterStore  // may be nil
	progress ProgressStore // may be nil
	events   chan usageEvent
	quit     chan struct{}
	done     chan struct{}
	closing  sync.Once
}

const recorderBuffer = 256

func NewRecorder(counters CounterStore, progress ProgressStore) *Recorder {
	r := &Recorder{
		counters: counters,
		progress: progress,
		events:   make(chan usageEvent, recorderBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// RecordAccess enqueues a download-count increment for bytes actually served
// (not the requested range). Never blocks: if the buffer is full the event is
// dropped with a log line.
func (r *Recorder) RecordAccess(bookID primitive.ObjectID, format string, userID primitive.ObjectID, bytesServed int64) {
	r.enqueue(usageEvent{
		access: true,
		bookID: bookID, userID: userID, format: format,
		bytes: bytesServed, at: time.Now(),
	})
}

// RecordProgress enqueues a last-writer-wins position update for
// (user, book, format).
func (r *Recorder) RecordProgress(userID, bookID primitive.ObjectID, format, position string) {
	r.enqueue(usageEvent{
		bookID: bookID, userID: userID, format: format,
		position: position, at: time.Now(),
	})
}

// enqueue never blocks and never sends on a closed channel: the events
// channel stays open for the life of the recorder, and after Close the quit
// signal makes late events silent no-ops.
func (r *Recorder) enqueue(ev usageEvent) {
	select {
	case <-r.quit:
		return
	default:
	}
	select {
	case r.events <- ev:
	default:
		log.Printf("usage: buffer full, dropping event: book=%s format=%s", ev.bookID.Hex(), ev.format)
	}
}

// Close stops accepting events and waits for the buffered queue to drain.
// Safe to call more than once, and safe against records racing the shutdown.
func (r *Recorder) Close() {
	r.closing.Do(func() { close(r.quit) })
	<-r.done
}

func (r *Recorder) run() {
	for {
		select {
		case ev := <-r.events:
			r.apply(ev)
		case <-r.quit:
			for {
				select {
				case ev := <-r.events:
					r.apply(ev)
				default:
					close(r.done)
					return
				}
			}
		}
	}
}

func (r *Recorder) apply(ev usageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ev.access {
		if r.counters == nil {
			return
		}
		if err := r.counters.IncrementDownload(ctx, ev.bookID, ev.format, 1, ev.at); err != nil {
			log.Printf("usage: increment failed (dropped): book=%s format=%s err=%v", ev.bookID.Hex(), ev.format, err)
		}
		return
	}
	if r.progress == nil {
		return
	}
	p := &models.ReadingProgress{
		UserID: ev.userID, BookID: ev.bookID, Format: ev.format,
		Position: ev.position, UpdatedAt: ev.at,
	}
	if err := r.progress.UpsertProgress(ctx, p); err != nil {
		log.Printf("usage: progress upsert failed (dropped): user=%s book=%s format=%s err=%v",
			ev.userID.Hex(), ev.bookID.Hex(), ev.format, err)
	}
}
