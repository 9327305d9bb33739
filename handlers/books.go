package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kitabi/backend/middleware"
	"github.com/kitabi/backend/models"
	"github.com/kitabi/backend/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BookStore is the read side of the catalog the delivery path needs.
type BookStore interface {
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
}

// ProgressReader resolves a stored reading position; nil result means none
// recorded yet.
type ProgressReader interface {
	ProgressFor(ctx context.Context, userID, bookID primitive.ObjectID, format string) (*models.ReadingProgress, error)
}

type BooksHandler struct {
	Books    BookStore
	Locator  *service.Locator
	Recorder *service.Recorder
	Progress ProgressReader // nil without a persistent store
}

type DenyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeDeny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(DenyResponse{Success: false, Message: message})
}

// denyStatus maps a permission decision to its HTTP status. Authorization
// reasons are specific (catalog state is not security-sensitive); only
// outright lack of permission is a 403.
func denyStatus(d service.Decision) int {
	if d == service.DenyNotAuthorized {
		return http.StatusForbidden
	}
	return http.StatusNotFound
}

// bookAndFormat pulls the {id}/{format} route pair, loading the book and
// validating the format. Writes the error response and returns ok=false on
// failure.
func (h *BooksHandler) bookAndFormat(w http.ResponseWriter, r *http.Request) (*models.Book, string, bool) {
	if h.Books == nil {
		http.Error(w, `{"error":"catalog unavailable"}`, http.StatusServiceUnavailable)
		return nil, "", false
	}
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"invalid book id"}`, http.StatusBadRequest)
		return nil, "", false
	}
	format := strings.ToLower(chi.URLParam(r, "format"))
	if !models.FormatValid(format) {
		http.Error(w, `{"error":"unknown format"}`, http.StatusBadRequest)
		return nil, "", false
	}
	book, err := h.Books.BookByID(r.Context(), id)
	if err != nil || book == nil {
		http.Error(w, `{"error":"book not found"}`, http.StatusNotFound)
		return nil, "", false
	}
	return book, format, true
}

type MetadataResponse struct {
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"sizeBytes"`
	Available bool   `json:"available"`
}

// Metadata describes one format of a book to an authorized caller. The owner
// may probe a not-yet-available format and sees available:false, which is how
// upload-in-progress state reaches the UI.
func (h *BooksHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	book, format, ok := h.bookAndFormat(w, r)
	if !ok {
		return
	}
	decision := service.CanRead(ident, book, format)
	if !decision.Allowed() && decision != service.DenyFormatPending {
		writeDeny(w, denyStatus(decision), decision.Message())
		return
	}
	ref, _ := book.File(format)
	author := ""
	if len(book.Authors) > 0 {
		author = book.Authors[0]
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(MetadataResponse{
		Title:     book.Title,
		Author:    author,
		Format:    format,
		SizeBytes: ref.SizeBytes,
		Available: ref.Available,
	})
}

// Read streams the book file, honoring Range requests. Permission is decided
// before any storage access; an allowed request that cannot be resolved fails
// closed with a 404 rather than serving partial or empty bytes.
func (h *BooksHandler) Read(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	book, format, ok := h.bookAndFormat(w, r)
	if !ok {
		return
	}
	decision := service.CanRead(ident, book, format)
	if !decision.Allowed() {
		writeDeny(w, denyStatus(decision), decision.Message())
		return
	}

	handle, err := h.Locator.Resolve(r.Context(), book, format)
	if err != nil {
		// Already logged by the locator with the integrity detail; the
		// client gets a generic not-found.
		http.Error(w, `{"error":"file not found"}`, http.StatusNotFound)
		return
	}

	served, err := service.Stream(r.Context(), w, r, handle, format)
	if err != nil && served == 0 {
		log.Printf("read: stream aborted before first byte: book=%s format=%s err=%v", book.ID.Hex(), format, err)
	}
	if served > 0 {
		// Bytes actually served, not the requested range; a disconnect counts
		// what went out. HEAD probes and 416s serve nothing and don't count.
		h.Recorder.RecordAccess(book.ID, format, ident.ID, served)
	}
}

type SaveProgressRequest struct {
	Format   string `json:"format"`
	Position string `json:"position"`
}

type SaveProgressResponse struct {
	Success bool `json:"success"`
}

// SaveProgress accepts a reading-position update. Once the caller is
// authenticated and the book/format exist this always answers success:
// persistence happens off the critical path and its outcome is never
// surfaced as a user-facing failure.
func (h *BooksHandler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if h.Books == nil {
		http.Error(w, `{"error":"catalog unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"invalid book id"}`, http.StatusBadRequest)
		return
	}
	var req SaveProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	req.Format = strings.ToLower(req.Format)
	if !models.FormatValid(req.Format) {
		http.Error(w, `{"error":"unknown format"}`, http.StatusBadRequest)
		return
	}
	book, err := h.Books.BookByID(r.Context(), id)
	if err != nil || book == nil {
		http.Error(w, `{"error":"book not found"}`, http.StatusNotFound)
		return
	}
	if _, ok := book.File(req.Format); !ok {
		http.Error(w, `{"error":"format not found"}`, http.StatusNotFound)
		return
	}

	h.Recorder.RecordProgress(ident.ID, book.ID, req.Format, req.Position)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SaveProgressResponse{Success: true})
}

type ProgressResponse struct {
	Position  string `json:"position"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// GetProgress returns the caller's last stored position for the format, so a
// reader can reopen where it left off. Empty position when none is recorded.
func (h *BooksHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	book, format, ok := h.bookAndFormat(w, r)
	if !ok {
		return
	}
	resp := ProgressResponse{}
	if h.Progress != nil {
		p, err := h.Progress.ProgressFor(r.Context(), ident.ID, book.ID, format)
		if err != nil {
			log.Printf("progress: lookup failed: user=%s book=%s err=%v", ident.ID.Hex(), book.ID.Hex(), err)
		} else if p != nil {
			resp.Position = p.Position
			resp.UpdatedAt = p.UpdatedAt.UTC().Format(http.TimeFormat)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
