package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kitabi/backend/middleware"
	"github.com/kitabi/backend/models"
	"github.com/kitabi/backend/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// extFormats maps upload extensions to digital formats.
var extFormats = map[string]string{
	".epub": models.FormatEPUB,
	".pdf":  models.FormatPDF,
	".mobi": models.FormatMOBI,
	".txt":  models.FormatTXT,
	".mp3":  models.FormatAudiobook,
}

// Catalog is the write side of the book store that ingestion needs.
type Catalog interface {
	BookStore
	InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error)
	SetFileRef(ctx context.Context, id primitive.ObjectID, format string, ref models.FileRef) error
}

// UploadHandler is the ingestion collaborator: it stores the bytes durably
// and registers the FileRef, flipping available to true only once both have
// succeeded. Delivery never serves a format this handler has not finished.
type UploadHandler struct {
	Catalog     Catalog
	S3          *service.S3Service // preferred destination when configured
	StorageRoot string
	MaxBytes    int64
}

type UploadResponse struct {
	ID     string `json:"id"`
	Format string `json:"format"`
	Title  string `json:"title,omitempty"`
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if ident.Role != models.RoleAdmin {
		http.Error(w, `{"error":"admin only"}`, http.StatusForbidden)
		return
	}
	if h.Catalog == nil {
		http.Error(w, `{"error":"ingestion requires the persistent store"}`, http.StatusServiceUnavailable)
		return
	}

	if h.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, `{"error":"failed to parse multipart form"}`, http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, `{"error":"missing file"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(header.Filename)))
	format, ok := extFormats[ext]
	if !ok {
		http.Error(w, `{"error":"unsupported file type"}`, http.StatusBadRequest)
		return
	}

	book, err := h.targetBook(r, ident)
	if err != nil {
		http.Error(w, `{"error":"book not found"}`, http.StatusNotFound)
		return
	}

	locator, size, err := h.storeBytes(r, header.Filename, format, file)
	if err != nil {
		http.Error(w, `{"error":"failed to store file"}`, http.StatusInternalServerError)
		return
	}

	ref := models.FileRef{
		StorageLocator: locator,
		SizeBytes:      size,
		Available:      true,
		OriginalName:   header.Filename,
	}
	prev, replacing := book.File(format)
	if err := h.Catalog.SetFileRef(r.Context(), book.ID, format, ref); err != nil {
		http.Error(w, `{"error":"failed to save book record"}`, http.StatusInternalServerError)
		return
	}
	if replacing && prev.StorageLocator != "" && prev.StorageLocator != ref.StorageLocator {
		h.removeStored(r.Context(), prev.StorageLocator)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(UploadResponse{ID: book.ID.Hex(), Format: format, Title: book.Title})
}

// targetBook resolves the bookId form field, or creates a new private book
// owned by the uploader when none is given.
func (h *UploadHandler) targetBook(r *http.Request, ident *models.Identity) (*models.Book, error) {
	if idStr := r.FormValue("bookId"); idStr != "" {
		id, err := primitive.ObjectIDFromHex(idStr)
		if err != nil {
			return nil, err
		}
		return h.Catalog.BookByID(r.Context(), id)
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = "Untitled"
	}
	visibility := strings.TrimSpace(r.FormValue("visibility"))
	if visibility != models.VisibilityPublic && visibility != models.VisibilityPrivate {
		visibility = models.VisibilityPending
	}
	book := &models.Book{
		OwnerID:      ident.ID,
		Title:        title,
		Visibility:   visibility,
		DigitalFiles: map[string]models.FileRef{},
		CreatedAt:    time.Now(),
	}
	id, err := h.Catalog.InsertBook(r.Context(), book)
	if err != nil {
		return nil, err
	}
	book.ID = id
	return book, nil
}

// removeStored deletes the bytes behind a replaced locator. The FileRef
// already points at the new upload, so a failure here only leaks storage;
// it is logged, never surfaced.
func (h *UploadHandler) removeStored(ctx context.Context, locator string) {
	if strings.HasPrefix(locator, "s3://") {
		if h.S3 == nil {
			return
		}
		if err := h.S3.Delete(ctx, strings.TrimPrefix(locator, "s3://")); err != nil {
			log.Printf("upload: failed to delete replaced object: locator=%q err=%v", locator, err)
		}
		return
	}
	root, err := filepath.Abs(h.StorageRoot)
	if err != nil {
		return
	}
	path := filepath.Clean(filepath.Join(root, filepath.FromSlash(locator)))
	if !strings.HasPrefix(path, root+string(os.PathSeparator)) {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("upload: failed to delete replaced file: locator=%q err=%v", locator, err)
	}
}

// storeBytes writes the upload to S3 when configured, else under the local
// storage root. The locator it returns is what the file locator later
// resolves; local names are generated, never taken from the client, so they
// cannot escape the root.
func (h *UploadHandler) storeBytes(r *http.Request, filename, format string, file io.Reader) (locator string, size int64, err error) {
	if h.S3 != nil {
		key, err := h.S3.Upload(r.Context(), "books/", filename, file, service.ContentTypeFor(format))
		if err != nil {
			return "", 0, err
		}
		size, _, err := h.S3.Head(r.Context(), key)
		if err != nil {
			return "", 0, err
		}
		return "s3://" + key, size, nil
	}

	name := "books/" + uuid.New().String() + strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(h.StorageRoot, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, err
	}
	out, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()
	n, err := io.Copy(out, file)
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return name, n, nil
}
