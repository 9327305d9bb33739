package handlers

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kitabi/backend/auth"
	"github.com/kitabi/backend/middleware"
	"github.com/kitabi/backend/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeCatalog struct {
	fakeBooks
}

func (f *fakeCatalog) InsertBook(ctx context.Context, book *models.Book) (primitive.ObjectID, error) {
	id := primitive.NewObjectID()
	book.ID = id
	f.fakeBooks[id] = book
	return id, nil
}

func (f *fakeCatalog) SetFileRef(ctx context.Context, id primitive.ObjectID, format string, ref models.FileRef) error {
	b, ok := f.fakeBooks[id]
	if !ok {
		return errors.New("not found")
	}
	b.DigitalFiles[format] = ref
	return nil
}

func uploadRequest(t *testing.T, token, bookID, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if bookID != "" {
		if err := mw.WriteField("bookId", bookID); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// Uploading a format that already has bytes on disk replaces the FileRef and
// deletes the superseded file, so replaced uploads don't pile up under the
// storage root.
func TestUploadReplacesPreviousFile(t *testing.T) {
	root := t.TempDir()
	cat := &fakeCatalog{fakeBooks: fakeBooks{}}
	tokens := auth.NewTokenService("test-secret", time.Hour)
	admin := &models.Identity{ID: primitive.NewObjectID(), Email: "admin@kitabi.com", Role: models.RoleAdmin, Status: models.StatusActive}
	token, _, err := tokens.Issue(admin)
	if err != nil {
		t.Fatal(err)
	}

	oldLocator := "books/old.epub"
	oldPath := filepath.Join(root, "books", "old.epub")
	if err := os.MkdirAll(filepath.Dir(oldPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(oldPath, []byte("old bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	bookID := primitive.NewObjectID()
	cat.fakeBooks[bookID] = &models.Book{
		ID: bookID, OwnerID: admin.ID, Title: "Test Book", Visibility: models.VisibilityPrivate,
		DigitalFiles: map[string]models.FileRef{
			models.FormatEPUB: {StorageLocator: oldLocator, SizeBytes: 9, Available: true},
		},
	}

	h := &UploadHandler{Catalog: cat, StorageRoot: root}
	r := chi.NewRouter()
	r.With(middleware.Auth(tokens)).Post("/api/upload", h.Upload)

	newContent := []byte("second edition bytes")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, token, bookID.Hex(), "replacement.epub", newContent))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	ref := cat.fakeBooks[bookID].DigitalFiles[models.FormatEPUB]
	if ref.StorageLocator == oldLocator || ref.StorageLocator == "" {
		t.Fatalf("locator not replaced: %q", ref.StorageLocator)
	}
	if !ref.Available || ref.SizeBytes != int64(len(newContent)) {
		t.Fatalf("ref = %+v", ref)
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(ref.StorageLocator)))
	if err != nil || !bytes.Equal(data, newContent) {
		t.Fatalf("stored bytes mismatch: err=%v", err)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("replaced file still on disk: err=%v", err)
	}
}

func TestUploadAdminOnly(t *testing.T) {
	cat := &fakeCatalog{fakeBooks: fakeBooks{}}
	tokens := auth.NewTokenService("test-secret", time.Hour)
	reader := &models.Identity{ID: primitive.NewObjectID(), Email: "reader@kitabi.com", Role: models.RoleUser, Status: models.StatusActive}
	token, _, err := tokens.Issue(reader)
	if err != nil {
		t.Fatal(err)
	}

	h := &UploadHandler{Catalog: cat, StorageRoot: t.TempDir()}
	r := chi.NewRouter()
	r.With(middleware.Auth(tokens)).Post("/api/upload", h.Upload)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, token, "", "book.epub", []byte("x")))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}
