package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kitabi/backend/auth"
	"github.com/kitabi/backend/middleware"
	"github.com/kitabi/backend/models"
	"github.com/kitabi/backend/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeBooks map[primitive.ObjectID]*models.Book

func (f fakeBooks) BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	b, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

type memCounters struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (m *memCounters) IncrementDownload(ctx context.Context, bookID primitive.ObjectID, format string, n int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int64{}
	}
	m.counts[bookID.Hex()+"/"+format] += n
	return nil
}

func (m *memCounters) count(bookID primitive.ObjectID, format string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[bookID.Hex()+"/"+format]
}

type failingProgress struct{}

func (failingProgress) UpsertProgress(ctx context.Context, p *models.ReadingProgress) error {
	return errors.New("progress store down")
}

type testEnv struct {
	router   chi.Router
	tokens   *auth.TokenService
	recorder *service.Recorder
	counters *memCounters
	books    fakeBooks
	root     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	locator, err := service.NewLocator(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	counters := &memCounters{}
	recorder := service.NewRecorder(counters, failingProgress{})
	t.Cleanup(recorder.Close)

	books := fakeBooks{}
	tokens := auth.NewTokenService("test-secret", time.Hour)
	provider := auth.NewProvider(nil)

	authHandler := &AuthHandler{Provider: provider, Tokens: tokens}
	booksHandler := &BooksHandler{Books: books, Locator: locator, Recorder: recorder}

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokens))
			r.Get("/books/{id}/metadata/{format}", booksHandler.Metadata)
			r.Get("/books/{id}/read/{format}", booksHandler.Read)
			r.Post("/books/{id}/progress", booksHandler.SaveProgress)
		})
	})
	return &testEnv{router: r, tokens: tokens, recorder: recorder, counters: counters, books: books, root: root}
}

// addBook registers a book whose epub bytes exist under the storage root.
func (e *testEnv) addBook(t *testing.T, owner primitive.ObjectID, visibility string, size int, available bool) *models.Book {
	t.Helper()
	id := primitive.NewObjectID()
	locator := "books/" + id.Hex() + ".epub"
	if size > 0 {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i % 256)
		}
		path := filepath.Join(e.root, filepath.FromSlash(locator))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	book := &models.Book{
		ID: id, OwnerID: owner, Title: "Test Book", Visibility: visibility,
		DigitalFiles: map[string]models.FileRef{
			models.FormatEPUB: {StorageLocator: locator, SizeBytes: int64(size), Available: available},
		},
	}
	e.books[id] = book
	return book
}

func (e *testEnv) login(t *testing.T, email, password string) (token string, ident *models.Identity) {
	t.Helper()
	body, _ := json.Marshal(LoginRequest{Email: email, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", email, w.Code, w.Body.String())
	}
	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("login response: %v", err)
	}
	if !resp.DemoMode {
		t.Fatalf("login without a persistent store must report demoMode")
	}
	return resp.Token, resp.Identity
}

func (e *testEnv) do(method, path, token, rangeHeader string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestLoginDemoModeAndFailures(t *testing.T) {
	e := newTestEnv(t)

	e.login(t, "admin@kitabi.com", "admin123") // asserts demoMode internally

	body, _ := json.Marshal(LoginRequest{Email: "admin@kitabi.com", Password: "wrong"})
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password: status = %d, want 401", w.Code)
	}

	body, _ = json.Marshal(LoginRequest{Email: "suspended@kitabi.com", Password: "suspended123"})
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
	if w.Code != http.StatusForbidden {
		t.Errorf("suspended: status = %d, want 403", w.Code)
	}
}

func TestReadRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	book := e.addBook(t, primitive.NewObjectID(), models.VisibilityPublic, 100, true)

	if w := e.do(http.MethodGet, "/api/books/"+book.ID.Hex()+"/read/epub", "", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}
	if w := e.do(http.MethodGet, "/api/books/"+book.ID.Hex()+"/read/epub", "garbage", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d, want 401", w.Code)
	}
}

// Private book, owner U1: a non-owner non-admin gets 403 before any storage
// access; the owner streams bytes.
func TestPrivateBookOwnerScenario(t *testing.T) {
	e := newTestEnv(t)
	ownerToken, ownerIdent := e.login(t, "reader@kitabi.com", "reader123")
	book := e.addBook(t, ownerIdent.ID, models.VisibilityPrivate, 1000, true)
	path := "/api/books/" + book.ID.Hex() + "/read/epub"

	stranger := &models.Identity{ID: primitive.NewObjectID(), Email: "u2@kitabi.com", Role: models.RoleUser, Status: models.StatusActive}
	strangerToken, _, err := e.tokens.Issue(stranger)
	if err != nil {
		t.Fatal(err)
	}

	w := e.do(http.MethodGet, path, strangerToken, "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("stranger: status = %d, want 403: %s", w.Code, w.Body.String())
	}
	var deny DenyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &deny); err != nil || deny.Success {
		t.Fatalf("deny body = %s", w.Body.String())
	}

	w = e.do(http.MethodGet, path, ownerToken, "bytes=0-99", nil)
	if w.Code != http.StatusPartialContent {
		t.Fatalf("owner: status = %d, want 206: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Range"); got != "bytes 0-99/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if w.Body.Len() != 100 {
		t.Errorf("body = %d bytes, want 100", w.Body.Len())
	}

	adminToken, _ := e.login(t, "admin@kitabi.com", "admin123")
	if w := e.do(http.MethodGet, path, adminToken, "", nil); w.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", w.Code)
	}
}

func TestMetadataAvailabilityProbes(t *testing.T) {
	e := newTestEnv(t)
	ownerToken, ownerIdent := e.login(t, "reader@kitabi.com", "reader123")
	pending := e.addBook(t, ownerIdent.ID, models.VisibilityPrivate, 0, false)
	path := "/api/books/" + pending.ID.Hex() + "/metadata/epub"

	// Owner probing an unavailable format sees available:false, not a 404.
	w := e.do(http.MethodGet, path, ownerToken, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner probe: status = %d: %s", w.Code, w.Body.String())
	}
	var meta MetadataResponse
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Available {
		t.Error("owner probe: available = true, want false")
	}

	stranger := &models.Identity{ID: primitive.NewObjectID(), Role: models.RoleUser, Status: models.StatusActive}
	strangerToken, _, err := e.tokens.Issue(stranger)
	if err != nil {
		t.Fatal(err)
	}
	if w := e.do(http.MethodGet, path, strangerToken, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("stranger on unavailable format: status = %d, want 404", w.Code)
	}
}

// Metadata says available but the bytes are missing: the endpoint must fail
// closed with an error status, never a 200 with empty or corrupt content.
func TestReadFailsClosedOnUnresolvableLocator(t *testing.T) {
	e := newTestEnv(t)
	token, ident := e.login(t, "reader@kitabi.com", "reader123")
	book := e.addBook(t, ident.ID, models.VisibilityPublic, 0, true) // size 0: no file written

	w := e.do(http.MethodGet, "/api/books/"+book.ID.Hex()+"/read/epub", token, "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if w.Code == http.StatusOK {
		t.Fatal("served a 200 for unresolvable storage")
	}
}

// The progress endpoint answers success whenever the caller is authenticated
// and the book/format exist, even though the backing store is failing.
func TestSaveProgressHidesPersistenceFailures(t *testing.T) {
	e := newTestEnv(t)
	token, ident := e.login(t, "reader@kitabi.com", "reader123")
	book := e.addBook(t, ident.ID, models.VisibilityPublic, 100, true)

	body, _ := json.Marshal(SaveProgressRequest{Format: "epub", Position: "epubcfi(/6/4!/4/2)"})
	w := e.do(http.MethodPost, "/api/books/"+book.ID.Hex()+"/progress", token, "", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp SaveProgressResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || !resp.Success {
		t.Fatalf("body = %s", w.Body.String())
	}

	// Unknown book is still a 404; that part is the caller's fault.
	w = e.do(http.MethodPost, "/api/books/"+primitive.NewObjectID().Hex()+"/progress", token, "", body)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown book: status = %d, want 404", w.Code)
	}
}

func TestReadRecordsUsage(t *testing.T) {
	e := newTestEnv(t)
	token, ident := e.login(t, "reader@kitabi.com", "reader123")
	book := e.addBook(t, ident.ID, models.VisibilityPublic, 500, true)
	path := "/api/books/" + book.ID.Hex() + "/read/epub"

	const reads = 3
	for i := 0; i < reads; i++ {
		if w := e.do(http.MethodGet, path, token, "", nil); w.Code != http.StatusOK {
			t.Fatalf("read %d: status = %d", i, w.Code)
		}
	}
	e.recorder.Close()

	if got := e.counters.count(book.ID, models.FormatEPUB); got != reads {
		t.Fatalf("download count = %d, want %d", got, reads)
	}
}
