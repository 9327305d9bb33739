package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	mail "github.com/go-mail/mail/v2"
	"github.com/kitabi/backend/middleware"
	"github.com/kitabi/backend/models"
	"github.com/kitabi/backend/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SMTPConfig is the outbound mail account used for device delivery.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// SendHandler emails a book file to a reader's device (e.g. a Kindle
// address). It goes through the same permission evaluator and file locator as
// streaming, so mail delivery cannot leak a file the caller could not read.
type SendHandler struct {
	Books    BookStore
	Locator  *service.Locator
	Recorder *service.Recorder
	SMTP     SMTPConfig
}

type SendRequest struct {
	Format string `json:"format"`
	To     string `json:"to"`
}

func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if h.SMTP.Host == "" || h.Books == nil {
		http.Error(w, `{"error":"mail delivery not configured"}`, http.StatusServiceUnavailable)
		return
	}
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" {
		http.Error(w, `{"error":"recipient required"}`, http.StatusBadRequest)
		return
	}

	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error":"invalid book id"}`, http.StatusBadRequest)
		return
	}
	format := strings.ToLower(req.Format)
	if !models.FormatValid(format) {
		http.Error(w, `{"error":"unknown format"}`, http.StatusBadRequest)
		return
	}
	book, err := h.Books.BookByID(r.Context(), id)
	if err != nil || book == nil {
		http.Error(w, `{"error":"book not found"}`, http.StatusNotFound)
		return
	}
	decision := service.CanRead(ident, book, format)
	if !decision.Allowed() {
		writeDeny(w, denyStatus(decision), decision.Message())
		return
	}
	handle, err := h.Locator.Resolve(r.Context(), book, format)
	if err != nil {
		http.Error(w, `{"error":"file not found"}`, http.StatusNotFound)
		return
	}
	body, err := handle.Open(r.Context(), 0, handle.Size)
	if err != nil {
		http.Error(w, `{"error":"failed to load book file"}`, http.StatusInternalServerError)
		return
	}
	defer body.Close()

	ref, _ := book.File(format)
	attachName := ref.OriginalName
	if attachName == "" {
		attachName = book.Title + "." + format
	}

	m := mail.NewMessage()
	m.SetHeader("From", h.SMTP.From)
	m.SetHeader("To", req.To)
	m.SetHeader("Subject", book.Title)
	m.SetBody("text/plain", "Sent from Kitabi. Attachment: "+attachName)
	m.AttachReader(attachName, body)

	d := mail.NewDialer(h.SMTP.Host, h.SMTP.Port, h.SMTP.User, h.SMTP.Pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	if err := d.DialAndSend(m); err != nil {
		log.Printf("send: %v", err)
		http.Error(w, `{"error":"failed to send"}`, http.StatusInternalServerError)
		return
	}
	h.Recorder.RecordAccess(book.ID, format, ident.ID, handle.Size)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "sent", "to": req.To})
}
