package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kitabi/backend/auth"
	"github.com/kitabi/backend/config"
	"github.com/kitabi/backend/handlers"
	"github.com/kitabi/backend/middleware"
	"github.com/kitabi/backend/service"
	"github.com/kitabi/backend/store"
)

func main() {
	_ = godotenv.Load()
	config.ValidateEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config:", err)
	}

	ctx := context.Background()

	var db *store.DB
	if cfg.MongoURI != "" {
		db, err = store.NewMongoDB(ctx, cfg.MongoURI, cfg.DBName)
		if err != nil {
			log.Fatal("mongodb:", err)
		}
		defer func() {
			if err := db.Disconnect(context.Background()); err != nil {
				log.Println("mongodb disconnect:", err)
			}
		}()
		if err := db.EnsureIndexes(ctx); err != nil {
			log.Println("mongodb indexes:", err)
		}
	} else {
		log.Println("warning: MONGODB_URI not set; serving the demo identity set only")
	}

	var s3Service *service.S3Service
	if cfg.S3Bucket != "" {
		s3Service, err = service.NewS3Service(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3AccessKeyID, cfg.S3SecretKey)
		if err != nil {
			log.Fatal("s3:", err)
		}
	}

	locator, err := service.NewLocator(cfg.StorageRoot, s3Service)
	if err != nil {
		log.Fatal("storage root:", err)
	}

	// Counters go to Redis when it is up (hot path, HINCRBY); otherwise the
	// Mongo $inc path carries them. Progress always lives in Mongo.
	var counters service.CounterStore
	var progress service.ProgressStore
	var progressReader handlers.ProgressReader
	if cfg.RedisAddr != "" {
		if rc := store.NewRedisCounters(cfg.RedisAddr); rc != nil {
			counters = rc
			log.Println("usage counters on redis", cfg.RedisAddr)
		} else {
			log.Println("warning: redis unreachable at", cfg.RedisAddr)
		}
	}
	if db != nil {
		if counters == nil {
			counters = db
		}
		progress = db
		progressReader = db
	}
	recorder := service.NewRecorder(counters, progress)
	defer recorder.Close()

	provider := auth.NewProvider(db)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	authHandler := &handlers.AuthHandler{Provider: provider, Tokens: tokens}
	usersHandler := &handlers.UsersHandler{DB: db}
	booksHandler := &handlers.BooksHandler{
		Books:    bookStoreOrNil(db),
		Locator:  locator,
		Recorder: recorder,
		Progress: progressReader,
	}
	uploadHandler := &handlers.UploadHandler{
		Catalog:     catalogOrNil(db),
		S3:          s3Service,
		StorageRoot: cfg.StorageRoot,
		MaxBytes:    cfg.MaxUploadMB * 1024 * 1024,
	}
	sendHandler := &handlers.SendHandler{
		Books:    bookStoreOrNil(db),
		Locator:  locator,
		Recorder: recorder,
		SMTP: handlers.SMTPConfig{
			Host: cfg.SMTPHost, Port: cfg.SMTPPort,
			User: cfg.SMTPUser, Pass: cfg.SMTPPass, From: cfg.SMTPFrom,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.AllowAll())
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"welcome to kitabi."}`))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.Refresh)
		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokens))
			r.Get("/auth/me", authHandler.Me)
			r.Post("/upload", uploadHandler.Upload)
			r.Post("/users", usersHandler.CreateUser)
			r.Patch("/users/{id}/status", usersHandler.SetStatus)
			r.Get("/books/{id}/metadata/{format}", booksHandler.Metadata)
			r.Get("/books/{id}/read/{format}", booksHandler.Read)
			r.Head("/books/{id}/read/{format}", booksHandler.Read)
			r.Post("/books/{id}/progress", booksHandler.SaveProgress)
			r.Get("/books/{id}/progress/{format}", booksHandler.GetProgress)
			r.Post("/books/{id}/send", sendHandler.Send)
		})
	})

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Println("server listening on :" + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Println("shutdown:", err)
	}
}

// bookStoreOrNil keeps a typed nil out of the BookStore interface when no
// persistent store is configured.
func bookStoreOrNil(db *store.DB) handlers.BookStore {
	if db == nil {
		return nil
	}
	return db
}

func catalogOrNil(db *store.DB) handlers.Catalog {
	if db == nil {
		return nil
	}
	return db
}
