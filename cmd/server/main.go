package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/courierchat/courier/internal/config"
	"github.com/courierchat/courier/internal/database"
	postgresrepo "github.com/courierchat/courier/internal/repository/postgres"
	redisrepo "github.com/courierchat/courier/internal/repository/redis"
	"github.com/courierchat/courier/internal/service"
	"github.com/courierchat/courier/internal/transport/http/handlers"
	"github.com/courierchat/courier/internal/transport/http/middleware"
	"github.com/courierchat/courier/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	// Database
	pool, err := database.Connect(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	log.Println("Connected to database")

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer rdb.Close()
	log.Println("Connected to redis")

	// Repositories
	userRepo := postgresrepo.NewUserRepo(pool)
	convRepo := postgresrepo.NewConversationRepo(pool)
	msgRepo := postgresrepo.NewMessageRepo(pool)
	presenceRepo := redisrepo.NewPresenceRepo(rdb)

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	chatService := service.NewChatService(convRepo, msgRepo, userRepo, cfg.StoreTimeout)
	presenceService := service.NewPresenceService(presenceRepo, cfg.PresenceTTL)

	diskStore, err := service.NewDiskStore(cfg.UploadDir, "/uploads")
	if err != nil {
		log.Fatal(err)
	}
	uploadService := service.NewUploadService(diskStore, cfg.UploadMaxBytes)

	// WebSocket hub: the relay feeds it events, it feeds the relay actions.
	hub := ws.NewHub()
	hub.SetRelay(chatService)
	hub.SetPresence(presenceService)
	chatService.SetNotifier(ws.NewHubNotifier(hub))
	go hub.Run()

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	convHandler := handlers.NewConversationHandler(chatService)
	msgHandler := handlers.NewMessageHandler(chatService)
	uploadHandler := handlers.NewUploadHandler(uploadService, cfg.UploadMaxBytes)
	presenceHandler := handlers.NewPresenceHandler(presenceService)

	// Auth middleware
	auth := middleware.Auth(cfg.JWTSecret)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	// WebSocket (token via query param)
	mux.HandleFunc("GET /ws", ws.ServeWS(hub, cfg.JWTSecret))

	// Protected - Conversations
	mux.Handle("GET /api/v1/conversations", auth(http.HandlerFunc(convHandler.List)))
	mux.Handle("POST /api/v1/conversations", auth(http.HandlerFunc(convHandler.GetOrCreate)))
	mux.Handle("GET /api/v1/conversations/{id}/messages", auth(http.HandlerFunc(msgHandler.List)))
	mux.Handle("POST /api/v1/conversations/{id}/messages", auth(http.HandlerFunc(msgHandler.Send)))
	mux.Handle("POST /api/v1/conversations/{id}/read", auth(http.HandlerFunc(msgHandler.MarkRead)))

	// Protected - Uploads & presence
	mux.Handle("POST /api/v1/uploads", auth(http.HandlerFunc(uploadHandler.Upload)))
	mux.Handle("GET /api/v1/users/{id}/presence", auth(http.HandlerFunc(presenceHandler.Get)))

	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{Addr: addr, Handler: middleware.CORS(mux)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
