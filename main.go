package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"chatcal-cloud/calendar"
	"chatcal-cloud/line"
	"chatcal-cloud/security"
	"chatcal-cloud/streams"
	"chatcal-cloud/webhook"
)

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Service string `json:"service"`
}

const VERSION = "0.0.1"

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	log.Println("Starting chatcal cloud server...")

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()
	redisClient, err := streams.Init(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")

	// Token lifecycle + calendar gateway
	credentialStore := security.NewCredentialStore(redisClient)
	tokenManager := security.NewTokenManager(redisClient, credentialStore, security.OAuthSettings{
		ClientID:       cfg.GoogleClientID,
		ClientSecret:   cfg.GoogleClientSecret,
		RedirectURL:    cfg.OAuthRedirectURL,
		InstallationID: cfg.InstallationID,
	})

	gateway, err := calendar.NewGateway(tokenManager, calendar.GatewayOptions{
		CalendarID: cfg.CalendarID,
		TimeZone:   cfg.TimeZone,
	})
	if err != nil {
		log.Fatalf("Failed to init calendar gateway: %v", err)
	}

	// Chat platform edge + webhook dispatcher
	lineClient := line.NewClient(cfg.ChannelAccessToken, cfg.LineAPIBase)
	eventLog := streams.NewEventLog(redisClient)

	dispatcher := webhook.NewDispatcher(eventLog)
	dispatcher.Register(line.EventTypeMessage, webhook.NewCalendarMessageHandler(gateway, lineClient, gateway.Location()))
	membership := webhook.NewMembershipHandler(lineClient)
	dispatcher.Register(line.EventTypeJoin, membership)
	dispatcher.Register(line.EventTypeFollow, membership)
	dispatcher.Register(line.EventTypeLeave, membership)
	dispatcher.Register(line.EventTypeUnfollow, membership)

	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/healthz", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	registerWebhookRoutes(r, cfg.ChannelSecret, dispatcher)
	registerOAuthRoutes(r, tokenManager)
	registerOpsRoutes(r, eventLog, gateway)

	// Configure server
	srv := &http.Server{
		Handler:      r,
		Addr:         "0.0.0.0:" + cfg.Port,
		WriteTimeout: parseDurationOrDefault(os.Getenv("SERVER_WRITE_TIMEOUT"), 60*time.Second),
		ReadTimeout:  parseDurationOrDefault(os.Getenv("SERVER_READ_TIMEOUT"), 60*time.Second),
	}

	log.Printf("chatcal cloud server v%s starting on %s", VERSION, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := HealthResponse{
		OK:      true,
		Version: VERSION,
		Service: "chatcal-cloud",
	}

	json.NewEncoder(w).Encode(response)
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]string{
		"message": "chatcal cloud relay",
		"version": VERSION,
		"webhook": "/webhook",
	}

	json.NewEncoder(w).Encode(response)
}
