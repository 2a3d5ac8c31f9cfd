package main

import (
	"log"
	"net/http"

	"commodity-tracker/internal/api"
	"commodity-tracker/internal/config"
	"commodity-tracker/internal/database"
	"commodity-tracker/internal/ingest"
	"commodity-tracker/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	var stores store.Stores
	switch cfg.Storage {
	case "memory":
		log.Println("Using in-memory storage (data is lost on restart)")
		stores = store.NewMemoryStores()
	default:
		db, err := database.Initialize(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		stores = store.NewGormStores(db)
	}

	hub := api.NewHub()
	detector := ingest.NewDetector(cfg.PriceTolerance)
	pipeline := ingest.NewPipeline(stores, detector, hub)
	coordinator := ingest.NewCoordinator(stores, pipeline, cfg.BatchWorkers)

	// Initialize Gin router
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Live change feed
	r.GET("/ws", hub.ServeWS)

	// API routes
	apiGroup := r.Group("/api/v1")
	api.SetupRoutes(apiGroup, stores, coordinator)

	log.Printf("Server starting on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
