package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"manualgraph/backend/internal/extract"
	"manualgraph/backend/internal/graph"
	"manualgraph/backend/internal/lifecycle"
	"manualgraph/backend/pkg/config"
	apperrors "manualgraph/backend/pkg/errors"
	"manualgraph/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting knowledge graph lifecycle server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	// Verify Neo4j connection
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	// Initialize dependencies
	store := graph.NewNeo4jStore(driver)
	retry := lifecycle.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MergeMaxAttempts
	coordinator := lifecycle.NewCoordinator(store, cfg.MergeBatchSize, retry, cfg.ResetToken)

	var extractor *extract.Client
	if cfg.ExtractorURL != "" {
		extractor = extract.NewClient(cfg.ExtractorURL, cfg.ExtractorAPIKey, cfg.ModelID)
	} else {
		log.Warn("No extractor configured, upload endpoint disabled")
	}

	// Optional background orphan sweep
	if cfg.SweepInterval > 0 {
		go coordinator.RunSweeper(ctx, cfg.SweepInterval)
	}

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(log, coordinator, extractor)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// mergeRequest is the body for merging already-extracted graphs
type mergeRequest struct {
	DocumentID    string               `json:"document_id"`
	Filename      string               `json:"filename" binding:"required"`
	Entities      []graph.Entity       `json:"entities"`
	Relationships []graph.Relationship `json:"relationships"`
}

// resetRequest is the body for the destructive reset endpoint
type resetRequest struct {
	ConfirmationToken string `json:"confirmation_token" binding:"required"`
}

func setupRouter(log *zap.Logger, coordinator *lifecycle.Coordinator, extractor *extract.Client) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		// List tracked documents
		api.GET("/documents", func(c *gin.Context) {
			docs, err := coordinator.ListDocuments(c.Request.Context())
			if err != nil {
				log.Error("Failed to list documents", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list documents"})
				return
			}
			if docs == nil {
				docs = []graph.DocumentSummary{}
			}
			c.JSON(http.StatusOK, docs)
		})

		// Preview what deleting a document would affect
		api.GET("/documents/:id/preview", func(c *gin.Context) {
			plan, err := coordinator.Preview(c.Request.Context(), c.Param("id"))
			if err != nil {
				if apperrors.IsNotFound(err) {
					c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
					return
				}
				log.Error("Failed to preview deletion", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to preview deletion"})
				return
			}
			c.JSON(http.StatusOK, plan)
		})

		// Delete a document's contribution from the graph
		api.DELETE("/documents/:id", func(c *gin.Context) {
			result, err := coordinator.Delete(c.Request.Context(), c.Param("id"))
			if err != nil {
				log.Error("Failed to delete document",
					zap.String("document_id", c.Param("id")),
					zap.Bool("rollback_performed", result != nil && result.RollbackPerformed),
					zap.Error(err),
				)
				status := http.StatusInternalServerError
				if apperrors.IsRetryable(err) {
					status = http.StatusServiceUnavailable
				}
				c.JSON(status, result)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// Merge an already-extracted graph for one document
		api.POST("/documents", func(c *gin.Context) {
			var req mergeRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if req.DocumentID == "" {
				req.DocumentID = uuid.NewString()
			}

			result, err := coordinator.MergeDocument(c.Request.Context(), req.DocumentID, req.Filename, req.Entities, req.Relationships)
			if err != nil {
				log.Error("Failed to merge document", zap.String("document_id", req.DocumentID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to merge document"})
				return
			}
			if len(result.FailedBatches) > 0 {
				c.JSON(http.StatusAccepted, result)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// Upload a raw manual: extract its graph, then merge it
		api.POST("/documents/upload", func(c *gin.Context) {
			if extractor == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No extractor configured"})
				return
			}

			filename := c.Query("filename")
			if filename == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "filename query parameter is required"})
				return
			}

			body, err := io.ReadAll(io.LimitReader(c.Request.Body, 10<<20))
			if err != nil || len(body) == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "empty or unreadable body"})
				return
			}

			text := string(body)
			if extract.LooksLikeHTML(body) {
				text, err = extract.HTMLText(strings.NewReader(string(body)))
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
			}

			entities, relationships, err := extractor.ExtractGraph(c.Request.Context(), text)
			if err != nil {
				log.Error("Extraction failed", zap.String("filename", filename), zap.Error(err))
				c.JSON(http.StatusBadGateway, gin.H{"error": "Extraction failed"})
				return
			}

			docID := uuid.NewString()
			result, err := coordinator.MergeDocument(c.Request.Context(), docID, filename, entities, relationships)
			if err != nil {
				log.Error("Failed to merge document", zap.String("document_id", docID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to merge document"})
				return
			}
			if len(result.FailedBatches) > 0 {
				c.JSON(http.StatusAccepted, result)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// On-demand orphan sweep
		api.POST("/maintenance/sweep", func(c *gin.Context) {
			result, err := coordinator.SweepOrphans(c.Request.Context())
			if err != nil {
				log.Error("Sweep failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Sweep failed"})
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// Destructive reset
		api.POST("/maintenance/reset", func(c *gin.Context) {
			var req resetRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			counts, err := coordinator.ResetAll(c.Request.Context(), req.ConfirmationToken)
			if err != nil {
				switch err {
				case lifecycle.ErrResetDisabled:
					c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				case lifecycle.ErrInvalidResetToken:
					c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
				default:
					log.Error("Reset failed", zap.Error(err))
					c.JSON(http.StatusInternalServerError, gin.H{"error": "Reset failed"})
				}
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"nodes_deleted":         counts.Documents + counts.Entities,
				"relationships_deleted": counts.Relationships,
			})
		})
	}

	return router
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
