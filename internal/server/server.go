package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"newsdigest/internal/config"
	"newsdigest/internal/ingest"
	"newsdigest/internal/scheduler"
	"newsdigest/internal/store"
	"newsdigest/internal/summarize"
)

const WelcomeMessage = "Welcome to the News Summarization API"

type API struct {
	cfg        config.Config
	store      *store.Store
	summarizer summarize.Summarizer
	scheduler  *scheduler.Scheduler
	progress   progressSource
	log        *zap.Logger
}

type progressSource interface {
	LastProgress() (string, time.Time)
	LastReport() *ingest.Report
}

// New wires the API. sched and progress may be nil, in which case the
// ingestion endpoints are not registered.
func New(cfg config.Config, st *store.Store, sum summarize.Summarizer, sched *scheduler.Scheduler, progress progressSource, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{cfg: cfg, store: st, summarizer: sum, scheduler: sched, progress: progress, log: log}
}

func (a *API) Routes() http.Handler {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(requestLogger(a.log.Named("http")))
	router.Use(cors.New(corsConfig(a.cfg.AllowedOrigins)))

	router.GET("/", a.handleRoot)
	router.GET("/healthz", a.handleHealth)

	router.GET("/news", a.handleListNews)
	router.GET("/news/category/:category", a.handleNewsByCategory)
	router.GET("/news/:id", a.handleGetNews)

	router.POST("/summaries", a.handleCreateSummary)
	router.POST("/summaries/", a.handleCreateSummary)
	router.GET("/summaries/:id", a.handleGetSummary)

	if a.scheduler != nil {
		router.POST("/ingest", a.handleIngest)
		router.GET("/ingest/status", a.handleIngestStatus)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			fields = append(fields, zap.String("error", errs.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

func respondJSON(c *gin.Context, code int, payload any) {
	c.JSON(code, payload)
}

// respondErr writes the error envelope. The underlying message is returned
// as-is, 500s included.
func respondErr(c *gin.Context, code int, err error) {
	if code >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(code, gin.H{"ok": 0, "code": code, "message": err.Error()})
}
