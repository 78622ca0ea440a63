package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nimbusmail/mailsync/internal/auth"
	"github.com/nimbusmail/mailsync/internal/embeddings"
	"github.com/nimbusmail/mailsync/internal/provider"
	"github.com/nimbusmail/mailsync/internal/store"
	syncer "github.com/nimbusmail/mailsync/internal/sync"
)

// Server is the HTTP query surface over the sync pipeline's output.
type Server struct {
	store    *store.Store
	runner   *syncer.Runner
	manager  *syncer.Manager
	provider *provider.Client
	embedder embeddings.Embedder
	verifier *auth.JWTVerifier
}

// NewServer wires the API. verifier may be nil, in which case requests
// authenticate with an X-User-ID header (local development only).
func NewServer(st *store.Store, runner *syncer.Runner, manager *syncer.Manager, pc *provider.Client, embedder embeddings.Embedder, verifier *auth.JWTVerifier) *Server {
	return &Server{
		store:    st,
		runner:   runner,
		manager:  manager,
		provider: pc,
		embedder: embedder,
		verifier: verifier,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	api.Use(s.authMiddleware())

	api.GET("/accounts", s.listAccounts)
	api.POST("/accounts", s.createAccount)

	accounts := api.Group("/accounts/:id")
	{
		accounts.GET("/threads", s.getThreads)
		accounts.GET("/threads/count", s.getThreadsCount)
		accounts.POST("/threads/:threadId/done", s.setThreadDone)
		accounts.GET("/threads/:threadId/reply", s.getReplyDetails)
		accounts.GET("/search", s.searchEmail)
		accounts.GET("/suggestions", s.getSuggestions)
		accounts.POST("/messages", s.sendEmail)
		accounts.POST("/sync", s.syncNow)
		accounts.POST("/sync/start", s.startSync)
		accounts.POST("/sync/stop", s.stopSync)
	}

	return r
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.verifier == nil {
			userID := c.GetHeader("X-User-ID")
			if userID == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
				c.Abort()
				return
			}
			c.Set("user_id", userID)
			c.Next()
			return
		}

		user, err := s.verifier.UserFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("user_id", user.ID)
		c.Next()
	}
}
