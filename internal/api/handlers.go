package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nimbusmail/mailsync/internal/models"
	"github.com/nimbusmail/mailsync/internal/provider"
	"github.com/nimbusmail/mailsync/internal/search"
	"github.com/nimbusmail/mailsync/internal/store"
)

func userID(c *gin.Context) string {
	return c.GetString("user_id")
}

// account authorizes the :id path parameter against the caller. Accounts
// belonging to other users are indistinguishable from missing ones.
func (s *Server) account(c *gin.Context) (*models.Account, bool) {
	acct, err := s.store.GetAccountForUser(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return acct, true
}

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.store.ListAccounts(c.Request.Context(), userID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (s *Server) createAccount(c *gin.Context) {
	var req struct {
		ID           string `json:"id"`
		EmailAddress string `json:"emailAddress" binding:"required"`
		Name         string `json:"name"`
		AccessToken  string `json:"accessToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	acct := &models.Account{
		ID:           req.ID,
		UserID:       userID(c),
		AccessToken:  req.AccessToken,
		EmailAddress: req.EmailAddress,
		Name:         req.Name,
	}
	if err := s.store.CreateAccount(c.Request.Context(), acct); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (s *Server) getThreads(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}

	tab := c.DefaultQuery("tab", "inbox")
	switch tab {
	case "inbox", "draft", "sent", "trash", "junk":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tab " + tab})
		return
	}
	done := c.Query("done") == "true"
	page := atoiDefault(c.Query("page"), 1)
	pageSize := atoiDefault(c.Query("pageSize"), 15)

	threads, totalPages, err := s.store.ThreadsPage(c.Request.Context(), acct.ID, tab, done, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"threads":    threads,
		"totalPages": totalPages,
	})
}

func (s *Server) getThreadsCount(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}
	counts, err := s.store.ThreadCounts(c.Request.Context(), acct.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) setThreadDone(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}

	var req struct {
		Done bool `json:"done"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	thread, err := s.store.GetThread(c.Request.Context(), c.Param("threadId"))
	if err != nil || thread.AccountID != acct.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}

	if err := s.store.SetThreadDone(c.Request.Context(), thread.ID, req.Done); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": thread.ID, "done": req.Done})
}

// replyDetails carries everything a compose box needs to reply to the
// latest external message on a thread.
type replyDetails struct {
	Subject   string             `json:"subject"`
	From      provider.Address   `json:"from"`
	To        []provider.Address `json:"to"`
	Cc        []provider.Address `json:"cc"`
	InReplyTo string             `json:"inReplyTo"`
	ThreadID  string             `json:"threadId"`
}

func (s *Server) getReplyDetails(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}
	replyAll := c.Query("type") == "replyAll"

	ctx := c.Request.Context()
	thread, err := s.store.GetThread(ctx, c.Param("threadId"))
	if err != nil || thread.AccountID != acct.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
		return
	}

	emails, err := s.store.ListThreadEmails(ctx, thread.ID, "sent_at")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(emails) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread has no emails"})
		return
	}

	// Reply targets the last message not sent by the account owner,
	// falling back to the last message overall.
	last := emails[len(emails)-1]
	for i := len(emails) - 1; i >= 0; i-- {
		from, err := s.store.GetEmailAddress(ctx, emails[i].FromID)
		if err == nil && from.Address != acct.EmailAddress {
			last = emails[i]
			break
		}
	}

	details := replyDetails{
		Subject:   last.Subject,
		From:      provider.Address{Name: acct.Name, Address: acct.EmailAddress},
		InReplyTo: last.InternetMessageID,
		ThreadID:  thread.ID,
	}

	if from, err := s.store.GetEmailAddress(ctx, last.FromID); err == nil && from.Address != acct.EmailAddress {
		details.To = append(details.To, provider.Address{Name: from.Name, Address: from.Address})
	}
	if replyAll {
		details.To = append(details.To, s.resolveAddresses(c, last.ToIDs, acct.EmailAddress)...)
		details.Cc = s.resolveAddresses(c, last.CcIDs, acct.EmailAddress)
	}
	if details.Cc == nil {
		details.Cc = []provider.Address{}
	}

	c.JSON(http.StatusOK, details)
}

// resolveAddresses maps stored address ids to wire addresses, dropping
// the account owner and any id that no longer resolves.
func (s *Server) resolveAddresses(c *gin.Context, ids []string, selfAddress string) []provider.Address {
	out := make([]provider.Address, 0, len(ids))
	for _, id := range ids {
		addr, err := s.store.GetEmailAddress(c.Request.Context(), id)
		if err != nil {
			log.Printf("api: resolving address %s: %v", id, err)
			continue
		}
		if addr.Address == selfAddress {
			continue
		}
		out = append(out, provider.Address{Name: addr.Name, Address: addr.Address})
	}
	return out
}

// searchResult is one hybrid-ranked hit joined with its thread row.
type searchResult struct {
	Document search.Document `json:"document"`
	Score    float64         `json:"score"`
	Thread   *models.Thread  `json:"thread,omitempty"`
}

func (s *Server) searchEmail(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}
	page := atoiDefault(c.Query("page"), 1)
	pageSize := atoiDefault(c.Query("pageSize"), 10)
	if pageSize < 1 {
		pageSize = 10
	}

	ctx := c.Request.Context()
	idx := search.NewClient(s.store, s.embedder, acct.ID)
	if err := idx.Initialize(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Fetch enough hits to page through; the index caps ranking work at
	// this bound rather than re-querying per page.
	const maxHits = 100
	hits := idx.VectorSearch(ctx, query, maxHits)

	totalPages := (len(hits) + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > len(hits) {
		start = len(hits)
	}
	end := start + pageSize
	if end > len(hits) {
		end = len(hits)
	}
	pageHits := hits[start:end]

	threadIDs := make([]string, 0, len(pageHits))
	seen := make(map[string]bool)
	for _, hit := range pageHits {
		if !seen[hit.Document.ThreadID] {
			seen[hit.Document.ThreadID] = true
			threadIDs = append(threadIDs, hit.Document.ThreadID)
		}
	}
	threads, err := s.store.GetThreadsByIDs(ctx, acct.ID, threadIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	byID := make(map[string]*models.Thread, len(threads))
	for i := range threads {
		byID[threads[i].ID] = &threads[i]
	}

	results := make([]searchResult, 0, len(pageHits))
	for _, hit := range pageHits {
		results = append(results, searchResult{
			Document: hit.Document,
			Score:    hit.Score,
			Thread:   byID[hit.Document.ThreadID],
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"results":    results,
		"totalPages": totalPages,
	})
}

func (s *Server) getSuggestions(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}
	addrs, err := s.store.ListEmailAddresses(c.Request.Context(), acct.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": addrs})
}

func (s *Server) sendEmail(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}

	var req provider.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.From.Address == "" {
		req.From = provider.Address{Name: acct.Name, Address: acct.EmailAddress}
	}
	if len(req.To) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing recipients"})
		return
	}

	resp, err := s.provider.SendMessage(c.Request.Context(), acct.AccessToken, &req)
	if err != nil {
		var perr *provider.ProviderError
		if errors.As(err, &perr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": perr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) syncNow(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}
	count, err := s.runner.SyncAccount(c.Request.Context(), acct.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"synced": count})
}

func (s *Server) startSync(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}
	// The sync loop outlives this request.
	if err := s.manager.StartSync(context.Background(), acct.ID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accountId": acct.ID, "running": true})
}

func (s *Server) stopSync(c *gin.Context) {
	acct, ok := s.account(c)
	if !ok {
		return
	}
	if err := s.manager.StopSync(acct.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accountId": acct.ID, "running": false})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
