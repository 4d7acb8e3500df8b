package api

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// RuleHistory returns the recent context window the rule's evaluations
// draw from. Trigger history itself is not persisted, so the endpoint
// exposes what the engine would currently see.
func (s *Server) RuleHistory(c *gin.Context) {
	ruleID := c.Param("id")
	rule, err := s.rules.Get(c.Request.Context(), ruleID)
	if errors.Is(err, storage.ErrNotFound) {
		respondNotFound(c, "rule not found")
		return
	}
	if err != nil {
		s.respondInternal(c, err)
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	contextKey := c.Query("context_key")
	if contextKey == "" && len(rule.EventTypes) > 0 {
		// Default context key mirrors event ingestion defaults.
		contextKey = rule.EventTypes[0]
	}

	entries, err := s.contexts.Get(c.Request.Context(), contextKey, limit)
	if err != nil {
		s.respondInternal(c, err)
		return
	}
	respondOK(c, gin.H{
		"rule_id":     ruleID,
		"context_key": contextKey,
		"entries":     entries,
		"total":       len(entries),
	})
}
