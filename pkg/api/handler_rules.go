package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/tripwire/pkg/models"
	"github.com/codeready-toolchain/tripwire/pkg/storage"
)

// generateRuleID produces rule IDs of the form rule_20260101_a1b2c3d4.
func generateRuleID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("rule_%s_%s", now.UTC().Format("20060102"), suffix)
}

// CreateRule persists a new rule after validation.
func (s *Server) CreateRule(c *gin.Context) {
	var rule models.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		respondBadRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	if errs := rule.Validate(); len(errs) > 0 {
		respondValidationErrors(c, errs)
		return
	}
	if errs := s.validateExpressions(&rule); len(errs) > 0 {
		respondValidationErrors(c, errs)
		return
	}

	now := time.Now().UTC()
	if rule.RuleID == "" {
		rule.RuleID = generateRuleID(now)
	}
	rule.Metadata.CreatedAt = now
	rule.Metadata.UpdatedAt = now
	rule.Metadata.Version = 1

	if err := s.rules.Create(c.Request.Context(), &rule); err != nil {
		s.respondInternal(c, err)
		return
	}
	s.logger.Info("Rule created", "rule_id", rule.RuleID, "name", rule.Name)
	respondCreated(c, rule)
}

// ListRules returns rules sorted by descending priority, optionally
// filtered by event_type and enabled, paginated, together with the
// global rules version so clients can cache-bust on it.
func (s *Server) ListRules(c *gin.Context) {
	rules, err := s.rules.ListAll(c.Request.Context())
	if err != nil {
		s.respondInternal(c, err)
		return
	}
	version, err := s.rules.Version(c.Request.Context())
	if err != nil {
		s.respondInternal(c, err)
		return
	}

	if eventType := c.Query("event_type"); eventType != "" {
		filtered := rules[:0]
		for _, rule := range rules {
			if rule.MatchesEventType(eventType) {
				filtered = append(filtered, rule)
			}
		}
		rules = filtered
	}
	if enabledStr := c.Query("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			respondBadRequest(c, "enabled must be a boolean")
			return
		}
		filtered := rules[:0]
		for _, rule := range rules {
			if rule.Enabled == enabled {
				filtered = append(filtered, rule)
			}
		}
		rules = filtered
	}
	models.SortByPriority(rules)

	page := queryInt(c, "page", 1, 1, 1<<30)
	pageSize := queryInt(c, "page_size", 20, 1, 100)
	total := len(rules)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	respondOK(c, gin.H{
		"rules":     rules[start:end],
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"version":   version,
	})
}

func queryInt(c *gin.Context, key string, def, min, max int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < min {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// GetRule returns one rule by ID.
func (s *Server) GetRule(c *gin.Context) {
	rule, err := s.rules.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		respondNotFound(c, "rule not found")
		return
	}
	if err != nil {
		s.respondInternal(c, err)
		return
	}
	respondOK(c, rule)
}

// UpdateRule replaces an existing rule.
func (s *Server) UpdateRule(c *gin.Context) {
	var rule models.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		respondBadRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	if errs := rule.Validate(); len(errs) > 0 {
		respondValidationErrors(c, errs)
		return
	}
	if errs := s.validateExpressions(&rule); len(errs) > 0 {
		respondValidationErrors(c, errs)
		return
	}

	ruleID := c.Param("id")
	err := s.rules.Update(c.Request.Context(), ruleID, &rule)
	if errors.Is(err, storage.ErrNotFound) {
		respondNotFound(c, "rule not found")
		return
	}
	if err != nil {
		s.respondInternal(c, err)
		return
	}
	s.logger.Info("Rule updated", "rule_id", ruleID)
	respondOK(c, rule)
}

// DeleteRule removes a rule.
func (s *Server) DeleteRule(c *gin.Context) {
	ruleID := c.Param("id")
	err := s.rules.Delete(c.Request.Context(), ruleID)
	if errors.Is(err, storage.ErrNotFound) {
		respondNotFound(c, "rule not found")
		return
	}
	if err != nil {
		s.respondInternal(c, err)
		return
	}
	s.logger.Info("Rule deleted", "rule_id", ruleID)
	respondOK(c, gin.H{"rule_id": ruleID})
}

// SetRuleStatus flips a rule's enabled flag.
func (s *Server) SetRuleStatus(c *gin.Context) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Enabled == nil {
		respondBadRequest(c, "body must contain an enabled boolean")
		return
	}

	ruleID := c.Param("id")
	err := s.rules.SetEnabled(c.Request.Context(), ruleID, *body.Enabled)
	if errors.Is(err, storage.ErrNotFound) {
		respondNotFound(c, "rule not found")
		return
	}
	if err != nil {
		s.respondInternal(c, err)
		return
	}
	s.logger.Info("Rule status changed", "rule_id", ruleID, "enabled", *body.Enabled)
	respondOK(c, gin.H{"rule_id": ruleID, "enabled": *body.Enabled})
}

// validateExpressions compiles any pre-filter expression so broken rules
// are rejected at write time rather than discovered per event.
func (s *Server) validateExpressions(rule *models.Rule) []models.FieldError {
	preFilter := rule.RuleConfig.PreFilter
	if preFilter == nil {
		return nil
	}
	if err := s.evaluator.Validate(preFilter.Expression); err != nil {
		return []models.FieldError{{
			Field:   "rule_config.pre_filter.expression",
			Message: err.Error(),
		}}
	}
	return nil
}
