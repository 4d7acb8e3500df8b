package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tripwire/pkg/engine"
	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// ValidateRule checks a rule payload without persisting it: structural
// validation plus expression compilation.
func (s *Server) ValidateRule(c *gin.Context) {
	var rule models.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		respondBadRequest(c, "invalid JSON body: "+err.Error())
		return
	}

	errs := rule.Validate()
	errs = append(errs, s.validateExpressions(&rule)...)
	if len(errs) > 0 {
		respondOK(c, gin.H{"valid": false, "errors": errs})
		return
	}
	respondOK(c, gin.H{"valid": true})
}

// testRequest is a dry run: a rule payload plus a sample event.
type testRequest struct {
	Rule  models.Rule `json:"rule"`
	Event struct {
		EventType  string         `json:"event_type"`
		ContextKey string         `json:"context_key"`
		Data       map[string]any `json:"data"`
	} `json:"event"`
}

// TestRule evaluates a sample event against an unsaved rule. The dry run
// touches no shared state and never calls the model: for llm and hybrid
// rules it reports whether the model would have been consulted.
func (s *Server) TestRule(c *gin.Context) {
	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid JSON body: "+err.Error())
		return
	}
	if errs := req.Rule.Validate(); len(errs) > 0 {
		respondValidationErrors(c, errs)
		return
	}
	if errs := s.validateExpressions(&req.Rule); len(errs) > 0 {
		respondValidationErrors(c, errs)
		return
	}

	start := time.Now()
	event := models.NewEvent("test_event", req.Event.EventType, req.Event.ContextKey, time.Time{}, req.Event.Data)

	result := gin.H{
		"matched_event_type":  req.Rule.MatchesEventType(event.EventType),
		"matched_context_key": req.Rule.MatchesContextKey(event.ContextKey),
	}

	wouldCallLLM := req.Rule.RuleConfig.RuleType == models.RuleTypeLLM
	if pf := req.Rule.RuleConfig.PreFilter; pf != nil {
		env := engine.BuildEnv(event)
		passed, err := s.evaluator.Evaluate(pf.Expression, env)
		if err != nil {
			result["pre_filter"] = gin.H{"passed": false, "error": err.Error()}
		} else {
			result["pre_filter"] = gin.H{"passed": passed}
		}
		if req.Rule.RuleConfig.RuleType == models.RuleTypeHybrid {
			wouldCallLLM = err == nil && passed
		}
	}
	result["would_call_llm"] = wouldCallLLM
	result["elapsed_ms"] = time.Since(start).Milliseconds()

	respondOK(c, result)
}
