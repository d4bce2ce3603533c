package dialogue

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dbincident/diagd/pkg/llmclient"
)

// feedbackResult is the outcome of parsing one user message against the
// phenomena pending from the most recent recommendation.
type feedbackResult struct {
	Confirmed       []string
	Denied          []string
	NewObservations []string
}

var batchFeedbackPattern = regexp.MustCompile(`(?i)(\d+)\s*(确认|否定|confirm|deny|yes|no)`)

var affirmativeWords = []string{"yes", "confirm", "confirmed", "correct", "yep"}
var negativeWords = []string{"no", "deny", "denied", "none"}

// cjkAffirmative/cjkNegative are matched by plain substring since
// Go's \b is ASCII-word-boundary only and would never fire around
// non-Latin scripts.
const cjkAffirmative = "确认"
const cjkNegative = "否定"

var feedbackSchema = &llmclient.JSONSchema{
	Name:        "parse_feedback",
	Description: "Classify the user's feedback on pending phenomena and extract any new technical observations.",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"feedback": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string", "enum": []string{"confirmed", "denied", "unknown"}},
			},
			"new_observations": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"feedback", "new_observations"},
	},
}

// parseFeedback applies the fast-path/slow-path hierarchy to a message,
// given the phenomenon ids pending from the last recommendation (in the
// order they were presented, 1-indexed for the batch form).
func parseFeedback(ctx context.Context, chat llmclient.ChatModel, message string, pending []string, hybrid bool) (*feedbackResult, error) {
	if res, ok := parseBatchForm(message, pending); ok {
		return res, nil
	}
	if res, ok := parseBlanketForm(message, pending); ok {
		return res, nil
	}
	if !hybrid {
		return &feedbackResult{}, nil
	}
	return parseSlowPath(ctx, chat, message, pending)
}

// parseBatchForm recognizes "1 confirm, 2 deny" style feedback where
// numeric indices refer to the n-th pending phenomenon.
func parseBatchForm(message string, pending []string) (*feedbackResult, bool) {
	matches := batchFeedbackPattern.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil, false
	}

	res := &feedbackResult{}
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > len(pending) {
			continue
		}
		phenomenonID := pending[idx-1]
		if isAffirmative(m[2]) {
			res.Confirmed = append(res.Confirmed, phenomenonID)
		} else {
			res.Denied = append(res.Denied, phenomenonID)
		}
	}
	if len(res.Confirmed) == 0 && len(res.Denied) == 0 {
		return nil, false
	}
	return res, true
}

// parseBlanketForm recognizes a message that confirms or denies every
// still-pending phenomenon at once, with no per-item indices.
func parseBlanketForm(message string, pending []string) (*feedbackResult, bool) {
	lower := strings.ToLower(message)
	hasAffirm := affirmativePattern.MatchString(lower) || strings.Contains(message, cjkAffirmative)
	hasNeg := negativePattern.MatchString(lower) || strings.Contains(message, cjkNegative)

	switch {
	case hasAffirm && !hasNeg:
		return &feedbackResult{Confirmed: append([]string(nil), pending...)}, true
	case hasNeg && !hasAffirm:
		return &feedbackResult{Denied: append([]string(nil), pending...)}, true
	default:
		return nil, false
	}
}

// wordBoundaryPattern matches any of words as a whole token, so e.g.
// the negative keyword "no" does not false-positive inside "not" or
// "know".
func wordBoundaryPattern(words []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + strings.Join(words, "|") + `)\b`)
}

var affirmativePattern = wordBoundaryPattern(affirmativeWords)
var negativePattern = wordBoundaryPattern(negativeWords)

func isAffirmative(token string) bool {
	switch strings.ToLower(token) {
	case "确认", "confirm", "yes":
		return true
	default:
		return false
	}
}

type slowPathPayload struct {
	Feedback        map[string]string `json:"feedback"`
	NewObservations []string          `json:"new_observations"`
}

// parseSlowPath asks the LLM to classify feedback against the pending
// phenomenon ids when neither fast path recognized the message. It runs
// only in hybrid mode, and it is the only path that extracts new
// observations.
func parseSlowPath(ctx context.Context, chat llmclient.ChatModel, message string, pending []string) (*feedbackResult, error) {
	var payload slowPathPayload
	req := llmclient.ChatRequest{
		Schema: feedbackSchema,
		Messages: []llmclient.ChatMessage{
			{Role: llmclient.RoleSystem, Content: "You classify user feedback about a list of candidate phenomena in a troubleshooting conversation. For each pending phenomenon id, decide whether the user's message confirms it, denies it, or leaves it unknown. Also extract any new technical observation the user mentioned that is not one of the pending phenomena."},
			{Role: llmclient.RoleUser, Content: fmt.Sprintf("Pending phenomenon ids: %s\n\nUser message: %s", strings.Join(pending, ", "), message)},
		},
	}

	if err := llmclient.ChatJSON(ctx, chat, req, &payload, nil); err != nil {
		return nil, fmt.Errorf("dialogue: parse feedback: %w", err)
	}

	res := &feedbackResult{NewObservations: payload.NewObservations}
	for id, verdict := range payload.Feedback {
		switch verdict {
		case "confirmed":
			res.Confirmed = append(res.Confirmed, id)
		case "denied":
			res.Denied = append(res.Denied, id)
		}
	}
	return res, nil
}
