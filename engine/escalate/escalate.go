// Package escalate decides whether a student question should be routed to a
// human advisor. It asks a small classifier model for a structured verdict
// and falls back to a conservative keyword heuristic whenever the model is
// unreachable, rate limited, or cut off by the circuit breaker.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AdvisorAI/advisor-engine/engine/domain"
	"github.com/AdvisorAI/advisor-engine/pkg/openrouter"
	"github.com/AdvisorAI/advisor-engine/pkg/resilience"
)

// Completer abstracts the classifier model endpoint.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int, temperature float32) (string, error)
}

// Options configures the classifier call.
type Options struct {
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// DefaultOptions keeps the check cheap: a short verdict from a small model.
func DefaultOptions() Options {
	return Options{
		MaxTokens:   100,
		Temperature: 0.1,
		Timeout:     5 * time.Second,
	}
}

// Phrases in the generated answer that signal the model could not ground a
// response. Used by the fallback when the classifier itself is unavailable.
var uncertaintyPhrases = []string{
	"i don't have",
	"not in the documents",
	"i cannot find",
	"unclear",
}

// shortAnswerWords marks answers too brief to have answered anything.
const shortAnswerWords = 15

// Classifier produces escalation decisions. It never returns an error; when
// in doubt it degrades to the heuristic.
type Classifier struct {
	chat    Completer
	breaker *resilience.Breaker
	opts    Options
	logger  *slog.Logger
}

// New builds a classifier. breaker may be nil to disable circuit breaking.
func New(chat Completer, breaker *resilience.Breaker, opts Options, logger *slog.Logger) *Classifier {
	def := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{chat: chat, breaker: breaker, opts: opts, logger: logger}
}

// Classify decides whether the exchange needs a human advisor.
func (c *Classifier) Classify(ctx context.Context, question, answer string, retrievedCount int) domain.Decision {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	prompt := buildRubric(question, answer, retrievedCount)

	var reply string
	call := func(ctx context.Context) error {
		var err error
		reply, err = c.chat.Complete(ctx, "", prompt, c.opts.MaxTokens, c.opts.Temperature)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Do(callCtx, call)
	} else {
		err = call(callCtx)
	}
	if err != nil {
		// A rejected request means the service answered: only the phrase
		// check applies. Transport failures, timeouts, and an open breaker
		// also get the short-answer check.
		rejected := errors.Is(err, openrouter.ErrBadStatus) || errors.Is(err, openrouter.ErrRateLimited)
		c.logger.Warn("escalation check unavailable, using heuristic", "err", err, "rejected", rejected)
		return c.heuristic(answer, !rejected)
	}

	decision, reason := parseVerdict(reply)
	if decision {
		c.logger.Info("escalation decision", "escalate", true, "reason", reason)
		return domain.Decision{ShouldEscalate: true, Reason: reason}
	}
	c.logger.Info("escalation decision", "escalate", false)
	return domain.Decision{}
}

// heuristic is the model-free fallback: escalate on unambiguous uncertainty
// in the answer, and with checkLength also when the answer is too short to
// have helped.
func (c *Classifier) heuristic(answer string, checkLength bool) domain.Decision {
	lower := strings.ToLower(answer)
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lower, phrase) {
			return domain.Decision{
				ShouldEscalate: true,
				Reason:         "AI expressed uncertainty (fallback check)",
			}
		}
	}
	if checkLength && len(strings.Fields(answer)) < shortAnswerWords {
		return domain.Decision{
			ShouldEscalate: true,
			Reason:         "AI response appears insufficient (fallback due to check error)",
		}
	}
	return domain.Decision{}
}

// parseVerdict extracts the DECISION/REASON lines. Escalation is positive
// only when the decision line carries ESCALATE without NO_ESCALATE.
func parseVerdict(reply string) (bool, string) {
	var decisionLine, reasonLine string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "DECISION:"); ok {
			decisionLine = strings.ToUpper(strings.TrimSpace(rest))
		} else if rest, ok := strings.CutPrefix(line, "REASON:"); ok {
			reasonLine = strings.TrimSpace(rest)
		}
	}

	escalate := strings.Contains(decisionLine, "ESCALATE") && !strings.Contains(decisionLine, "NO_ESCALATE")
	if !escalate {
		return false, ""
	}
	if reasonLine == "" {
		reasonLine = "LLM recommends human review"
	}
	return true, reasonLine
}

func buildRubric(question, answer string, retrievedCount int) string {
	return fmt.Sprintf(`You are an escalation decision system for an academic AI advisor. Your job is to determine if a student question needs human advisor review.

STUDENT QUESTION:
%s

AI RESPONSE PROVIDED:
%s

NUMBER OF RELEVANT DOCUMENTS FOUND: %d

ESCALATION CRITERIA:
You should recommend ESCALATION (respond "ESCALATE") if:
1. AI response shows uncertainty or lacks information (phrases like "I don't have that information", "not in the documents", etc.)
2. Critical situations requiring immediate human intervention (mental health crisis, emergency, student wants to drop out entirely, severe academic distress)
3. Sensitive topics (financial aid, accommodations, appeals, waivers) WHERE the AI response is insufficient, unclear, or too brief
4. AI response is extremely brief (<20 words) and doesn't fully answer the question
5. No relevant documents were found (context count is 0) and answer is generic

You should recommend NO ESCALATION (respond "NO_ESCALATE") if:
1. AI provided a detailed, comprehensive answer with good information
2. Answer includes citations, sources, or specific references to documents
3. Answer is clear and directly addresses the question, even if brief
4. Question is straightforward and AI answered it well (e.g., "What's the deadline?" -> "The deadline is March 15th")
5. The student received helpful, actionable information they can use

IMPORTANT: Be practical and conservative. Only escalate when the student truly needs human help. If the AI answered well, don't escalate.

Respond in this exact format:
DECISION: [ESCALATE or NO_ESCALATE]
REASON: [one sentence explaining why]

Do not include any other text.`, question, answer, retrievedCount)
}
