package usecase

import (
	"context"
	"fmt"
	"regexp"

	"github.com/anthropics/feishu-notes-bot/internal/biz/repo"
)

// keywordOrder fixes the tie-break between categories with equal scores.
var keywordOrder = []string{"task", "idea", "quote"}

var keywordPatterns = map[string][]*regexp.Regexp{
	"task": compilePatterns(
		`\b(buy|purchase|get|pick up|order|shop|shopping)\b`,
		`\b(call|phone|text|message|email|contact)\b`,
		`\b(meeting|appointment|schedule|book|reserve)\b`,
		`\b(clean|wash|organize|sort|arrange)\b`,
		`\b(fix|repair|maintain|check|inspect)\b`,
		`\b(pay|bill|invoice|rent|mortgage)\b`,
		`\b(study|read|learn|practice|exercise)\b`,
		`\b(cook|prepare|make|bake|grill)\b`,
		`\b(drive|travel|go to|visit|attend)\b`,
		`\b(remember|don't forget|remind)\b`,
		`\b(todo|to do|to-do|task|action item)\b`,
		`\b(deadline|due|by|before|until)\b`,
		`\b(tomorrow|today|next week|this week)\b`,
		`\b(urgent|important|priority|asap)\b`,
	),
	"idea": compilePatterns(
		`\b(idea|concept|thought|brainstorm|innovation)\b`,
		`\b(project|plan|strategy|approach|method)\b`,
		`\b(create|build|develop|design|invent)\b`,
		`\b(startup|business|company|venture)\b`,
		`\b(improve|enhance|optimize|upgrade)\b`,
		`\b(research|explore|investigate|analyze)\b`,
		`\b(what if|imagine|suppose|consider)\b`,
		`\b(feature|functionality|tool|app|website)\b`,
		`\b(problem|solution|solve|fix|address)\b`,
		`\b(opportunity|potential|possibility)\b`,
		`\b(creative|artistic|design|art)\b`,
		`\b(technology|tech|software|hardware)\b`,
	),
	"quote": compilePatterns(
		`"[^"]*"`,
		`\b(said|says|quoted|according to)\b`,
		`\b(quote|quotation|saying|proverb)\b`,
		`\b(inspirational|motivational|wise)\b`,
		`\b(famous|well-known|celebrity|author)\b`,
		`\b(book|article|speech|interview)\b`,
		`\b(philosophy|wisdom|life lesson)\b`,
		`\b(remember this|keep in mind|note to self)\b`,
	),
}

func compilePatterns(exprs ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+expr))
	}
	return compiled
}

// ClassifyUsecase categorizes notes. Keyword matching runs first; the
// LLM backend is consulted only when no keyword matches and a backend
// is configured.
type ClassifyUsecase struct {
	llm repo.Classifier // nil when no API key is configured
}

func NewClassifyUsecase(llm repo.Classifier) *ClassifyUsecase {
	return &ClassifyUsecase{llm: llm}
}

// Classify returns the category for a note: task, idea, quote or other.
// It never fails; any backend error falls back to "other".
func (u *ClassifyUsecase) Classify(ctx context.Context, noteText string) string {
	category, score := keywordCategory(noteText)
	if score > 0 {
		fmt.Printf("[Classify] Keyword match: %s (score %d)\n", category, score)
		return category
	}

	if u.llm != nil {
		llmCategory, err := u.llm.Classify(ctx, noteText)
		if err != nil {
			fmt.Printf("[Classify] LLM error, defaulting to other: %v\n", err)
			return "other"
		}
		fmt.Printf("[Classify] LLM match: %s\n", llmCategory)
		return llmCategory
	}

	return "other"
}

// Confidence returns the keyword category along with its share of all
// keyword matches. (other, 0) when nothing matched.
func (u *ClassifyUsecase) Confidence(noteText string) (string, float64) {
	scores, total := keywordScores(noteText)
	if total == 0 {
		return "other", 0
	}
	best, bestScore := "other", 0
	for _, category := range keywordOrder {
		if scores[category] > bestScore {
			best, bestScore = category, scores[category]
		}
	}
	return best, float64(bestScore) / float64(total)
}

func keywordCategory(noteText string) (string, int) {
	scores, _ := keywordScores(noteText)
	best, bestScore := "other", 0
	for _, category := range keywordOrder {
		if scores[category] > bestScore {
			best, bestScore = category, scores[category]
		}
	}
	return best, bestScore
}

func keywordScores(noteText string) (map[string]int, int) {
	scores := make(map[string]int, len(keywordPatterns))
	total := 0
	for category, patterns := range keywordPatterns {
		score := 0
		for _, pattern := range patterns {
			score += len(pattern.FindAllString(noteText, -1))
		}
		scores[category] = score
		total += score
	}
	return scores, total
}
