// Package budget provides character-based token estimation for assembled
// context. The pipeline spans multiple models with different tokenizers,
// so a simple heuristic is used instead of a real tokenizer:
// 1 token ≈ 4 characters (English prose and structured text).
package budget

// charsPerToken is the character-to-token ratio used for estimation.
// 4 chars/token is standard for English text.
const charsPerToken = 4

// Estimate returns the estimated token count for s, rounding up so that
// short non-empty strings are never counted as free.
func Estimate(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// EstimateAll sums Estimate over every part, skipping empty strings so that
// absent optional fields contribute nothing.
func EstimateAll(parts ...string) int {
	total := 0
	for _, p := range parts {
		if p == "" {
			continue
		}
		total += Estimate(p)
	}
	return total
}
