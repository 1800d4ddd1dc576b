package explain

import (
	"fmt"
	"strings"

	"causal-insights-go/internal/types"
	"causal-insights-go/internal/vocab"
)

// Generator turns causal chains into natural-language explanations. Pure
// and deterministic: same chain, same text, no external calls.
type Generator struct {
	vocab vocab.Vocabulary
}

func NewGenerator(v vocab.Vocabulary) *Generator {
	return &Generator{vocab: v}
}

// Generate renders the explanation paragraph for a query result.
func (g *Generator) Generate(e *types.Explanation) string {
	if e == nil {
		return g.Narrate(nil)
	}
	return g.Narrate(e.CausalChain)
}

// Narrate picks sentence structure by chain length: one factor, a
// first/then sequence, or an enumerated escalation narrative.
func (g *Generator) Narrate(chain []string) string {
	switch len(chain) {
	case 0:
		return "No escalation signals were detected in this conversation."
	case 1:
		return fmt.Sprintf(
			"The primary escalation factor in this conversation was %s. "+
				"This pattern was present throughout the interaction and contributed to the negative outcome.",
			g.vocab.DisplayName(chain[0]))
	case 2:
		return fmt.Sprintf(
			"This conversation shows a sequence of escalation factors: "+
				"First, %s was present. Then, %s occurred, which compounded the issue. "+
				"Together, these factors led to escalation.",
			g.vocab.DisplayName(chain[0]), g.vocab.DisplayName(chain[1]))
	default:
		names := make([]string, len(chain)-1)
		for i, s := range chain[:len(chain)-1] {
			names[i] = g.vocab.DisplayName(s)
		}
		return fmt.Sprintf(
			"This conversation demonstrates a critical escalation sequence: %s, and finally %s. "+
				"At each stage the situation deteriorated, leading to a clear escalation pattern.",
			strings.Join(names, ", "), g.vocab.DisplayName(chain[len(chain)-1]))
	}
}

// FollowUp answers unstructured follow-up questions from fixed templates
// keyed on question phrasing. Template-based on purpose: follow-ups are a
// serving convenience, not part of the reasoning core.
func FollowUp(question string) string {
	q := strings.ToLower(question)

	switch {
	case strings.Contains(q, "what if") || strings.Contains(q, "if the agent"):
		return "Based on the conversation dynamics, a faster agent response would likely have " +
			"reduced the escalation risk. Early agent response is critical for de-escalation, " +
			"especially once customer frustration is present."
	case strings.Contains(q, "similar"):
		return "Use the similar-cases lookup to find analyzed conversations that share this " +
			"escalation pattern. Comparing them shows how prevalent these issues are across " +
			"your conversations."
	case strings.Contains(q, "how can") || strings.Contains(q, "how to") || strings.HasPrefix(q, "how"):
		return "To prevent escalation in future conversations: 1) train agents to respond " +
			"quickly, 2) lead with empathy, 3) offer alternatives when a request must be " +
			"denied, 4) watch for frustration signals early in the conversation."
	default:
		return "The analysis shows the key escalation factors in this conversation. For more " +
			"specific insight, ask about what-if scenarios, similar cases, or prevention " +
			"strategies."
	}
}
