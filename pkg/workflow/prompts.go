package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"mercator-hq/sextant/pkg/tokens"
)

// Source excerpts are capped so prompts stay well inside the context window.
const (
	maxPromptPassages  = 8
	maxPromptWeb       = 5
	maxExcerptTokens   = 250
	maxHistoryTurns    = 5
	maxSubQuestions    = 4
	gapLinePrefix      = "GAP:"
	noSourcesAvailable = "(no sources available)"
)

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

func writeQuestion(b *strings.Builder, s *State) {
	fmt.Fprintf(b, "Question: %s\n", s.Input.Question)
	if s.Input.Jurisdiction != "" {
		fmt.Fprintf(b, "Jurisdiction: %s\n", s.Input.Jurisdiction)
	}
}

func writeHistory(b *strings.Builder, s *State) {
	history := s.Input.History
	if len(history) == 0 {
		return
	}
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	b.WriteString("\nConversation so far:\n")
	for _, t := range history {
		fmt.Fprintf(b, "%s: %s\n", t.Role, t.Text)
	}
}

func writeSources(b *strings.Builder, s *State, est *tokens.Estimator) {
	b.WriteString("\nSources:\n")
	n := 0
	for _, p := range s.Passages {
		if !p.Resolved || n >= maxPromptPassages {
			continue
		}
		n++
		fmt.Fprintf(b, "[%d] %s/%s: %s\n", n, p.ShardID, p.DocumentID, est.Truncate(p.Text, maxExcerptTokens))
	}
	for i, w := range s.WebResults {
		if i >= maxPromptWeb {
			break
		}
		n++
		fmt.Fprintf(b, "[W%d] %s (%s): %s\n", i+1, w.Title, w.URL, est.Truncate(w.Content, maxExcerptTokens))
	}
	if n == 0 {
		b.WriteString(noSourcesAvailable + "\n")
	}
}

func writeFindings(b *strings.Builder, s *State) {
	if len(s.Findings) == 0 {
		return
	}
	b.WriteString("\nNotes from earlier research:\n")
	for _, f := range s.Findings {
		b.WriteString(f)
		b.WriteString("\n")
	}
}

func planPrompt(s *State) string {
	var b strings.Builder
	writeQuestion(&b, s)
	writeHistory(&b, s)
	fmt.Fprintf(&b, "\nBreak the question into at most %d self-contained sub-questions that together answer it. "+
		"Write one sub-question per line and nothing else.\n", maxSubQuestions)
	return b.String()
}

func extractPrompt(s *State, est *tokens.Estimator) string {
	var b strings.Builder
	writeQuestion(&b, s)
	writeSources(&b, s, est)
	b.WriteString("\nList the facts from the sources that bear on the question, citing source numbers. " +
		"Do not answer the question yet.\n")
	return b.String()
}

func researchPrompt(s *State, est *tokens.Estimator) string {
	var b strings.Builder
	writeQuestion(&b, s)
	if len(s.SubQuestions) > 0 {
		b.WriteString("\nSub-questions:\n")
		for _, q := range s.SubQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	writeSources(&b, s, est)
	fmt.Fprintf(&b, "\nSummarize what the sources establish, citing source numbers. Then list every point the "+
		"sources leave unanswered, one per line, each starting with %q.\n", gapLinePrefix)
	return b.String()
}

func gapPrompt(s *State, gaps []string, est *tokens.Estimator) string {
	var b strings.Builder
	writeQuestion(&b, s)
	writeFindings(&b, s)
	b.WriteString("\nOpen points:\n")
	for _, g := range gaps {
		fmt.Fprintf(&b, "- %s\n", g)
	}
	writeSources(&b, s, est)
	b.WriteString("\nResolve the open points from the sources, citing source numbers. " +
		"Say plainly which points remain unresolved.\n")
	return b.String()
}

func synthesizePrompt(s *State, est *tokens.Estimator) string {
	var b strings.Builder
	writeQuestion(&b, s)
	writeHistory(&b, s)
	writeFindings(&b, s)
	writeSources(&b, s, est)
	b.WriteString("\nWrite the final answer to the question. Ground every claim in the sources and cite them. " +
		"If the sources do not answer the question, say so.\n")
	return b.String()
}

// parseGaps splits a research response into the summary and its gap lines.
func parseGaps(text string) (string, []string) {
	var summary []string
	var gaps []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		if len(trimmed) >= len(gapLinePrefix) && strings.EqualFold(trimmed[:len(gapLinePrefix)], gapLinePrefix) {
			if gap := strings.TrimSpace(trimmed[len(gapLinePrefix):]); gap != "" {
				gaps = append(gaps, gap)
			}
			continue
		}
		summary = append(summary, line)
	}
	return strings.TrimSpace(strings.Join(summary, "\n")), gaps
}

// parseSubQuestions reads one sub-question per line, dropping list markers.
func parseSubQuestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		q := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == maxSubQuestions {
			break
		}
	}
	return out
}
