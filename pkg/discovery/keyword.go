// Package discovery provides capability searchers: a keyword ranker that
// needs no external service, and an embedding ranker over an Embedder.
package discovery

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/aretw0/conductor/pkg/domain"
)

// Source lists the capabilities a searcher ranks. registry.Registry.Agents
// satisfies it.
type Source func() []domain.AgentInfo

// Static returns a Source over a fixed list.
func Static(agents ...domain.AgentInfo) Source {
	return func() []domain.AgentInfo { return agents }
}

// KeywordSearcher ranks capabilities by how many query terms appear in their
// name or description. Ties keep source order.
type KeywordSearcher struct {
	source Source
}

func NewKeyword(source Source) *KeywordSearcher {
	return &KeywordSearcher{source: source}
}

func (s *KeywordSearcher) Search(ctx context.Context, query string, topK int) ([]domain.AgentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agents := s.source()
	terms := tokenize(query)

	type scored struct {
		agent domain.AgentInfo
		score int
	}
	ranked := make([]scored, len(agents))
	for i, a := range agents {
		words := make(map[string]bool)
		for _, w := range tokenize(a.Name + " " + a.Description) {
			words[w] = true
		}
		n := 0
		for _, t := range terms {
			if words[t] {
				n++
			}
		}
		ranked[i] = scored{agent: a, score: n}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]domain.AgentInfo, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.agent)
	}
	return limit(out, topK), nil
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true, "that": true,
	"this": true, "please": true, "can": true, "you": true, "into": true, "about": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] {
			continue
		}
		out = append(out, strings.TrimSuffix(f, "s"))
	}
	return out
}

func limit(agents []domain.AgentInfo, topK int) []domain.AgentInfo {
	if topK > 0 && len(agents) > topK {
		return agents[:topK]
	}
	return agents
}
