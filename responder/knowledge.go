// Package responder provides internal side-assistants that react to appended
// turns without ever being scheduled for a turn of their own. The canonical
// one answers questions addressed to it with an @mention, backed by a small
// retrieval corpus.
package responder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/chatflow/conversation"
	"github.com/BaSui01/chatflow/llm"
	"go.uber.org/zap"
)

// Document is one retrievable snippet.
type Document struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// Retriever finds the documents most relevant to a query.
type Retriever interface {
	Retrieve(query string, limit int) []Document
}

// KeywordRetriever scores documents by query-term overlap. It is the
// zero-infrastructure default; callers with a vector store can supply their
// own Retriever.
type KeywordRetriever struct {
	docs []Document
}

// NewKeywordRetriever indexes the given documents.
func NewKeywordRetriever(docs []Document) *KeywordRetriever {
	return &KeywordRetriever{docs: docs}
}

func (r *KeywordRetriever) Retrieve(query string, limit int) []Document {
	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	type scored struct {
		doc   Document
		score int
	}
	var matches []scored
	for _, doc := range r.docs {
		text := strings.ToLower(doc.Title + " " + doc.Content)
		score := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{doc: doc, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Document, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.doc)
	}
	return out
}

func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 3 { // 过滤 the/a/of 之类的短词
			terms = append(terms, f)
		}
	}
	return terms
}

// KnowledgeResponder answers questions addressed to it via "@<name>". It
// implements conversation.Responder and injects its answers as unscheduled
// turns.
type KnowledgeResponder struct {
	name      string
	retriever Retriever
	limit     int
	logger    *zap.Logger
}

// NewKnowledgeResponder creates a responder reachable as "@<name>". A nil
// retriever makes the responder decline everything.
func NewKnowledgeResponder(name string, retriever Retriever, logger *zap.Logger) *KnowledgeResponder {
	if name == "" {
		name = "Chat"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeResponder{
		name:      name,
		retriever: retriever,
		limit:     3,
		logger:    logger.With(zap.String("component", "knowledge_responder")),
	}
}

func (r *KnowledgeResponder) Name() string { return r.name }

// ShouldHandle reports whether the latest turn mentions this responder.
func (r *KnowledgeResponder) ShouldHandle(latest conversation.Turn, _ []conversation.Turn) bool {
	return strings.Contains(latest.Content, "@"+r.name)
}

// HandleMessage retrieves the documents relevant to the text after the
// mention and formats them as an answer. It declines (nil, nil) when nothing
// relevant is found.
func (r *KnowledgeResponder) HandleMessage(_ context.Context, latest conversation.Turn, _ []conversation.Turn) (*conversation.Reply, error) {
	query := r.extractQuery(latest.Content)
	if query == "" {
		return nil, nil
	}
	if r.retriever == nil {
		return nil, nil
	}

	docs := r.retriever.Retrieve(query, r.limit)
	if len(docs) == 0 {
		r.logger.Debug("no documents matched", zap.String("query", query))
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Here is what I found on %q:\n", query)
	for _, doc := range docs {
		fmt.Fprintf(&sb, "- %s: %s\n", doc.Title, doc.Content)
	}
	return &conversation.Reply{
		Role:       llm.RoleAssistant,
		Content:    strings.TrimRight(sb.String(), "\n"),
		AuthorName: r.name,
	}, nil
}

// extractQuery returns the text following the first mention of the
// responder, or the whole content when the mention ends the message.
func (r *KnowledgeResponder) extractQuery(content string) string {
	mention := "@" + r.name
	idx := strings.Index(content, mention)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(content[idx+len(mention):])
	if rest == "" {
		rest = strings.TrimSpace(strings.Replace(content, mention, "", 1))
	}
	return rest
}
