package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
)

var ErrInvalidQuery = errors.New("invalid query")

const (
	defaultTopK = 10
	maxTopK     = 50
	maxQueryLen = 2000
)

// Query is what an admitted request asks of the content service.
type Query struct {
	IdentityRef string     `json:"identity_ref"`
	Tier        model.Tier `json:"tier"`
	Library     string     `json:"library"`
	Text        string     `json:"query"`
	TopK        int        `json:"top_k"`
}

// Normalize trims the query and applies the top_k bounds.
func (q Query) Normalize() (Query, error) {
	q.Library = strings.ToLower(strings.TrimSpace(q.Library))
	q.Text = strings.TrimSpace(q.Text)
	if q.Library == "" {
		return q, fmt.Errorf("%w: library is required", ErrInvalidQuery)
	}
	if q.Text == "" {
		return q, fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	if len(q.Text) > maxQueryLen {
		return q, fmt.Errorf("%w: query longer than %d bytes", ErrInvalidQuery, maxQueryLen)
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return q, nil
}

type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// Result is passed back to the caller untouched.
type Result struct {
	Context string  `json:"context"`
	Matches []Match `json:"matches"`
}

type Retriever interface {
	Retrieve(ctx context.Context, q Query) (Result, error)
}

// Static answers every query with a fixed, library-scoped result. It is used when no content
// service is configured.
type Static struct{}

func (Static) Retrieve(_ context.Context, q Query) (Result, error) {
	text := fmt.Sprintf("No indexed documentation for %q yet. Query was: %s", q.Library, q.Text)
	return Result{
		Context: text,
		Matches: []Match{{ID: q.Library + "#0", Score: 1, Text: text}},
	}, nil
}
