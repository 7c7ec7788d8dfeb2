package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	meili "github.com/meilisearch/meilisearch-go"

	"govfund/feedback/internal/insights"
)

type fakeSearcher struct {
	healthy  bool
	calls    int
	searchFn func(ctx context.Context, q Query) ([]Result, int, error)
}

func (f *fakeSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	f.calls++
	return f.searchFn(ctx, q)
}

func (f *fakeSearcher) Healthy() bool { return f.healthy }

type fakeIndexer struct {
	indexed []int64
}

func (f *fakeIndexer) IndexInsights(_ context.Context, doc insights.Document) error {
	f.indexed = append(f.indexed, doc.ProjectID)
	return nil
}

func TestServicePrefersHealthyPrimary(t *testing.T) {
	primary := &fakeSearcher{healthy: true, searchFn: func(context.Context, Query) ([]Result, int, error) {
		return []Result{{Type: ResultInsights, ID: "7", ProjectID: 7}}, 1, nil
	}}
	fallback := &fakeSearcher{healthy: true, searchFn: func(context.Context, Query) ([]Result, int, error) {
		t.Fatal("fallback should not run")
		return nil, 0, nil
	}}
	s := &Service{primary: primary, fallback: fallback}

	resp := s.Search(context.Background(), Query{Text: "bike"})
	want := Response{Results: []Result{{Type: ResultInsights, ID: "7", ProjectID: 7}}, Total: 1, Query: "bike"}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestServiceFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		primary *fakeSearcher
	}{
		{"unhealthy primary", &fakeSearcher{healthy: false}},
		{"primary error", &fakeSearcher{healthy: true, searchFn: func(context.Context, Query) ([]Result, int, error) {
			return nil, 0, errors.New("timeout")
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &fakeSearcher{healthy: true, searchFn: func(context.Context, Query) ([]Result, int, error) {
				return []Result{projectResult(3, "too much <b>noise</b>")}, 1, nil
			}}
			s := &Service{primary: tt.primary, fallback: fallback}
			resp := s.Search(context.Background(), Query{Text: "noise"})
			if fallback.calls != 1 || len(resp.Results) != 1 || resp.Results[0].Type != ResultInsights {
				t.Errorf("expected fallback results, got %+v", resp)
			}
		})
	}
}

func TestServiceNeverReturnsNilResults(t *testing.T) {
	fallback := &fakeSearcher{searchFn: func(context.Context, Query) ([]Result, int, error) {
		return nil, 0, errors.New("db down")
	}}
	resp := (&Service{fallback: fallback}).Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || resp.Total != 0 {
		t.Errorf("unexpected response %+v", resp)
	}

	resp = NewService(nil, nil).Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil {
		t.Error("results must be an empty slice")
	}
}

func TestServiceIndexSkipsUnhealthyPrimary(t *testing.T) {
	idx := &fakeIndexer{}
	primary := &fakeSearcher{healthy: false}
	s := &Service{primary: primary, indexer: idx}

	if err := s.IndexInsights(context.Background(), insights.Document{ProjectID: 1}); err != nil {
		t.Fatal(err)
	}
	primary.healthy = true
	if err := s.IndexInsights(context.Background(), insights.Document{ProjectID: 2}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{2}, idx.indexed); diff != "" {
		t.Errorf("indexed projects (-want +got):\n%s", diff)
	}
}

func TestRecordFromDocument(t *testing.T) {
	avg := 0.27
	doc := insights.Document{
		ProjectID:     7,
		GeneratedAt:   time.Unix(1717977600, 0),
		TotalComments: 3,
		AverageScore:  &avg,
		Predominant:   insights.PredominantPositive,
		SummaryText:   "Overall sentiment is positive",
		TopKeywords:   []insights.KeywordCount{{Word: "bike", Count: 3}},
		TopPhrases:    []insights.PhraseCount{{Phrase: "bike lane", Count: 3}},
	}
	want := InsightsRecord{
		ProjectID:    7,
		SummaryText:  "Overall sentiment is positive",
		Predominant:  insights.PredominantPositive,
		AverageScore: &avg,
		Keywords:     []string{"bike"},
		Phrases:      []string{"bike lane"},
		Comments:     3,
		GeneratedAt:  1717977600,
	}
	if diff := cmp.Diff(want, recordFromDocument(doc)); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestHitToResultPrefersHighlight(t *testing.T) {
	hit := meili.Hit{
		"project_id":   json.RawMessage(`12`),
		"summary_text": json.RawMessage(`"Overall sentiment is negative"`),
		"_formatted":   json.RawMessage(`{"project_id":"12","summary_text":"Overall <mark>sentiment</mark> is negative"}`),
	}
	got := hitToResult(hit)
	want := Result{
		Type:      ResultInsights,
		ID:        "12",
		ProjectID: 12,
		Title:     "Project 12 insights",
		Snippet:   "Overall <mark>sentiment</mark> is negative",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectMatchSQL(t *testing.T) {
	projectID := int64(4)
	tests := []struct {
		name     string
		q        Query
		wantArgs []any
		contains []string
	}{
		{
			name:     "all projects with default page",
			q:        Query{Text: "bike lane"},
			wantArgs: []any{"bike lane"},
			contains: []string{"DISTINCT ON (c.project_id)", "LIMIT 20 OFFSET 0"},
		},
		{
			name:     "one project",
			q:        Query{Text: "bike", ProjectID: &projectID, Limit: 5, Offset: 10},
			wantArgs: []any{"bike", int64(4)},
			contains: []string{"c.project_id = $2", "LIMIT 5 OFFSET 10"},
		},
		{
			name:     "negative offset",
			q:        Query{Text: "bike", Offset: -3},
			wantArgs: []any{"bike"},
			contains: []string{"OFFSET 0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := projectMatchSQL(tt.q)
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
			for _, fragment := range tt.contains {
				if !strings.Contains(query, fragment) {
					t.Errorf("query missing %q:\n%s", fragment, query)
				}
			}
		})
	}
}
