package insights

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func scorePtr(v float64) *float64 { return &v }

func TestAnalyzeAverageAndLabel(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	doc := Analyze(Input{
		ProjectID: 1,
		Comments: []CommentInput{
			{ID: 1, Text: "great new park", Score: scorePtr(0.6), CreatedAt: now},
			{ID: 2, Text: "nice playground", Score: scorePtr(0.4), CreatedAt: now},
			{ID: 3, Text: "parking is limited", Score: scorePtr(-0.2), CreatedAt: now},
		},
	}, now)

	if doc.TotalComments != 3 {
		t.Errorf("total comments = %d", doc.TotalComments)
	}
	if doc.AverageScore == nil || math.Abs(*doc.AverageScore-0.2666666667) > 1e-6 {
		t.Fatalf("average score = %v", doc.AverageScore)
	}
	if doc.Predominant != PredominantPositive {
		t.Errorf("predominant = %s", doc.Predominant)
	}
	wantSummary := "Overall sentiment is positive (avg score 0.27) across 3 comments." +
		" Positive highlights: great new; new park; great new park; nice playground." +
		" Negative highlights: parking limited."
	if doc.SummaryText != wantSummary {
		t.Errorf("summary mismatch\n got: %s\nwant: %s", doc.SummaryText, wantSummary)
	}
	if doc.Explainability.ScoredComments != 3 || doc.Explainability.UnscoredComments != 0 {
		t.Errorf("unexpected explainability counts: %+v", doc.Explainability)
	}
	if !doc.GeneratedAt.Equal(now) {
		t.Errorf("generated_at = %v", doc.GeneratedAt)
	}
}

func TestAnalyzeExcludesUnscoredFromAverage(t *testing.T) {
	doc := Analyze(Input{
		ProjectID: 1,
		Comments: []CommentInput{
			{ID: 1, Text: "clean streets", Score: scorePtr(0.6)},
			{ID: 2, Text: "still waiting on scoring"},
		},
	}, time.Now())

	if doc.AverageScore == nil || *doc.AverageScore != 0.6 {
		t.Fatalf("unscored comment must not drag the mean, got %v", doc.AverageScore)
	}
	if doc.TotalComments != 2 || doc.Explainability.UnscoredComments != 1 {
		t.Errorf("unexpected counts: total=%d unscored=%d", doc.TotalComments, doc.Explainability.UnscoredComments)
	}
}

func TestAnalyzeWithoutScores(t *testing.T) {
	doc := Analyze(Input{
		ProjectID: 4,
		Comments:  []CommentInput{{ID: 1, Text: "pending review"}},
	}, time.Now())

	if doc.AverageScore != nil {
		t.Errorf("expected nil average, got %v", *doc.AverageScore)
	}
	if doc.SummaryText != noDataSummary || doc.Predominant != PredominantNeutral {
		t.Errorf("unexpected summary %q / %s", doc.SummaryText, doc.Predominant)
	}
	if doc.Trend.Label != TrendInsufficientData {
		t.Errorf("trend = %s", doc.Trend.Label)
	}
	if doc.Confidence != 0.01 {
		t.Errorf("confidence = %v", doc.Confidence)
	}
}

func TestAnalyzeClustersComments(t *testing.T) {
	doc := Analyze(Input{
		Comments: []CommentInput{
			{ID: 1, Text: "broken streetlights downtown"},
			{ID: 2, Text: "lovely park"},
			{ID: 3, Text: "streetlights broken again"},
			{ID: 4, Text: "ok"},
			{ID: 5, Text: "park lovely benches"},
		},
	}, time.Now())

	want := []Cluster{
		{
			Size:             2,
			MemberCommentIDs: []int64{1, 3},
			TopKeywords:      []string{"broken", "streetlights", "downtown", "again"},
			TopPhrases:       []string{"broken streetlights", "streetlights downtown", "broken streetlights downtown", "streetlights broken", "broken again"},
		},
		{
			Size:             2,
			MemberCommentIDs: []int64{2, 5},
			TopKeywords:      []string{"lovely", "park", "benches"},
			TopPhrases:       []string{"lovely park", "park lovely", "lovely benches", "park lovely benches"},
		},
	}
	if diff := cmp.Diff(want, doc.Clusters); diff != "" {
		t.Errorf("clusters mismatch (-want +got):\n%s", diff)
	}
	if got := doc.Explainability.Clusters[0].SampleIDs; len(got) != 2 {
		t.Errorf("unexpected sample ids %v", got)
	}
}

func TestClusteringIsSeedOrderDependent(t *testing.T) {
	a := CommentInput{ID: 1, Text: "alpha beta"}
	b := CommentInput{ID: 2, Text: "beta gamma"}
	c := CommentInput{ID: 3, Text: "gamma delta"}

	members := func(doc Document) [][]int64 {
		var out [][]int64
		for _, cl := range doc.Clusters {
			out = append(out, cl.MemberCommentIDs)
		}
		return out
	}

	abc := Analyze(Input{Comments: []CommentInput{a, b, c}}, time.Now())
	if diff := cmp.Diff([][]int64{{1, 2}, {3}}, members(abc)); diff != "" {
		t.Errorf("seed a (-want +got):\n%s", diff)
	}

	// b is similar to both neighbours, so seeding with it absorbs everything.
	bac := Analyze(Input{Comments: []CommentInput{b, a, c}}, time.Now())
	if diff := cmp.Diff([][]int64{{2, 1, 3}}, members(bac)); diff != "" {
		t.Errorf("seed b (-want +got):\n%s", diff)
	}
}

func TestMergeTopics(t *testing.T) {
	freq := newCounter()
	freq.add("repair crew", "park bench", "park bench", "road repair", "road repair", "road repair")

	want := []Topic{
		{Phrases: []string{"road repair", "repair crew"}, TopKeywords: []string{"repair", "road", "crew"}, Score: 4},
		{Phrases: []string{"park bench"}, TopKeywords: []string{"park", "bench"}, Score: 2},
	}
	if diff := cmp.Diff(want, mergeTopics(freq)); diff != "" {
		t.Errorf("topics mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeTopPhrasesNeedRepeats(t *testing.T) {
	doc := Analyze(Input{
		Comments: []CommentInput{
			{ID: 1, Text: "bike lane please"},
			{ID: 2, Text: "more bike lane"},
			{ID: 3, Text: "quiet street"},
		},
		UnlinkedTexts: []string{"bike lane"},
	}, time.Now())

	want := []PhraseCount{{Phrase: "bike lane", Count: 3}}
	if diff := cmp.Diff(want, doc.TopPhrases); diff != "" {
		t.Errorf("top phrases (-want +got):\n%s", diff)
	}
	if doc.TopKeywords[0] != (KeywordCount{Word: "bike", Count: 3}) {
		t.Errorf("unexpected top keyword %+v", doc.TopKeywords[0])
	}
	if doc.TotalComments != 3 || doc.Explainability.UnlinkedFeedback != 1 {
		t.Errorf("unlinked text must not count as a comment: %d / %d", doc.TotalComments, doc.Explainability.UnlinkedFeedback)
	}
	if doc.SummaryText != noDataSummary {
		t.Errorf("summary = %q", doc.SummaryText)
	}
}
