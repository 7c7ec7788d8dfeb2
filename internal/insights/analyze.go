package insights

import "time"

const (
	topKeywordLimit = 10
	topPhraseLimit  = 10
	highlightLimit  = 5
	sampleLimit     = 5
	minPhraseCount  = 2
)

// CommentInput is one comment as the analysis sees it. Score is nil until
// the sentiment worker has cached a score for the comment.
type CommentInput struct {
	ID        int64
	Text      string
	Score     *float64
	CreatedAt time.Time
}

type Input struct {
	ProjectID int64
	// Comments in stored order; clustering depends on it.
	Comments []CommentInput
	// UnlinkedTexts are processed queue items with no comment behind them.
	// They feed keyword and phrase counts only.
	UnlinkedTexts      []string
	MalformedSentiment int
}

// Analyze builds a full snapshot from in. It is deterministic apart from
// GeneratedAt, which is set to now.
func Analyze(in Input, now time.Time) Document {
	tokenFreq := newCounter()
	phraseFreq := newCounter()
	positive := newCounter()
	negative := newCounter()

	var (
		scores    []float64
		samples   []scoredAt
		clustered []tokenizedComment
	)

	for _, c := range in.Comments {
		tokens := Tokenize(c.Text)
		phs := phrases(tokens)
		tokenFreq.add(tokens...)
		phraseFreq.add(phs...)

		if len(tokens) > 0 {
			clustered = append(clustered, tokenizedComment{id: c.ID, tokens: tokens, set: tokenSet(tokens)})
		}
		if c.Score == nil {
			continue
		}
		score := *c.Score
		scores = append(scores, score)
		samples = append(samples, scoredAt{score: score, createdAt: c.CreatedAt})
		switch {
		case score > 0:
			positive.add(phs...)
		case score < 0:
			negative.add(phs...)
		}
	}
	for _, text := range in.UnlinkedTexts {
		tokens := Tokenize(text)
		tokenFreq.add(tokens...)
		phraseFreq.add(phrases(tokens)...)
	}

	topKeywords := make([]KeywordCount, 0, topKeywordLimit)
	for _, e := range tokenFreq.top(topKeywordLimit, 1) {
		topKeywords = append(topKeywords, KeywordCount{Word: e.key, Count: e.count})
	}
	topPhrases := make([]PhraseCount, 0, topPhraseLimit)
	for _, e := range phraseFreq.top(topPhraseLimit, minPhraseCount) {
		topPhrases = append(topPhrases, PhraseCount{Phrase: e.key, Count: e.count})
	}

	var avg *float64
	if len(scores) > 0 {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		mean := sum / float64(len(scores))
		avg = &mean
	}
	predominant := predominantLabel(avg)
	posHighlights := positive.topKeys(highlightLimit)
	negHighlights := negative.topKeys(highlightLimit)

	clusters := clusterComments(clustered)
	topics := mergeTopics(phraseFreq)
	total := len(in.Comments)

	return Document{
		ProjectID:          in.ProjectID,
		GeneratedAt:        now.UTC(),
		TotalComments:      total,
		AverageScore:       avg,
		Predominant:        predominant,
		Confidence:         Confidence(total, scores),
		TopKeywords:        topKeywords,
		TopPhrases:         topPhrases,
		PositiveHighlights: posHighlights,
		NegativeHighlights: negHighlights,
		SummaryText:        summaryText(predominant, avg, total, topPhrases, posHighlights, negHighlights),
		Clusters:           clusters,
		Topics:             topics,
		Trend:              computeTrend(samples),
		Explainability: Explainability{
			TopKeywords:        topKeywords,
			TopPhrases:         topPhrases,
			Clusters:           clusterSamples(clusters),
			Topics:             topicSamples(topics),
			ScoredComments:     len(scores),
			UnscoredComments:   total - len(scores),
			MalformedSentiment: in.MalformedSentiment,
			UnlinkedFeedback:   len(in.UnlinkedTexts),
		},
	}
}

func clusterSamples(clusters []Cluster) []ClusterSample {
	out := make([]ClusterSample, len(clusters))
	for i, c := range clusters {
		out[i] = ClusterSample{
			Size:        c.Size,
			TopKeywords: c.TopKeywords,
			SampleIDs:   c.MemberCommentIDs[:min(sampleLimit, len(c.MemberCommentIDs))],
		}
	}
	return out
}

func topicSamples(topics []Topic) []TopicSample {
	out := make([]TopicSample, len(topics))
	for i, t := range topics {
		out[i] = TopicSample{
			TopKeywords: t.TopKeywords,
			Phrases:     t.Phrases[:min(sampleLimit, len(t.Phrases))],
		}
	}
	return out
}
