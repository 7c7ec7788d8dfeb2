package insights

import "strings"

// mergeTopics groups phrases sharing at least one token. Phrases are visited
// by descending frequency; each unassigned phrase seeds a topic that absorbs
// every other unassigned phrase sharing a token with the seed.
func mergeTopics(phraseFreq *counter) []Topic {
	ranked := phraseFreq.ranked(1)
	split := make([][]string, len(ranked))
	for i, e := range ranked {
		split[i] = strings.Split(e.key, " ")
	}

	topics := make([]Topic, 0)
	assigned := make([]bool, len(ranked))
	for i, seed := range ranked {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		seedTokens := tokenSet(split[i])
		topic := Topic{Phrases: []string{seed.key}, Score: seed.count}
		for j, other := range ranked {
			if assigned[j] || !sharesToken(seedTokens, split[j]) {
				continue
			}
			assigned[j] = true
			topic.Phrases = append(topic.Phrases, other.key)
			topic.Score += other.count
		}

		keywords := newCounter()
		for _, p := range topic.Phrases {
			keywords.add(strings.Split(p, " ")...)
		}
		topic.TopKeywords = keywords.topKeys(5)
		topics = append(topics, topic)
	}
	return topics
}

func sharesToken(set map[string]struct{}, tokens []string) bool {
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
