package insights

// ClusterThreshold is the minimum Jaccard similarity to a cluster's seed.
const ClusterThreshold = 0.25

type tokenizedComment struct {
	id     int64
	tokens []string
	set    map[string]struct{}
}

// clusterComments is a single greedy pass in input order: each unassigned
// comment seeds a cluster and pulls in every later unassigned comment whose
// token set is similar enough to the seed's. Output depends on input order.
func clusterComments(comments []tokenizedComment) []Cluster {
	clusters := make([]Cluster, 0)
	assigned := make([]bool, len(comments))

	for i, seed := range comments {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		members := []int{i}
		for j := range comments {
			if assigned[j] {
				continue
			}
			if Jaccard(seed.set, comments[j].set) >= ClusterThreshold {
				assigned[j] = true
				members = append(members, j)
			}
		}
		clusters = append(clusters, summarizeCluster(comments, members))
	}
	return clusters
}

func summarizeCluster(comments []tokenizedComment, members []int) Cluster {
	keywords := newCounter()
	phraseCounts := newCounter()
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		c := comments[m]
		ids = append(ids, c.id)
		keywords.add(c.tokens...)
		phraseCounts.add(phrases(c.tokens)...)
	}
	return Cluster{
		Size:             len(members),
		MemberCommentIDs: ids,
		TopKeywords:      keywords.topKeys(5),
		TopPhrases:       phraseCounts.topKeys(5),
	}
}
