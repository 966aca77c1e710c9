package catalog

// DiffResult splits feed candidates into episodes the catalog already
// tracks and episodes that still have to be inserted and downloaded.
type DiffResult struct {
	New   []Candidate
	Known []Candidate
}

type episodeKey struct {
	castID    int32
	episodeID int32
}

type urlKey struct {
	castID int32
	url    string
}

// Diff matches candidates against tracked episodes by (castid, episodeid)
// and by (castid, epurl). A candidate matching either key is known,
// whatever the stored status of the match. New candidates keep their
// document order.
func Diff(candidates []Candidate, existing []Episode) DiffResult {
	byID := make(map[episodeKey]struct{}, len(existing))
	byURL := make(map[urlKey]struct{}, len(existing))

	for _, ep := range existing {
		byID[episodeKey{ep.CastID, ep.EpisodeID}] = struct{}{}
		byURL[urlKey{ep.CastID, ep.URL}] = struct{}{}
	}

	var result DiffResult

	for _, c := range candidates {
		if _, ok := byID[episodeKey{c.CastID, c.EpisodeID}]; ok {
			result.Known = append(result.Known, c)

			continue
		}

		if _, ok := byURL[urlKey{c.CastID, c.URL}]; ok {
			result.Known = append(result.Known, c)

			continue
		}

		result.New = append(result.New, c)
	}

	return result
}
