package syncer

import "fmt"

// Report summarizes one podcast's sync pass.
type Report struct {
	CastID   int32
	CastName string

	NewEpisodes  int
	Downloaded   int
	Deduplicated int
	Failed       int
	Repaired     int
	Requeued     int

	// Err is set when the pass aborted before reaching the download stage,
	// for example because the feed was unreachable or unparseable. On an
	// aborted pass the counts are a lower bound: downloads still in flight
	// at the abort are recorded in the catalog once they settle, but not
	// here.
	Err error
}

// Summarize renders a short human-readable line for notifications.
func Summarize(reports []Report) string {
	var newEpisodes, downloaded, reused, failed, aborted int

	for _, r := range reports {
		newEpisodes += r.NewEpisodes
		downloaded += r.Downloaded
		reused += r.Deduplicated
		failed += r.Failed

		if r.Err != nil {
			aborted++
		}
	}

	s := fmt.Sprintf("synced %d podcasts: %d new episodes, %d downloaded", len(reports), newEpisodes, downloaded)

	if reused > 0 {
		s += fmt.Sprintf(", %d reused", reused)
	}

	if failed > 0 {
		s += fmt.Sprintf(", %d failed", failed)
	}

	if aborted > 0 {
		s += fmt.Sprintf(", %d feeds unreachable", aborted)
	}

	return s
}
