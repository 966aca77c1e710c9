// Package feed turns RSS documents into episode candidates for the
// catalog. Parsing is a pure transform; fetching the document is the
// caller's job.
package feed

import (
	"encoding/xml"
	"fmt"
	"strings"

	"podcatch/internal/catalog"
)

// ParseError represents a feed document the parser could not make sense
// of: malformed XML or a root element that is not an RSS feed.
type ParseError struct {
	Reason string // Human-readable explanation of the failure
	Err    error  // Underlying decoder error, if any
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse feed: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Feed is a parsed RSS document.
type Feed struct {
	Title      string
	Candidates []catalog.Candidate
}

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title     string       `xml:"title"`
	GUID      string       `xml:"guid"`
	Enclosure rssEnclosure `xml:"enclosure"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length int64  `xml:"length,attr"`
}

// Parse decodes an RSS document and assigns episode ordinals to its items
// in document order, starting at nextEpisodeID. Items without an enclosure
// URL carry nothing to download and are dropped without consuming an
// ordinal.
func Parse(data []byte, castID, nextEpisodeID int32) (*Feed, error) {
	var doc rssDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Reason: "malformed feed document", Err: err}
	}

	feed := &Feed{Title: strings.TrimSpace(doc.Channel.Title)}

	episodeID := nextEpisodeID

	for _, item := range doc.Channel.Items {
		url := strings.TrimSpace(item.Enclosure.URL)
		if url == "" {
			continue
		}

		feed.Candidates = append(feed.Candidates, catalog.Candidate{
			CastID:    castID,
			EpisodeID: episodeID,
			Title:     strings.TrimSpace(item.Title),
			URL:       url,
			EncType:   strings.TrimSpace(item.Enclosure.Type),
			GUID:      strings.TrimSpace(item.GUID),
		})

		episodeID++
	}

	return feed, nil
}
