package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"teamcal/internal/models"
)

// maxPages stops a source that keeps handing out continuation tokens.
const maxPages = 1000

// Source searches one person's calendar.
type Source interface {
	Search(ctx context.Context, owner string, q models.Query) (*models.Page, error)
}

// PairResult is the outcome of discovery for one (identity, keyword) pair.
// Err is set when the pair failed; Events is then empty.
type PairResult struct {
	Identity string
	Keyword  string
	Events   []*models.Event
	Err      error
}

// Discoverer runs paginated keyword searches.
type Discoverer struct {
	source  Source
	logger  *slog.Logger
	timeout time.Duration
}

// NewDiscoverer creates a Discoverer. Each page request is bounded by timeout.
func NewDiscoverer(logger *slog.Logger, source Source, timeout time.Duration) *Discoverer {
	return &Discoverer{source: source, logger: logger, timeout: timeout}
}

// Discover returns every event in identity's calendar within [start, end)
// that the source matches against keyword, deleted events included. When
// since is set only events modified at or after it are requested. Pages are
// accumulated until the source stops returning a continuation token.
func (d *Discoverer) Discover(ctx context.Context, identity, keyword string, start, end time.Time, since *time.Time) PairResult {
	res := PairResult{Identity: identity, Keyword: keyword}
	q := models.Query{
		Text:        keyword,
		TimeMin:     start,
		TimeMax:     end,
		ShowDeleted: true,
		UpdatedMin:  since,
	}

	var events []*models.Event
	for page := 0; ; page++ {
		if page == maxPages {
			res.Err = fmt.Errorf("gave up after %d pages", maxPages)
			break
		}
		p, err := d.search(ctx, identity, q)
		if err != nil {
			res.Err = err
			break
		}
		events = append(events, p.Items...)
		if p.NextPageToken == "" {
			res.Events = events
			break
		}
		q.PageToken = p.NextPageToken
	}

	if res.Err != nil {
		d.logger.Error("Error retrieving events, skipping", "identity", identity, "keyword", keyword, "error", res.Err)
		return res
	}
	d.logger.Debug("Discovered events", "identity", identity, "keyword", keyword, "count", len(res.Events))
	return res
}

func (d *Discoverer) search(ctx context.Context, identity string, q models.Query) (*models.Page, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	p, err := d.source.Search(ctx, identity, q)
	if err != nil {
		return nil, fmt.Errorf("search %q page %q: %w", q.Text, q.PageToken, err)
	}
	if p == nil {
		return &models.Page{}, nil
	}
	return p, nil
}
