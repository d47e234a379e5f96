package connectors

import (
	"context"
	"net/url"
	"strconv"

	"github.com/Pouzor/servarr-hub/internal/types"
)

// Jellyseerr talks to the request broker (API v1).
type Jellyseerr struct {
	c *client
}

const (
	tmdbPosterBase     = "https://image.tmdb.org/t/p/w500"
	pendingRequestTake = 50
	statsRequestTake   = 1000

	requestPending  = 1
	requestApproved = 2
	requestDeclined = 3
)

type seerrRequest struct {
	ID        int    `json:"id"`
	Status    int    `json:"status"`
	Type      string `json:"type"`
	Is4K      bool   `json:"is4k"`
	CreatedAt string `json:"createdAt"`
	Media     struct {
		Title       string `json:"title"`
		ReleaseDate string `json:"releaseDate"`
		PosterPath  string `json:"posterPath"`
		Overview    string `json:"overview"`
	} `json:"media"`
	RequestedBy struct {
		DisplayName string `json:"displayName"`
	} `json:"requestedBy"`
}

func (s *Jellyseerr) Source() types.Source { return types.SourceJellyseerr }

func (s *Jellyseerr) TestConnectivity(ctx context.Context) (bool, string) {
	return s.c.connectivity(ctx, "Jellyseerr", "/api/v1/status", "version")
}

func (s *Jellyseerr) requests(ctx context.Context, take int, filter string) ([]seerrRequest, error) {
	q := url.Values{}
	q.Set("take", strconv.Itoa(take))
	q.Set("skip", "0")
	q.Set("filter", filter)
	var resp struct {
		Results []seerrRequest `json:"results"`
	}
	if err := s.c.getJSON(ctx, "requests_"+filter, "/api/v1/request", q, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// FetchRecentItems returns the pending requests; sinceDays is not used since
// a pending request is current regardless of age.
func (s *Jellyseerr) FetchRecentItems(ctx context.Context, _ int) ([]Item, error) {
	reqs, err := s.requests(ctx, pendingRequestTake, "pending")
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(reqs))
	for _, r := range reqs {
		title := r.Media.Title
		if title == "" {
			title = "Unknown"
		}
		it := Item{
			Source:      types.SourceJellyseerr,
			ExternalID:  strconv.Itoa(r.ID),
			Title:       title,
			MediaType:   types.MediaTV,
			Quality:     "1080p",
			Description: r.Media.Overview,
			RequestedBy: r.RequestedBy.DisplayName,
			Priority:    types.PriorityMedium,
		}
		if r.Type == "movie" {
			it.MediaType = types.MediaMovie
		}
		if r.Is4K {
			it.Quality = "4K"
		}
		if len(r.Media.ReleaseDate) >= 4 {
			it.Year, _ = strconv.Atoi(r.Media.ReleaseDate[:4])
		}
		if r.Media.PosterPath != "" {
			it.ImageURL = tmdbPosterBase + r.Media.PosterPath
		}
		if it.RequestedBy == "" {
			it.RequestedBy = "Unknown"
		}
		if t, ok := parseTime(r.CreatedAt); ok {
			it.AddedAt = t
		}
		items = append(items, it)
	}
	return items, nil
}

// FetchUpcoming is empty: requests have no release calendar.
func (s *Jellyseerr) FetchUpcoming(context.Context, int) ([]CalendarEntry, error) {
	return nil, nil
}

func (s *Jellyseerr) FetchSummaryStats(ctx context.Context) (Stats, error) {
	reqs, err := s.requests(ctx, statsRequestTake, "all")
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Source: types.SourceJellyseerr, Total: len(reqs)}
	for _, r := range reqs {
		switch r.Status {
		case requestPending:
			st.Pending++
		case requestApproved:
			st.Approved++
		case requestDeclined:
			st.Declined++
		}
	}
	return st, nil
}
