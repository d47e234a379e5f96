package connectors

import (
	"context"
	"net/url"
	"strconv"

	"github.com/Pouzor/servarr-hub/internal/types"
)

// Jellyfin talks to the streaming server with an X-Emby-Token header.
type Jellyfin struct {
	c *client
}

type jellyfinUser struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Policy struct {
		IsDisabled bool `json:"IsDisabled"`
	} `json:"Policy"`
}

type jellyfinCounts struct {
	MovieCount   int `json:"MovieCount"`
	SeriesCount  int `json:"SeriesCount"`
	EpisodeCount int `json:"EpisodeCount"`
}

type jellyfinItem struct {
	ID              string            `json:"Id"`
	Name            string            `json:"Name"`
	Type            string            `json:"Type"`
	ProductionYear  int               `json:"ProductionYear"`
	DateCreated     string            `json:"DateCreated"`
	Overview        string            `json:"Overview"`
	CommunityRating float64           `json:"CommunityRating"`
	ImageTags       map[string]string `json:"ImageTags"`
}

const jellyfinRecentLimit = 50

func (j *Jellyfin) Source() types.Source { return types.SourceJellyfin }

func (j *Jellyfin) TestConnectivity(ctx context.Context) (bool, string) {
	return j.c.connectivity(ctx, "Jellyfin", "/System/Info/Public", "Version")
}

// FetchRecentItems returns movies and series created within sinceDays.
func (j *Jellyfin) FetchRecentItems(ctx context.Context, sinceDays int) ([]Item, error) {
	q := url.Values{}
	q.Set("Limit", strconv.Itoa(jellyfinRecentLimit))
	q.Set("Recursive", "true")
	q.Set("SortBy", "DateCreated")
	q.Set("SortOrder", "Descending")
	q.Set("IncludeItemTypes", "Movie,Series")
	q.Set("Fields", "DateCreated,Overview")

	var resp struct {
		Items []jellyfinItem `json:"Items"`
	}
	if err := j.c.getJSON(ctx, "recent_items", "/Items", q, &resp); err != nil {
		return nil, err
	}
	cutoff := j.c.now().AddDate(0, 0, -sinceDays)
	var items []Item
	for _, it := range resp.Items {
		created, ok := parseTime(it.DateCreated)
		if !ok || !created.After(cutoff) {
			continue
		}
		mt := types.MediaMovie
		if it.Type == "Series" {
			mt = types.MediaTV
		}
		out := Item{
			Source:      types.SourceJellyfin,
			ExternalID:  it.ID,
			Title:       it.Name,
			Year:        it.ProductionYear,
			MediaType:   mt,
			Description: it.Overview,
			AddedAt:     created,
		}
		if _, ok := it.ImageTags["Primary"]; ok {
			out.ImageURL = j.c.baseURL + "/Items/" + url.PathEscape(it.ID) + "/Images/Primary"
		}
		if it.CommunityRating > 0 {
			out.Rating = strconv.FormatFloat(it.CommunityRating, 'f', 1, 64)
		}
		items = append(items, out)
	}
	return items, nil
}

// FetchUpcoming is empty: the streaming server has no release calendar.
func (j *Jellyfin) FetchUpcoming(context.Context, int) ([]CalendarEntry, error) {
	return nil, nil
}

func (j *Jellyfin) FetchSummaryStats(ctx context.Context) (Stats, error) {
	var users []jellyfinUser
	if err := j.c.getJSON(ctx, "users", "/Users", nil, &users); err != nil {
		return Stats{}, err
	}
	var counts jellyfinCounts
	if err := j.c.getJSON(ctx, "item_counts", "/Items/Counts", nil, &counts); err != nil {
		return Stats{}, err
	}
	st := Stats{
		Source:   types.SourceJellyfin,
		Users:    len(users),
		Movies:   counts.MovieCount,
		Series:   counts.SeriesCount,
		Episodes: counts.EpisodeCount,
	}
	for _, u := range users {
		if !u.Policy.IsDisabled {
			st.ActiveUsers++
		}
	}
	return st, nil
}
