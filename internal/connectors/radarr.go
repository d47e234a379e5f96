package connectors

import (
	"context"
	"net/url"
	"sort"
	"strconv"

	"github.com/Pouzor/servarr-hub/internal/types"
)

// Radarr talks to the movie acquisition manager (API v3).
type Radarr struct {
	c   *client
	all listMemo[radarrMovie]
}

type radarrMovie struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	Year             int     `json:"year"`
	Added            string  `json:"added"`
	Overview         string  `json:"overview"`
	Monitored        bool    `json:"monitored"`
	HasFile          bool    `json:"hasFile"`
	SizeOnDisk       int64   `json:"sizeOnDisk"`
	QualityProfileID int     `json:"qualityProfileId"`
	PhysicalRelease  string  `json:"physicalRelease"`
	DigitalRelease   string  `json:"digitalRelease"`
	Images           []image `json:"images"`
	Ratings          struct {
		IMDB struct {
			Value float64 `json:"value"`
		} `json:"imdb"`
	} `json:"ratings"`
}

func (r *Radarr) Source() types.Source { return types.SourceRadarr }

func (r *Radarr) TestConnectivity(ctx context.Context) (bool, string) {
	return r.c.connectivity(ctx, "Radarr", "/api/v3/system/status", "version")
}

func (r *Radarr) movies(ctx context.Context) ([]radarrMovie, error) {
	return r.all.get(ctx, func(ctx context.Context) ([]radarrMovie, error) {
		var out []radarrMovie
		if err := r.c.getJSON(ctx, "list_movies", "/api/v3/movie", nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// FetchRecentItems returns movies added within sinceDays, newest first.
func (r *Radarr) FetchRecentItems(ctx context.Context, sinceDays int) ([]Item, error) {
	movies, err := r.movies(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := r.c.now().AddDate(0, 0, -sinceDays)
	var items []Item
	for _, m := range movies {
		added, ok := parseTime(m.Added)
		if !ok || !added.After(cutoff) {
			continue
		}
		it := Item{
			Source:      types.SourceRadarr,
			ExternalID:  strconv.Itoa(m.ID),
			Title:       m.Title,
			Year:        m.Year,
			MediaType:   types.MediaMovie,
			ImageURL:    posterURL(m.Images),
			Quality:     strconv.Itoa(m.QualityProfileID),
			Description: m.Overview,
			AddedAt:     added,
			Size:        formatSize(m.SizeOnDisk),
		}
		if m.Ratings.IMDB.Value > 0 {
			it.Rating = strconv.FormatFloat(m.Ratings.IMDB.Value, 'f', 1, 64)
		}
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].AddedAt.After(items[j].AddedAt) })
	return items, nil
}

// FetchUpcoming lists movies whose physical or digital release falls in the
// next aheadDays. Movies with neither date are skipped.
func (r *Radarr) FetchUpcoming(ctx context.Context, aheadDays int) ([]CalendarEntry, error) {
	start := day(r.c.now())
	q := url.Values{}
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", start.AddDate(0, 0, aheadDays).Format("2006-01-02"))

	var movies []radarrMovie
	if err := r.c.getJSON(ctx, "calendar", "/api/v3/calendar", q, &movies); err != nil {
		return nil, err
	}
	var out []CalendarEntry
	for _, m := range movies {
		raw := m.PhysicalRelease
		if raw == "" {
			raw = m.DigitalRelease
		}
		rel, ok := parseTime(raw)
		if !ok {
			continue
		}
		status := types.CalendarMonitored
		if m.HasFile {
			status = types.CalendarAvailable
		}
		out = append(out, CalendarEntry{
			Source:      types.SourceRadarr,
			Title:       m.Title,
			MediaType:   types.MediaMovie,
			ReleaseDate: day(rel),
			ImageURL:    posterURL(m.Images),
			Status:      status,
		})
	}
	return out, nil
}

func (r *Radarr) FetchSummaryStats(ctx context.Context) (Stats, error) {
	movies, err := r.movies(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Source: types.SourceRadarr, Total: len(movies)}
	for _, m := range movies {
		if m.Monitored {
			st.Monitored++
		}
		if m.HasFile {
			st.Downloaded++
		}
	}
	st.Missing = max(st.Monitored-st.Downloaded, 0)
	return st, nil
}
