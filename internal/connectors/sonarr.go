package connectors

import (
	"context"
	"net/url"
	"sort"
	"strconv"

	"github.com/Pouzor/servarr-hub/internal/playback"
	"github.com/Pouzor/servarr-hub/internal/types"
)

// Sonarr talks to the series acquisition manager (API v3).
type Sonarr struct {
	c   *client
	all listMemo[sonarrSeries]
}

type sonarrSeries struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	Year             int     `json:"year"`
	Added            string  `json:"added"`
	Overview         string  `json:"overview"`
	Monitored        bool    `json:"monitored"`
	QualityProfileID int     `json:"qualityProfileId"`
	Images           []image `json:"images"`
	Ratings          struct {
		Value float64 `json:"value"`
	} `json:"ratings"`
	Statistics struct {
		SizeOnDisk       int64 `json:"sizeOnDisk"`
		EpisodeCount     int   `json:"episodeCount"`
		EpisodeFileCount int   `json:"episodeFileCount"`
	} `json:"statistics"`
}

type sonarrEpisode struct {
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	AirDate       string `json:"airDate"`
	HasFile       bool   `json:"hasFile"`
	Series        struct {
		Title  string  `json:"title"`
		Images []image `json:"images"`
	} `json:"series"`
}

func (s *Sonarr) Source() types.Source { return types.SourceSonarr }

func (s *Sonarr) TestConnectivity(ctx context.Context) (bool, string) {
	return s.c.connectivity(ctx, "Sonarr", "/api/v3/system/status", "version")
}

func (s *Sonarr) series(ctx context.Context) ([]sonarrSeries, error) {
	return s.all.get(ctx, func(ctx context.Context) ([]sonarrSeries, error) {
		var out []sonarrSeries
		if err := s.c.getJSON(ctx, "list_series", "/api/v3/series", nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (s *Sonarr) FetchRecentItems(ctx context.Context, sinceDays int) ([]Item, error) {
	all, err := s.series(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.c.now().AddDate(0, 0, -sinceDays)
	var items []Item
	for _, sr := range all {
		added, ok := parseTime(sr.Added)
		if !ok || !added.After(cutoff) {
			continue
		}
		it := Item{
			Source:      types.SourceSonarr,
			ExternalID:  strconv.Itoa(sr.ID),
			Title:       sr.Title,
			Year:        sr.Year,
			MediaType:   types.MediaTV,
			ImageURL:    posterURL(sr.Images),
			Quality:     strconv.Itoa(sr.QualityProfileID),
			Description: sr.Overview,
			AddedAt:     added,
			Size:        formatSize(sr.Statistics.SizeOnDisk),
		}
		if sr.Ratings.Value > 0 {
			it.Rating = strconv.FormatFloat(sr.Ratings.Value, 'f', 1, 64)
		}
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].AddedAt.After(items[j].AddedAt) })
	return items, nil
}

// FetchUpcoming lists episodes airing in the next aheadDays, labelled S01E02.
func (s *Sonarr) FetchUpcoming(ctx context.Context, aheadDays int) ([]CalendarEntry, error) {
	start := day(s.c.now())
	q := url.Values{}
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", start.AddDate(0, 0, aheadDays).Format("2006-01-02"))
	q.Set("includeSeries", "true")

	var episodes []sonarrEpisode
	if err := s.c.getJSON(ctx, "calendar", "/api/v3/calendar", q, &episodes); err != nil {
		return nil, err
	}
	var out []CalendarEntry
	for _, ep := range episodes {
		air, ok := parseTime(ep.AirDate)
		if !ok {
			continue
		}
		title := ep.Series.Title
		if title == "" {
			title = "Unknown"
		}
		status := types.CalendarMonitored
		if ep.HasFile {
			status = types.CalendarAvailable
		}
		out = append(out, CalendarEntry{
			Source:      types.SourceSonarr,
			Title:       title,
			MediaType:   types.MediaTV,
			ReleaseDate: day(air),
			Episode:     playback.EpisodeLabel(ep.SeasonNumber, ep.EpisodeNumber),
			ImageURL:    posterURL(ep.Series.Images),
			Status:      status,
		})
	}
	return out, nil
}

func (s *Sonarr) FetchSummaryStats(ctx context.Context) (Stats, error) {
	all, err := s.series(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Source: types.SourceSonarr, Total: len(all), Series: len(all)}
	for _, sr := range all {
		if sr.Monitored {
			st.Monitored++
		}
		st.Episodes += sr.Statistics.EpisodeCount
		st.Downloaded += sr.Statistics.EpisodeFileCount
	}
	st.Missing = max(st.Episodes-st.Downloaded, 0)
	return st, nil
}
