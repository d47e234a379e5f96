package reconcile

import "github.com/Pouzor/servarr-hub/internal/connectors"

// MonitoredItems is the monitored_items dashboard statistic.
type MonitoredItems struct {
	Monitored   int `json:"monitored"`
	Unmonitored int `json:"unmonitored"`
	Downloading int `json:"downloading"`
	Downloaded  int `json:"downloaded"`
	Missing     int `json:"missing"`
	Queued      int `json:"queued"`
	Unreleased  int `json:"unreleased"`
}

// MonitoredRollup sums the acquisition managers' stats. A nil argument (source
// failed or unconfigured this pass) contributes nothing. Radarr counts movies,
// Sonarr counts series for monitored and episodes for downloaded/missing.
func MonitoredRollup(radarr, sonarr *connectors.Stats) MonitoredItems {
	var m MonitoredItems
	for _, st := range []*connectors.Stats{radarr, sonarr} {
		if st == nil {
			continue
		}
		m.Monitored += st.Monitored
		m.Unmonitored += max(st.Total-st.Monitored, 0)
		m.Downloaded += st.Downloaded
		m.Missing += st.Missing
	}
	return m
}

func (m MonitoredItems) details() map[string]int {
	return map[string]int{
		"monitored":   m.Monitored,
		"unmonitored": m.Unmonitored,
		"downloading": m.Downloading,
		"downloaded":  m.Downloaded,
		"missing":     m.Missing,
		"queued":      m.Queued,
		"unreleased":  m.Unreleased,
	}
}
