package web

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	appLog "taskcal/internal/log"
	"taskcal/internal/model"
)

//go:embed templates/agenda.html
var templateFS embed.FS

var agendaTmpl = template.Must(template.ParseFS(templateFS, "templates/agenda.html"))

type agendaItem struct {
	Time    string
	Title   string
	Color   string
	Done    bool
	Moved   bool
	Repeats bool
}

type agendaDay struct {
	Label string
	Items []agendaItem
}

type agendaPage struct {
	Generated string
	TimeZone  string
	Days      []agendaDay
}

// buildAgenda groups occurrences by calendar day in loc. Every day of the
// window gets an entry, empty or not.
func buildAgenda(occ []model.Occurrence, w model.Window, loc *time.Location) []agendaDay {
	first := w.Start.In(loc)
	first = time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)

	var days []agendaDay
	index := make(map[string]int)
	for d := first; d.Before(w.End); d = d.AddDate(0, 0, 1) {
		index[d.Format(time.DateOnly)] = len(days)
		days = append(days, agendaDay{Label: d.Format("Mon, Jan 2")})
	}

	for _, o := range occ {
		local := o.StartUTC.In(loc)
		i, ok := index[local.Format(time.DateOnly)]
		if !ok {
			continue
		}
		days[i].Items = append(days[i].Items, agendaItem{
			Time:    local.Format("15:04"),
			Title:   o.Title,
			Color:   o.Color,
			Done:    o.Status == model.StatusDone,
			Moved:   o.Source == model.SourceOverrideMoved,
			Repeats: o.IsRecurring,
		})
	}
	return days
}

// handleAgenda renders the day-grouped agenda page used for snapshots.
//
// GET /agenda?days=7&tz=Europe/Berlin
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	wq, err := s.parseWindow(r.URL.Query(), 7)
	if err != nil {
		writeBadWindow(w, err)
		return
	}

	occ, err := s.expand(r, wq.window)
	if err != nil {
		writeFailure(w, "render agenda", err)
		return
	}

	page := agendaPage{
		Generated: s.now().In(wq.loc).Format("2006-01-02 15:04"),
		TimeZone:  wq.loc.String(),
		Days:      buildAgenda(occ, wq.window, wq.loc),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := agendaTmpl.Execute(w, page); err != nil {
		appLog.Error("agenda render failed", err)
	}
}
