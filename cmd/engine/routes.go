package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/padelyzer/tournament-engine/internal/bracket"
	"github.com/padelyzer/tournament-engine/internal/httputil"
	"github.com/padelyzer/tournament-engine/internal/notify"
	"github.com/padelyzer/tournament-engine/internal/progression"
	"github.com/padelyzer/tournament-engine/internal/reschedule"
	"github.com/padelyzer/tournament-engine/internal/service"
)

type api struct {
	tournaments *service.TournamentService
	matches     *service.MatchService
	reschedules *service.RescheduleService
	hub         *notify.Hub
}

func newRouter(app *api) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/ws/tournaments/{tournamentID}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "tournamentID")
		if !ok {
			return
		}
		app.hub.Serve(w, r, id)
	})

	r.Route("/tournaments", func(r chi.Router) {
		r.Post("/", app.createTournament)
		r.Get("/", app.listTournaments)

		r.Route("/{tournamentID}", func(r chi.Router) {
			r.Get("/", app.getTournament)
			r.Post("/status", app.transition)
			r.Post("/teams", app.register)
			r.Put("/facility", app.setFacility)
			r.Post("/start", app.start)
			r.Get("/bracket", app.bracket)
			r.Get("/standings", app.standings)
			r.Get("/schedule/report", app.scheduleReport)
			r.Post("/schedule/confirm", app.confirmUpcoming)

			r.Post("/teams/{teamID}/withdraw", app.withdraw)

			r.Route("/matches/{matchID}", func(r chi.Router) {
				r.Get("/", app.getMatch)
				r.Post("/start", app.startMatch)
				r.Post("/result", app.recordResult)
				r.Post("/walkover", app.recordWalkover)
				r.Post("/postpone", app.postpone)
				r.Post("/cancel", app.cancel)
				r.Get("/alternatives", app.alternatives)
				r.Post("/reschedule", app.rescheduleMatch)
			})

			r.Route("/reschedule", func(r chi.Router) {
				r.Post("/bulk", app.bulkReschedule)
				r.Post("/postpone-day", app.postponeDay)
				r.Post("/compress", app.compress)
				r.Post("/expand", app.expand)
				r.Post("/makeup", app.makeup)
			})
		})
	})

	return r
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		httputil.BadRequest(w, "Invalid "+key, err)
		return uuid.Nil, false
	}
	return id, true
}

// decode reads the request body into dst, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.ReadJSON(w, r, dst); err != nil {
		httputil.BadRequest(w, err.Error(), err)
		return false
	}
	return true
}

func (app *api) createTournament(w http.ResponseWriter, r *http.Request) {
	var in bracket.Tournament
	if !decode(w, r, &in) {
		return
	}
	t, err := app.tournaments.CreateTournament(r.Context(), in)
	if err != nil {
		httputil.Error(w, "Failed to create tournament", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (app *api) listTournaments(w http.ResponseWriter, r *http.Request) {
	var status []bracket.TournamentStatus
	for _, s := range r.URL.Query()["status"] {
		status = append(status, bracket.TournamentStatus(s))
	}
	ts, err := app.tournaments.ListTournaments(r.Context(), status...)
	if err != nil {
		httputil.Error(w, "Failed to list tournaments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ts)
}

func (app *api) getTournament(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	t, err := app.tournaments.GetTournament(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to get tournament", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (app *api) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var in struct {
		Status bracket.TournamentStatus `json:"status"`
	}
	if !decode(w, r, &in) {
		return
	}
	t, err := app.tournaments.Transition(r.Context(), id, in.Status)
	if err != nil {
		httputil.Error(w, "Failed to change tournament status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (app *api) register(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var teams []*bracket.Team
	if !decode(w, r, &teams) {
		return
	}
	saved, err := app.tournaments.Register(r.Context(), id, teams)
	if err != nil {
		httputil.Error(w, "Failed to register teams", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, saved)
}

func (app *api) setFacility(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var in service.Facility
	if !decode(w, r, &in) {
		return
	}
	if err := app.tournaments.SetFacility(r.Context(), id, in); err != nil {
		httputil.Error(w, "Failed to save facility", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *api) start(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var opts service.StartOptions
	if r.ContentLength != 0 && !decode(w, r, &opts) {
		return
	}
	res, err := app.tournaments.Start(r.Context(), id, opts)
	if err != nil {
		httputil.Error(w, "Failed to start tournament", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (app *api) bracket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	v, err := app.tournaments.View(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to get bracket", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (app *api) standings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	rows, err := app.tournaments.Standings(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to get standings", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rows)
}

func (app *api) scheduleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	report, err := app.tournaments.ScheduleReport(r.Context(), id)
	if err != nil {
		httputil.Error(w, "Failed to build schedule report", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (app *api) confirmUpcoming(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var in struct {
		HorizonHours int `json:"horizon_hours"`
	}
	if !decode(w, r, &in) {
		return
	}
	n, err := app.matches.ConfirmUpcoming(r.Context(), id, time.Duration(in.HorizonHours)*time.Hour)
	if err != nil {
		httputil.Error(w, "Failed to confirm schedules", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"confirmed": n})
}

func (app *api) withdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	var in struct {
		Reason reschedule.Reason `json:"reason"`
	}
	if !decode(w, r, &in) {
		return
	}
	out, err := app.reschedules.HandleTeamWithdrawal(r.Context(), id, teamID, in.Reason)
	if err != nil {
		httputil.Error(w, "Failed to withdraw team", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (app *api) matchIDs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	tid, ok := pathID(w, r, "tournamentID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	mid, ok := pathID(w, r, "matchID")
	return tid, mid, ok
}

func (app *api) getMatch(w http.ResponseWriter, r *http.Request) {
	tid, mid, ok := app.matchIDs(w, r)
	if !ok {
		return
	}
	m, sc, err := app.matches.GetMatch(r.Context(), tid, mid)
	if err != nil {
		httputil.Error(w, "Failed to get match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"match": m, "schedule": sc})
}

func (app *api) startMatch(w http.ResponseWriter, r *http.Request) {
	tid, mid, ok := app.matchIDs(w, r)
	if !ok {
		return
	}
	upd, err := app.matches.StartMatch(r.Context(), tid, mid)
	if err != nil {
		httputil.Error(w, "Failed to start match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, upd)
}

func (app *api) recordResult(w http.ResponseWriter, r *http.Request) {
	tid, mid, ok := app.matchIDs(w, r)
	if !ok {
		return
	}
	var in progression.Result
	if !decode(w, r, &in) {
		return
	}
	in.MatchID = mid
	upd, err := app.matches.RecordResult(r.Context(), tid, in)
	if err != nil {
		httputil.Error(w, "Failed to record result", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, upd)
}

func (app *api) recordWalkover(w http.ResponseWriter, r *http.Request) {
	tid, mid, ok := app.matchIDs(w, r)
	if !ok {
		return
	}
	var in struct {
		Winner uuid.UUID `json:"winner_id"`
	}
	if !decode(w, r, &in) {
		return
	}
	upd, err := app.matches.RecordWalkover(r.Context(), tid, mid, in.Winner)
	if err != nil {
		httputil.Error(w, "Failed to record walkover", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, upd)
}

func (app *api) postpone(w http.ResponseWriter, r *http.Request) {
	tid, mid, ok := app.matchIDs(w, r)
	if !ok {
		return
	}
	upd, err := app.matches.Postpone(r.Context(), tid, mid)
	if err != nil {
		httputil.Error(w, "Failed to postpone match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, upd)
}

func (app *api) cancel(w http.ResponseWriter, r *http.Request) {
	tid, mid, ok := app.matchIDs(w, r)
	if !ok {
		return
	}
	upd, err := app.matches.Cancel(r.Context(), tid, mid)
	if err != nil {
		httputil.Error(w, "Failed to cancel match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, upd)
}

func (app *api) alternatives(w http.ResponseWriter, r *http.Request) {
	tid, mid, ok := app.matchIDs(w, r)
	if !ok {
		return
	}
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		httputil.BadRequest(w, "Invalid from time", err)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		httputil.BadRequest(w, "Invalid to time", err)
		return
	}
	choices, err := app.matches.Alternatives(r.Context(), tid, mid, from, to)
	if err != nil {
		httputil.Error(w, "Failed to list alternatives", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, choices)
}

func (app *api) rescheduleMatch(w http.ResponseWriter, r *http.Request) {
	tid, mid, ok := app.matchIDs(w, r)
	if !ok {
		return
	}
	var in struct {
		Reason    reschedule.Reason `json:"reason"`
		Preferred *time.Time        `json:"preferred,omitempty"`
	}
	if !decode(w, r, &in) {
		return
	}
	out, err := app.reschedules.RescheduleMatch(r.Context(), tid, mid, in.Reason, in.Preferred)
	if err != nil {
		httputil.Error(w, "Failed to reschedule match", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (app *api) bulkReschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var in struct {
		MatchIDs []uuid.UUID       `json:"match_ids"`
		Reason   reschedule.Reason `json:"reason"`
	}
	if !decode(w, r, &in) {
		return
	}
	out, err := app.reschedules.BulkReschedule(r.Context(), id, in.MatchIDs, in.Reason)
	if err != nil {
		httputil.Error(w, "Failed to reschedule matches", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (app *api) postponeDay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var in struct {
		Day         time.Time         `json:"day"`
		OutdoorOnly bool              `json:"outdoor_only"`
		Reason      reschedule.Reason `json:"reason"`
	}
	if !decode(w, r, &in) {
		return
	}
	out, err := app.reschedules.PostponeDay(r.Context(), id, in.Day, in.OutdoorOnly, in.Reason)
	if err != nil {
		httputil.Error(w, "Failed to postpone day", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type endRequest struct {
	End time.Time `json:"end"`
}

func (app *api) compress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var in endRequest
	if !decode(w, r, &in) {
		return
	}
	out, err := app.reschedules.CompressSchedule(r.Context(), id, in.End)
	if err != nil {
		httputil.Error(w, "Failed to compress schedule", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (app *api) expand(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var in endRequest
	if !decode(w, r, &in) {
		return
	}
	out, err := app.reschedules.ExpandSchedule(r.Context(), id, in.End)
	if err != nil {
		httputil.Error(w, "Failed to expand schedule", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (app *api) makeup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "tournamentID")
	if !ok {
		return
	}
	var in struct {
		MatchIDs []uuid.UUID `json:"match_ids"`
	}
	if r.ContentLength != 0 && !decode(w, r, &in) {
		return
	}
	out, err := app.reschedules.AddMakeupMatches(r.Context(), id, in.MatchIDs)
	if err != nil {
		httputil.Error(w, "Failed to add makeup matches", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
