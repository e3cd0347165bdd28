package route

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"ganapp/src-server/model"
	"ganapp/src-server/notify"

	"github.com/uptrace/bun"
)

type surveyResp struct {
	*model.Survey
	Responded bool `json:"responded"`
}

func Survey(rt *router) {
	as := rt.as
	svc := rt.svc

	type SurveyReqBody struct {
		Title       string           `json:"title"       validate:"required,max=200"`
		Description string           `json:"description" validate:"max=2000"`
		Questions   []model.Question `json:"questions"   validate:"required,min=1,max=50"`
	}

	rt.handle("PUT /events/{id}/survey", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadManagedEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		var reqBody SurveyReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		survey := &model.Survey{
			EventID:     event.ID,
			Title:       reqBody.Title,
			Description: reqBody.Description,
			Questions:   reqBody.Questions,
		}
		if err := as.BunDB.RunInTx(r.Context(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			return survey.Upsert(ctx, tx)
		}); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, survey)
	}))

	setOpen := func(open bool) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			event, err := loadManagedEvent(as, r)
			if err != nil {
				writeError(w, err)
				return
			}
			survey, err := model.GetSurvey(r.Context(), as.BunDB, event.ID)
			if err != nil {
				writeError(w, err)
				return
			}
			wasOpen := survey.IsOpen
			if err := survey.SetOpen(r.Context(), as.BunDB, open); err != nil {
				writeError(w, err)
				return
			}
			if open && !wasOpen {
				attendees, err := model.AttendeeUserIDs(r.Context(), as.BunDB, event.ID)
				if err != nil {
					writeError(w, err)
					return
				}
				svc.Dispatcher.Notify(r.Context(), attendees, notify.Message{
					Kind:  model.NotificationKindSurvey,
					Title: "Evaluation is open",
					Body:  fmt.Sprintf("Tell us how %q went. Answer the evaluation to get your certificate.", event.Title),
					Link:  eventLink(event) + "/survey",
					Email: true,
				})
			}
			writeJSON(w, http.StatusOK, survey)
		}
	}
	rt.handle("POST /events/{id}/survey/open", AuthMiddleware(as, setOpen(true)))
	rt.handle("POST /events/{id}/survey/close", AuthMiddleware(as, setOpen(false)))

	rt.handle("GET /events/{id}/survey", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		survey, err := model.GetSurvey(r.Context(), as.BunDB, event.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		responded, err := model.HasResponded(r.Context(), as.BunDB, survey.ID, currentUser(r).ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, surveyResp{Survey: survey, Responded: responded})
	}))

	type ResponseReqBody struct {
		Answers map[string]string `json:"answers" validate:"required"`
	}

	rt.handle("POST /events/{id}/survey/responses", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		var reqBody ResponseReqBody
		if err := decodeJSON(r, &reqBody); err != nil {
			writeError(w, err)
			return
		}
		var response *model.SurveyResponse
		if err := as.BunDB.RunInTx(r.Context(), &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			survey, err := model.GetSurvey(ctx, tx, event.ID)
			if err != nil {
				return err
			}
			response, err = model.SubmitSurveyResponse(ctx, tx, survey, currentUser(r).ID, reqBody.Answers)
			return err
		}); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, response)
	}))

	rt.handle("GET /events/{id}/survey/summary", AuthMiddleware(as, func(w http.ResponseWriter, r *http.Request) {
		event, err := loadManagedEvent(as, r)
		if err != nil {
			writeError(w, err)
			return
		}
		survey, err := model.GetSurvey(r.Context(), as.BunDB, event.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		summary, err := model.SummarizeSurvey(r.Context(), as.BunDB, survey)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}))
}
