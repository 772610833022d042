package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sngm3741/emaily/api/internal/interfaces/http/common"
	"github.com/sngm3741/emaily/api/internal/survey/application"
	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

func (h *Handler) surveyCreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := common.UserFromContext(r.Context())
		if !ok || user.AccountID == "" {
			common.WriteError(h.logger, w, http.StatusUnauthorized, "ログインしてください")
			return
		}

		data, err := readBody(r, common.MaxSurveyRequestBody)
		if err != nil {
			common.WriteError(h.logger, w, http.StatusBadRequest, fmt.Sprintf("リクエストの形式が不正です: %v", err))
			return
		}

		var req createSurveyRequest
		if err := decodeStrict(data, &req); err != nil {
			common.WriteError(h.logger, w, http.StatusBadRequest, fmt.Sprintf("リクエストの形式が不正です: %v", err))
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		req.Subject = strings.TrimSpace(req.Subject)
		req.Body = strings.TrimSpace(req.Body)
		if err := h.validate.Struct(req); err != nil {
			common.WriteError(h.logger, w, http.StatusBadRequest, validationMessage(err))
			return
		}

		result, err := h.surveyCommands.Create(r.Context(), application.CreateSurveyCommand{
			AccountID:  user.AccountID,
			Title:      req.Title,
			Subject:    req.Subject,
			Body:       req.Body,
			Recipients: req.Recipients,
		})
		if err != nil {
			h.writeCreateError(w, err)
			return
		}

		common.WriteJSON(h.logger, w, http.StatusOK, result.Account)
	}
}

func (h *Handler) writeCreateError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var dispatchErr *domain.DispatchError

	switch {
	case errors.As(err, &validationErr):
		common.WriteJSON(h.logger, w, http.StatusUnprocessableEntity, map[string]any{
			"error":         validationErr.Error(),
			"invalidEmails": validationErr.Invalid,
		})
	case errors.Is(err, domain.ErrInsufficientCredits):
		common.WriteError(h.logger, w, http.StatusUnauthorized, "クレジットが不足しています")
	case errors.Is(err, domain.ErrNotFound):
		common.WriteError(h.logger, w, http.StatusUnauthorized, "アカウントが見つかりません")
	case errors.As(err, &dispatchErr):
		h.logger.Printf("アンケートの配信に失敗: %v", err)
		common.WriteError(h.logger, w, http.StatusUnprocessableEntity, "メールの配信に失敗しました")
	default:
		h.logger.Printf("アンケートの作成に失敗: %v", err)
		common.WriteError(h.logger, w, http.StatusInternalServerError, "アンケートの作成に失敗しました")
	}
}

func (h *Handler) surveyListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := common.UserFromContext(r.Context())
		if !ok || user.AccountID == "" {
			common.WriteError(h.logger, w, http.StatusUnauthorized, "ログインしてください")
			return
		}

		surveys, err := h.surveyQueries.List(r.Context(), user.AccountID)
		if err != nil {
			h.logger.Printf("アンケート一覧の取得に失敗: %v", err)
			common.WriteError(h.logger, w, http.StatusInternalServerError, "アンケート一覧の取得に失敗しました")
			return
		}

		items := make([]surveySummaryResponse, 0, len(surveys))
		for _, survey := range surveys {
			items = append(items, buildSurveySummary(survey))
		}
		common.WriteJSON(h.logger, w, http.StatusOK, items)
	}
}

func (h *Handler) surveyDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := common.UserFromContext(r.Context())
		if !ok || user.AccountID == "" {
			common.WriteError(h.logger, w, http.StatusUnauthorized, "ログインしてください")
			return
		}

		survey, err := h.surveyQueries.Detail(r.Context(), user.AccountID, chi.URLParam(r, "surveyId"))
		if errors.Is(err, domain.ErrNotFound) {
			common.WriteError(h.logger, w, http.StatusNotFound, "アンケートが見つかりません")
			return
		}
		if err != nil {
			h.logger.Printf("アンケートの取得に失敗: %v", err)
			common.WriteError(h.logger, w, http.StatusInternalServerError, "アンケートの取得に失敗しました")
			return
		}

		common.WriteJSON(h.logger, w, http.StatusOK, buildSurveyDetail(*survey))
	}
}

// thanksHandler はメール内リンクのクリック後に表示される画面。集計は webhook 側で行う。
func (h *Handler) thanksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Thanks for voting!"))
	}
}
