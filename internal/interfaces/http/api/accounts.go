package api

import (
	"errors"
	"net/http"

	"github.com/sngm3741/emaily/api/internal/interfaces/http/common"
	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

func (h *Handler) currentUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := common.UserFromContext(r.Context())
		if !ok || user.AccountID == "" {
			common.WriteError(h.logger, w, http.StatusUnauthorized, "ログインしてください")
			return
		}

		account, err := h.accounts.Current(r.Context(), user.AccountID)
		if errors.Is(err, domain.ErrNotFound) {
			common.WriteError(h.logger, w, http.StatusUnauthorized, "アカウントが見つかりません")
			return
		}
		if err != nil {
			h.logger.Printf("アカウントの取得に失敗: %v", err)
			common.WriteError(h.logger, w, http.StatusInternalServerError, "アカウントの取得に失敗しました")
			return
		}

		common.WriteJSON(h.logger, w, http.StatusOK, account)
	}
}
