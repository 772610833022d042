package api

import (
	"errors"
	"net/http"

	"github.com/sngm3741/emaily/api/internal/interfaces/http/common"
	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

// webhookHandler はメール配信事業者からのクリックイベントを受け取る。
// 形式が正しいバッチは個々のイベントの成否にかかわらず 200 を返す。
func (h *Handler) webhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := readBody(r, common.MaxWebhookRequestBody)
		if errors.Is(err, errBodyTooLarge) {
			h.logger.Printf("webhook バッチが上限 %d バイトを超えたため拒否", common.MaxWebhookRequestBody)
			common.WriteError(h.logger, w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		if err != nil {
			common.WriteError(h.logger, w, http.StatusBadRequest, "イベントの読み込みに失敗しました")
			return
		}

		events, err := domain.DecodeInboundEvents(data)
		if err != nil {
			common.WriteError(h.logger, w, http.StatusBadRequest, "イベントの形式が不正です")
			return
		}

		report := h.webhooks.Ingest(r.Context(), events)
		if report.Failed > 0 {
			h.logger.Printf("webhook バッチの一部イベントの反映に失敗: %+v", report)
		}

		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{
			"status": "ok",
			"report": report,
		})
	}
}
