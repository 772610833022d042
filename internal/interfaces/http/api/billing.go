package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sngm3741/emaily/api/internal/interfaces/http/common"
	"github.com/sngm3741/emaily/api/internal/survey/application"
	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

const billingSignatureHeader = "X-Billing-Signature"

// billingWebhookHandler は決済完了通知を受け取り、決済 ID ごとに一度だけクレジットを加算する。
func (h *Handler) billingWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := readBody(r, common.MaxBillingRequestBody)
		if err != nil {
			common.WriteError(h.logger, w, http.StatusBadRequest, "リクエストの読み込みに失敗しました")
			return
		}

		if !verifySignature(data, r.Header.Get(billingSignatureHeader), h.billingSecret) {
			h.logger.Printf("決済通知の署名検証に失敗: remote=%s", r.RemoteAddr)
			common.WriteError(h.logger, w, http.StatusUnauthorized, "署名が不正です")
			return
		}

		var notification billingNotification
		if err := decodeStrict(data, &notification); err != nil {
			common.WriteError(h.logger, w, http.StatusBadRequest, fmt.Sprintf("リクエストの形式が不正です: %v", err))
			return
		}
		notification.PaymentID = strings.TrimSpace(notification.PaymentID)
		notification.AccountID = strings.TrimSpace(notification.AccountID)
		if err := h.validate.Struct(notification); err != nil {
			common.WriteError(h.logger, w, http.StatusBadRequest, validationMessage(err))
			return
		}

		result, err := h.accounts.ApplyPayment(r.Context(), application.PaymentCommand{
			PaymentID: notification.PaymentID,
			AccountID: notification.AccountID,
			Credits:   notification.Credits,
		})
		switch {
		case errors.Is(err, domain.ErrNotFound):
			common.WriteError(h.logger, w, http.StatusNotFound, "アカウントが見つかりません")
			return
		case errors.Is(err, domain.ErrInvalidAmount):
			common.WriteError(h.logger, w, http.StatusBadRequest, "クレジット数が不正です")
			return
		case err != nil:
			h.logger.Printf("決済の反映に失敗: paymentId=%s err=%v", notification.PaymentID, err)
			common.WriteError(h.logger, w, http.StatusInternalServerError, "決済の反映に失敗しました")
			return
		}

		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{
			"status":    "ok",
			"duplicate": result.Duplicate,
			"account":   result.Account,
		})
	}
}

// verifySignature は本文の HMAC-SHA256 を 16 進表記の署名ヘッダと比較する。
func verifySignature(payload []byte, signatureHeader string, secret []byte) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || len(secret) == 0 {
		return false
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}
