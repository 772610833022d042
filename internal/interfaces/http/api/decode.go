package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var errBodyTooLarge = errors.New("リクエストボディが大きすぎます")

// readBody reads at most limit bytes and fails when the body is larger.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeStrict(data []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// validationMessage は validator のエラーを利用者向けの文言に変換する。
func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "入力内容が不正です"
	}

	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s は必須です", fe.Field()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s は%s文字以内で入力してください", fe.Field(), fe.Param()))
		case "gt":
			messages = append(messages, fmt.Sprintf("%s は%sより大きい値を指定してください", fe.Field(), fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s が不正です", fe.Field()))
		}
	}
	return strings.Join(messages, " / ")
}
