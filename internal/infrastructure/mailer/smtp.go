package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/sngm3741/emaily/api/internal/survey/application"
)

// SMTPClient は開発用の SMTP サーバへアンケートを配信する。
// 1 接続で受信者ごとにトランザクションを分けて送る。
type SMTPClient struct {
	addr     string
	username string
	password string
	from     string
	logger   *log.Logger
	now      func() time.Time
}

// SMTPConfig は SMTPClient の初期化パラメータ。Username が空なら認証しない。
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
	Logger   *log.Logger
}

func NewSMTPClient(cfg SMTPConfig) *SMTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &SMTPClient{
		addr:     strings.TrimSpace(cfg.Addr),
		username: cfg.Username,
		password: cfg.Password,
		from:     strings.TrimSpace(cfg.From),
		logger:   logger,
		now:      time.Now,
	}
}

// Send は全受信者への送信が成功した場合のみ nil を返す。
// ctx がキャンセルされると接続を閉じて送信を中断する。
func (c *SMTPClient) Send(ctx context.Context, dispatch application.Dispatch) error {
	if len(dispatch.Recipients) == 0 {
		return errors.New("no recipients")
	}

	client, err := smtp.Dial(c.addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := c.send(client, dispatch); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send: %w", ctxErr)
		}
		return err
	}

	c.logger.Printf("アンケートを SMTP で配信しました: surveyId=%s recipients=%d", dispatch.SurveyID, len(dispatch.Recipients))
	return nil
}

func (c *SMTPClient) send(client *smtp.Client, dispatch application.Dispatch) error {
	if ok, _ := client.Extension("STARTTLS"); ok {
		host, _, _ := net.SplitHostPort(c.addr)
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if c.username != "" {
		if err := client.Auth(sasl.NewPlainClient("", c.username, c.password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	for _, to := range dispatch.Recipients {
		msg := buildMessage(c.from, to, dispatch, c.now())
		if err := client.SendMail(c.from, []string{to}, bytes.NewReader(msg)); err != nil {
			return fmt.Errorf("smtp send to %s: %w", to, err)
		}
	}

	return client.Quit()
}

func buildMessage(from, to string, dispatch application.Dispatch, now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", dispatch.Subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("Message-ID: <" + uuid.NewString() + "@emaily>\r\n")
	b.WriteString("X-Survey-Id: " + dispatch.SurveyID + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(dispatch.HTML)
	return []byte(b.String())
}
