package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/sngm3741/emaily/api/internal/survey/domain"
)

const surveyLayout = `<html>
  <body>
    <div style="text-align: center;">
      <h3>ご意見をお聞かせください</h3>
      <p>以下の質問にお答えください:</p>
      <p>{{ .Body }}</p>
      <div>
        <a href="{{ .YesURL }}">Yes</a>
      </div>
      <div>
        <a href="{{ .NoURL }}">No</a>
      </div>
    </div>
  </body>
</html>
`

// TemplateRenderer はアンケート本文と Yes/No の追跡リンクを含む HTML を生成する。
// リンクのパスは webhook 側の抽出と同じ domain.ResponsePath で組み立てる。
type TemplateRenderer struct {
	redirectBaseURL string
	tmpl            *template.Template
}

type surveyView struct {
	Body   string
	YesURL string
	NoURL  string
}

// NewTemplateRenderer は追跡リンクのベース URL を受け取りレンダラを構築する。
func NewTemplateRenderer(redirectBaseURL string) *TemplateRenderer {
	return &TemplateRenderer{
		redirectBaseURL: strings.TrimRight(strings.TrimSpace(redirectBaseURL), "/"),
		tmpl:            template.Must(template.New("survey").Parse(surveyLayout)),
	}
}

// RenderSurvey はアンケートの HTML メール本文を返す。ID 未採番のアンケートは扱えない。
func (r *TemplateRenderer) RenderSurvey(survey *domain.Survey) (string, error) {
	if survey == nil || strings.TrimSpace(survey.ID) == "" {
		return "", fmt.Errorf("survey id is required to render tracking links")
	}

	view := surveyView{
		Body:   survey.Body,
		YesURL: r.redirectBaseURL + domain.ResponsePath(survey.ID, domain.ChoiceYes),
		NoURL:  r.redirectBaseURL + domain.ResponsePath(survey.ID, domain.ChoiceNo),
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render survey template: %w", err)
	}
	return buf.String(), nil
}
