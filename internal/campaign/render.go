package campaign

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/utskick/utskick"
)

// HTMLRenderer is the bundled default Renderer. The website may swap in its
// own templating, the orchestrator only sees the interface.
type HTMLRenderer struct {
	tmpl *template.Template
}

var bodyTemplate = `<html>
<body style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>{{ .Subject }}</h2>
  {{ if .ImageUrl }}<img src="{{ .ImageUrl }}" alt="" style="max-width: 100%;"/>{{ end }}
  {{ range .Paragraphs }}<p>{{ . }}</p>
  {{ end }}{{ if .Link }}<p><a href="{{ .Link }}">{{ .LinkText }}</a></p>{{ end }}
</body>
</html>`

func NewHTMLRenderer() *HTMLRenderer {
	return &HTMLRenderer{
		tmpl: template.Must(template.New("campaign").Parse(bodyTemplate)),
	}
}

func (r *HTMLRenderer) Render(c utskick.Campaign) (string, error) {
	linkText := c.LinkText
	if c.Link != "" && linkText == "" {
		linkText = c.Link
	}

	var buff bytes.Buffer
	err := r.tmpl.Execute(&buff, struct {
		Subject    string
		ImageUrl   string
		Link       string
		LinkText   string
		Paragraphs []string
	}{
		Subject:    c.Subject,
		ImageUrl:   c.ImageUrl,
		Link:       c.Link,
		LinkText:   linkText,
		Paragraphs: strings.Split(c.Message, "\n\n"),
	})
	if err != nil {
		return "", err
	}
	return buff.String(), nil
}
