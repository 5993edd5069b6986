package mailer

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/cleandir/leadengine/internal/database"
	"github.com/cleandir/leadengine/internal/memory"
)

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).Parse(text))
}

// followupTemplate pairs the subject line and body of one drip stage.
type followupTemplate struct {
	subject string
	body    *template.Template
}

var followupTemplates = map[string]followupTemplate{
	database.ScheduleDay3: {
		subject: "Following up on your cleantech search",
		body: mustParse(database.ScheduleDay3, `
<p>{{.Greeting}},</p>
<p>Thanks for exploring the directory a few days ago. Based on our
conversation{{if .Interests}}, you were looking into
<strong>{{join .Interests ", "}}</strong>{{end}}.</p>
{{if .Recommendations}}<p>A few places worth picking up from:</p>
<ul>{{range .Recommendations}}<li>{{.}}</li>{{end}}</ul>{{end}}
<p>Reply to this email and we will point you to the right companies.</p>
`),
	},
	database.ScheduleDay7: {
		subject: "Companies that match what you're looking for",
		body: mustParse(database.ScheduleDay7, `
<p>{{.Greeting}},</p>
<p>New companies join the directory every week{{if .Interests}}, including
several in {{join .Interests ", "}}{{end}}. Members use the directory to
find vetted partners without the cold outreach.</p>
{{if .PainPoints}}<p>You mentioned {{join .PainPoints " and "}} being a
concern. Our listings include verified track records to help with exactly
that.</p>{{end}}
{{if .NextActions}}<ul>{{range .NextActions}}<li>{{.}}</li>{{end}}</ul>{{end}}
`),
	},
	database.ScheduleDay14: {
		subject: "Shall we connect you directly?",
		body: mustParse(database.ScheduleDay14, `
<p>{{.Greeting}},</p>
<p>This is the last note from us. If the timing wasn't right, no problem.
If you are still looking{{if .BusinessNeeds}} for
{{join .BusinessNeeds ", "}}{{end}}, reply with one line and we will make
direct introductions to matching companies.</p>
<p>Either way, the directory stays open to you.</p>
`),
	},
}

// RenderFollowup produces the email content for a drip stage from the
// lead's personalization snapshot.
func RenderFollowup(scheduleType string, snap *memory.Snapshot) (subject, html string, err error) {
	tmpl, ok := followupTemplates[scheduleType]
	if !ok {
		return "", "", fmt.Errorf("unknown schedule type %q", scheduleType)
	}
	if snap == nil {
		snap = &memory.Snapshot{Greeting: "Hello"}
	}

	var buf strings.Builder
	if err := tmpl.body.Execute(&buf, snap); err != nil {
		return "", "", fmt.Errorf("failed to render %s template: %w", scheduleType, err)
	}
	return tmpl.subject, buf.String(), nil
}
