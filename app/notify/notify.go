// Package notify delivers job outcome messages to email, slack and webhook destinations
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"

	"github.com/umputun/arbor/app/jobs"
)

//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier

// Notifier is a single delivery channel, schema of destination selects the notifier
type Notifier interface {
	notify.Notifier
}

// Service sends messages about finished jobs
type Service struct {
	Params
	destinations []notify.Notifier
	targets      []target
	errTmpl      *template.Template
	doneTmpl     *template.Template
}

// Params for NewService
type Params struct {
	ErrorTemplate      string        // optional, html/template file for failed job message
	CompletionTemplate string        // optional, html/template file for completed job message
	EnabledError       bool          // send on failed jobs
	EnabledCompletion  bool          // send on completed jobs
	Timeout            time.Duration // per message delivery, 30s if not set
	HostName           string        // host name in messages, os hostname if not set
}

// SendersParams defines destinations, a channel without recipients is not used
type SendersParams struct {
	SMTP      notify.SMTPParams
	FromEmail string
	ToEmails  []string

	SlackToken    string
	SlackChannels []string

	WebhookURLs    []string
	WebhookHeaders []string
}

// target is a destination with subject placement, destination schema selects notifier
type target struct {
	base  string
	query url.Values
	title string // query param for subject, empty if destination has no subject
}

func (t target) destination(subj string) string {
	if t.title == "" {
		return t.base
	}
	q := url.Values{}
	for k, v := range t.query {
		q[k] = v
	}
	q.Set(t.title, subj)
	return t.base + "?" + q.Encode()
}

// NewService makes service with all destinations set in SendersParams, returns nil if none set
func NewService(params Params, sp SendersParams) *Service {
	res := &Service{Params: params}
	if res.Timeout <= 0 {
		res.Timeout = 30 * time.Second
	}
	if res.HostName == "" {
		if host, err := os.Hostname(); err == nil {
			res.HostName = host
		}
	}
	if len(sp.ToEmails) > 0 {
		res.destinations = append(res.destinations, notify.NewEmail(sp.SMTP))
		res.targets = append(res.targets, target{base: "mailto:" + strings.Join(sp.ToEmails, ","),
			query: url.Values{"from": {sp.FromEmail}}, title: "subject"})
	}
	if sp.SlackToken != "" && len(sp.SlackChannels) > 0 {
		res.destinations = append(res.destinations, notify.NewSlack(sp.SlackToken))
		for _, ch := range sp.SlackChannels {
			res.targets = append(res.targets, target{base: "slack:" + ch, title: "title"})
		}
	}
	if len(sp.WebhookURLs) > 0 {
		res.destinations = append(res.destinations, notify.NewWebhook(notify.WebhookParams{Timeout: res.Timeout,
			Headers: sp.WebhookHeaders}))
		for _, u := range sp.WebhookURLs {
			res.targets = append(res.targets, target{base: u})
		}
	}
	if len(res.targets) == 0 {
		return nil
	}
	res.errTmpl = loadTemplate(params.ErrorTemplate, defaultErrorTemplate)
	res.doneTmpl = loadTemplate(params.CompletionTemplate, defaultCompletionTemplate)
	log.Printf("[INFO] notifications enabled, %d destination(s), on error %v, on completion %v",
		len(res.targets), params.EnabledError, params.EnabledCompletion)
	return res
}

// OnJobFinished sends message about failed or completed job if enabled for its status
func (s *Service) OnJobFinished(job jobs.Job) {
	var subj, msg string
	var err error
	switch {
	case job.Status == jobs.StatusFailed && s.EnabledError:
		subj = fmt.Sprintf("arbor job %s failed", job.ID)
		msg, err = s.MakeErrorHTML(job)
	case job.Status == jobs.StatusCompleted && s.EnabledCompletion:
		subj = fmt.Sprintf("arbor job %s completed", job.ID)
		msg, err = s.MakeCompletionHTML(job)
	default:
		return
	}
	if err != nil {
		log.Printf("[WARN] can't make message for job %s, %v", job.ID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	if err := s.Send(ctx, subj, msg); err != nil {
		log.Printf("[WARN] can't send notification for job %s, %v", job.ID, err)
	}
}

// Send delivers message to every destination, errors of all destinations are joined
func (s *Service) Send(ctx context.Context, subj, text string) error {
	var errs []error
	for _, t := range s.targets {
		dest := t.destination(subj)
		n := s.notifierFor(dest)
		if n == nil {
			errs = append(errs, fmt.Errorf("no notifier for %s", t.base))
			continue
		}
		if err := n.Send(ctx, dest, text); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Printf("[DEBUG] notification %q sent to %s", subj, n)
	}
	return errors.Join(errs...)
}

func (s *Service) notifierFor(dest string) notify.Notifier {
	for _, n := range s.destinations {
		if strings.HasPrefix(dest, n.Schema()) {
			return n
		}
	}
	return nil
}

// MakeErrorHTML renders failed job message
func (s *Service) MakeErrorHTML(job jobs.Job) (string, error) {
	return s.render(s.errTmpl, job)
}

// MakeCompletionHTML renders completed job message
func (s *Service) MakeCompletionHTML(job jobs.Job) (string, error) {
	return s.render(s.doneTmpl, job)
}

type messageData struct {
	Host     string
	TS       time.Time
	JobID    string
	Duration time.Duration
	Kind     string
	Error    string
	Trace    string
	Artifact string
}

func (s *Service) render(tmpl *template.Template, job jobs.Job) (string, error) {
	data := messageData{Host: s.HostName, TS: time.Now(), JobID: job.ID}
	if job.StartedAt != nil && job.FinishedAt != nil {
		data.Duration = job.FinishedAt.Sub(*job.StartedAt).Round(time.Millisecond)
	}
	if job.Error != nil {
		data.Kind, data.Error, data.Trace = job.Error.Kind, job.Error.Message, job.Error.Trace
	}
	if job.ArtifactID != nil {
		data.Artifact = *job.ArtifactID
	}
	buf := bytes.Buffer{}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

// loadTemplate parses template file, falls back to default template if file is not set or bad
func loadTemplate(file, fallback string) *template.Template {
	if file != "" {
		tmpl, err := template.ParseFiles(file)
		if err == nil {
			return tmpl
		}
		log.Printf("[WARN] can't load template %s, default used, %v", file, err)
	}
	return template.Must(template.New("msg").Parse(fallback))
}

const messageHead = `<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body { font-family: "Arial"; font-size: 1.0em; }
			ul { margin-top: -0.5em; margin-left: -0.5em; }
			pre {
				padding: 0.6em;
				font-size: 0.7em;
				background-color: #E8E2A0;
				font-family: "Menlo";
				white-space: pre-wrap;
				word-wrap: break-word;
			}
			.bold { color: #882828; font-weight: 900; }
		</style>
	</head>
`

const defaultErrorTemplate = messageHead + `	<body>
		<p>Arbor job failed on <span class="bold">{{.Host}}</span> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Job: <span class="bold">{{.JobID}}</span></li>
			<li>Kind: <span class="bold">{{.Kind}}</span></li>
			{{if .Duration}}<li>Duration: {{.Duration}}</li>{{end}}
		</ul>
		<pre>
{{.Error}}
{{if .Trace}}
{{.Trace}}{{end}}
		</pre>
	</body>
</html>
`

const defaultCompletionTemplate = messageHead + `	<body>
		<p>Arbor job completed on <span class="bold">{{.Host}}</span> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Job: <span class="bold">{{.JobID}}</span></li>
			{{if .Artifact}}<li>Artifact: <span class="bold">{{.Artifact}}</span></li>{{end}}
			{{if .Duration}}<li>Duration: {{.Duration}}</li>{{end}}
		</ul>
	</body>
</html>
`
