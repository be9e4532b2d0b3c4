// Package notify delivers job outcome notifications to the configured
// destinations: email, telegram, slack and plain webhooks.
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
)

// Service wraps a set of notification destinations behind a single Send.
type Service struct {
	destinations []notify.Notifier

	fromEmail string
	toEmail   []string
	telegrams []string
	webhooks  []string
	slacks    []string

	onError      bool
	onCompletion bool

	errorTemplate      string
	completionTemplate string
	host               string
}

// Params configures which outcomes are delivered and optional template
// overrides.
type Params struct {
	EnabledError      bool
	EnabledCompletion bool

	ErrorTemplate      string // file path, empty uses the built-in
	CompletionTemplate string

	HostName string // shown in message templates, os.Hostname when empty
	Timeout  time.Duration
}

// SendersParams holds the credentials and addresses of all destinations.
type SendersParams struct {
	FromEmail    string
	ToEmails     []string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPTLS      bool

	TelegramToken        string
	TelegramDestinations []string

	WebhookURLs []string

	SlackToken    string
	SlackChannels []string
}

// NewService makes a notification service for the configured destinations,
// nil when nothing is configured.
func NewService(p Params, sp SendersParams) *Service {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	res := &Service{
		fromEmail:          sp.FromEmail,
		toEmail:            sp.ToEmails,
		telegrams:          sp.TelegramDestinations,
		webhooks:           sp.WebhookURLs,
		slacks:             sp.SlackChannels,
		onError:            p.EnabledError,
		onCompletion:       p.EnabledCompletion,
		errorTemplate:      p.ErrorTemplate,
		completionTemplate: p.CompletionTemplate,
		host:               p.HostName,
	}

	if len(sp.ToEmails) > 0 {
		res.destinations = append(res.destinations, notify.NewEmail(notify.SMTPParams{
			Host:     sp.SMTPHost,
			Port:     sp.SMTPPort,
			TLS:      sp.SMTPTLS,
			Username: sp.SMTPUsername,
			Password: sp.SMTPPassword,
			TimeOut:  timeout,
		}))
	}
	if sp.TelegramToken != "" && len(sp.TelegramDestinations) > 0 {
		tg, err := notify.NewTelegram(notify.TelegramParams{Token: sp.TelegramToken, Timeout: timeout})
		if err != nil {
			log.Printf("[WARN] can't make telegram notifier: %v", err)
		} else {
			res.destinations = append(res.destinations, tg)
		}
	}
	if len(sp.WebhookURLs) > 0 {
		res.destinations = append(res.destinations, notify.NewWebhook(notify.WebhookParams{Timeout: timeout}))
	}
	if sp.SlackToken != "" && len(sp.SlackChannels) > 0 {
		res.destinations = append(res.destinations, notify.NewSlack(sp.SlackToken))
	}

	if len(res.destinations) == 0 {
		return nil
	}
	return res
}

// Send delivers the text to every configured destination, collecting the
// failures instead of stopping on the first one.
func (s *Service) Send(ctx context.Context, subj, text string) error {
	var errs []error
	for _, d := range s.destinations {
		for _, dest := range s.destFor(d.Schema(), subj) {
			if err := d.Send(ctx, dest, text); err != nil {
				errs = append(errs, err)
				continue
			}
			log.Printf("[DEBUG] sent notification to %s", d.Schema())
		}
	}
	return errors.Join(errs...)
}

// destFor builds the destination urls for one notifier schema.
func (s *Service) destFor(schema, subj string) []string {
	switch schema {
	case "mailto":
		return []string{fmt.Sprintf("mailto:%s?from=%s&subject=%s",
			strings.Join(s.toEmail, ","), s.fromEmail, url.QueryEscape(subj))}
	case "telegram":
		res := make([]string, len(s.telegrams))
		for i, d := range s.telegrams {
			res[i] = "telegram:" + d
		}
		return res
	case "slack":
		res := make([]string, len(s.slacks))
		for i, c := range s.slacks {
			res[i] = "slack:" + c
		}
		return res
	default: // webhook takes raw urls
		return s.webhooks
	}
}

// IsOnError reports whether failed jobs are delivered.
func (s *Service) IsOnError() bool { return s.onError }

// IsOnCompletion reports whether successful jobs are delivered.
func (s *Service) IsOnCompletion() bool { return s.onCompletion }

// MakeErrorHTML renders the failure message for one job.
func (s *Service) MakeErrorHTML(jobID, prompt, errorLog string) (string, error) {
	return render(s.errorTemplate, defaultErrorTemplate, messageData{
		JobID:  jobID,
		Prompt: prompt,
		Error:  errorLog,
		TS:     time.Now(),
		Host:   s.hostname(),
	})
}

// MakeCompletionHTML renders the success message for one job.
func (s *Service) MakeCompletionHTML(jobID, prompt string) (string, error) {
	return render(s.completionTemplate, defaultCompletionTemplate, messageData{
		JobID:  jobID,
		Prompt: prompt,
		TS:     time.Now(),
		Host:   s.hostname(),
	})
}

type messageData struct {
	JobID  string
	Prompt string
	Error  string
	TS     time.Time
	Host   string
}

// render applies the custom template when it loads and parses, the built-in
// otherwise.
func render(path, def string, data messageData) (string, error) {
	text := def
	if path != "" {
		custom, err := os.ReadFile(path) //nolint:gosec // the path comes from the operator config
		if err != nil {
			log.Printf("[WARN] can't read template %s, using default: %v", path, err)
		} else if _, perr := template.New("msg").Parse(string(custom)); perr != nil {
			log.Printf("[WARN] can't parse template %s, using default: %v", path, perr)
		} else {
			text = string(custom)
		}
	}

	t, err := template.New("msg").Parse(text)
	if err != nil {
		return "", fmt.Errorf("can't parse message template: %w", err)
	}
	buf := bytes.Buffer{}
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("can't apply message template: %w", err)
	}
	return buf.String(), nil
}

func (s *Service) hostname() string {
	if s.host != "" {
		return s.host
	}
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

var defaultErrorTemplate = `<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body {
				font-family: "Arial";
				font-size: 1.0em;
			}
			ul {
				margin-top: -0.5em;
				margin-left: -0.5em;
			}
			pre {
				padding: 0.6em;
				font-size: 0.7em;
				background-color: #E8E2A0;
				font-family: "Menlo";
				overflow-x: auto;
				white-space: pre-wrap;
				word-wrap: break-word;
			}
			.bold {
				color: #882828;
				font-weight: 900;
			}
		</style>
	</head>

	<body>
		<p>Generation job failed on <span class="bold">{{.Host}}</span> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Job: <span class="bold">{{.JobID}}</span></li>
			<li>Prompt: <span class="bold">{{.Prompt}}</span></li>
		</ul>

		<pre>
{{.Error}}
		</pre>
	</body>
</html>
`

var defaultCompletionTemplate = `<!DOCTYPE html>
<html>
	<head>
		<meta name="viewport" content="width=device-width" />
		<meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
		<style type="text/css">
			body {
				font-family: "Arial";
				font-size: 1.0em;
			}
			ul {
				margin-top: -0.5em;
				margin-left: -0.5em;
			}
			.bold {
				color: #288828;
				font-weight: 900;
			}
		</style>
	</head>

	<body>
		<p>Generation job completed on <span class="bold">{{.Host}}</span> at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}</p>
		<ul>
			<li>Job: <span class="bold">{{.JobID}}</span></li>
			<li>Prompt: <span class="bold">{{.Prompt}}</span></li>
		</ul>
	</body>
</html>
`
