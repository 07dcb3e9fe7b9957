// Package notify delivers end-of-run notifications to the submitting user.
//
// The launcher sends at most one notification per cluster, after the last
// trial exits. The descriptor's notification policy decides whether anything
// is sent at all.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/dlopt/trialgrid/internal/descriptor"
	"github.com/ubuntu/decorate"
)

// Summary describes the outcome of a finished cluster.
type Summary struct {
	Cluster   string
	QueueName string
	Total     int

	// Failed holds the ordinals which exited non-zero or could not start,
	// in ascending order.
	Failed []int
}

// Notifier delivers a cluster summary to a recipient.
type Notifier interface {
	Notify(ctx context.Context, recipient string, s Summary) error
}

// ShouldNotify reports whether the given policy asks for a notification for
// this outcome.
func ShouldNotify(policy descriptor.Notification, s Summary) bool {
	switch policy {
	case descriptor.NotificationAlways:
		return true
	case descriptor.NotificationError:
		return len(s.Failed) > 0
	default:
		return false
	}
}

// sesAPI is the part of the SES client the mailer uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Mailer sends cluster summaries over Amazon SES.
type Mailer struct {
	client sesAPI
	from   string
}

type options struct {
	client sesAPI
}

// Options represents an optional function to override NewMailer default values.
type Options func(*options)

// NewMailer returns a Mailer sending from the given address, with AWS
// configuration taken from the environment.
func NewMailer(ctx context.Context, region, from string, args ...Options) (m *Mailer, err error) {
	defer decorate.OnError(&err, "could not create mailer:")

	opts := options{}
	for _, opt := range args {
		opt(&opts)
	}

	if opts.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, err
		}
		opts.client = ses.NewFromConfig(cfg)
	}

	return &Mailer{client: opts.client, from: from}, nil
}

// Notify emails the summary to the recipient.
func (m Mailer) Notify(ctx context.Context, recipient string, s Summary) (err error) {
	defer decorate.OnError(&err, "could not send notification to %s:", recipient)

	subject, body := render(s)
	_, err = m.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(m.from),
	})
	if err != nil {
		return err
	}

	slog.Info("Sent notification", "recipient", recipient, "cluster", s.Cluster)
	return nil
}

// LogNotifier writes summaries to the log instead of sending them. It is the
// fallback when no mail transport is configured.
type LogNotifier struct{}

// Notify logs the summary at warning level on failure, info otherwise.
func (LogNotifier) Notify(_ context.Context, recipient string, s Summary) error {
	subject, _ := render(s)
	if len(s.Failed) > 0 {
		slog.Warn(subject, "recipient", recipient, "cluster", s.Cluster, "failed", s.Failed)
		return nil
	}
	slog.Info(subject, "recipient", recipient, "cluster", s.Cluster)
	return nil
}

func render(s Summary) (subject, body string) {
	name := s.QueueName
	if name == "" {
		name = s.Cluster
	}

	if len(s.Failed) == 0 {
		subject = fmt.Sprintf("[trialgrid] %s: %d trials completed", name, s.Total)
		body = fmt.Sprintf("All %d trials of cluster %s exited successfully.\n", s.Total, s.Cluster)
		return subject, body
	}

	subject = fmt.Sprintf("[trialgrid] %s: %d of %d trials failed", name, len(s.Failed), s.Total)

	var b strings.Builder
	fmt.Fprintf(&b, "Cluster %s finished with failures.\n\n", s.Cluster)
	fmt.Fprintf(&b, "Failed trials: %s\n", formatOrdinals(s.Failed))
	fmt.Fprintf(&b, "Check logs/error.<N>.err and logs/log.<N>.log in the submit directory for details.\n")
	return subject, b.String()
}

func formatOrdinals(ordinals []int) string {
	parts := make([]string, len(ordinals))
	for i, o := range ordinals {
		parts[i] = fmt.Sprint(o)
	}
	return strings.Join(parts, ", ")
}
