package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ses"
)

// SendEmailFunc adapts a function to the SES client interface for tests.
type SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)

func (f SendEmailFunc) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return f(ctx, params, optFns...)
}

// WithClient overrides the SES client the mailer sends with.
func WithClient(c SendEmailFunc) Options {
	return func(o *options) {
		o.client = c
	}
}
