// internal/common/aws/ses.go
package aws

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

const charset = "UTF-8"

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Email is one outgoing message. HTML is optional.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type SESClient struct {
	client sesAPI
	from   string
}

func NewSESClient(ctx context.Context, region, from string) (*SESClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SESClient{client: ses.NewFromConfig(cfg), from: from}, nil
}

// NewSESClientWithAPI uses an existing SES API implementation. Used by tests.
func NewSESClientWithAPI(api sesAPI, from string) *SESClient {
	return &SESClient{client: api, from: from}
}

// SendEmail sends email and returns the SES message id.
func (s *SESClient) SendEmail(ctx context.Context, email Email) (string, error) {
	if email.To == "" {
		return "", fmt.Errorf("email has no recipient")
	}

	body := &types.Body{
		Text: &types.Content{Charset: awssdk.String(charset), Data: awssdk.String(email.Text)},
	}
	if email.HTML != "" {
		body.Html = &types.Content{Charset: awssdk.String(charset), Data: awssdk.String(email.HTML)}
	}

	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      awssdk.String(s.from),
		Destination: &types.Destination{ToAddresses: []string{email.To}},
		Message: &types.Message{
			Subject: &types.Content{Charset: awssdk.String(charset), Data: awssdk.String(email.Subject)},
			Body:    body,
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send email: %w", err)
	}
	return awssdk.ToString(out.MessageId), nil
}
