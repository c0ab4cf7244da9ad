// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"fmt"
	netmail "net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/telekom/email-dispatcher/pkg/config"
	"github.com/telekom/email-dispatcher/pkg/metrics"
)

// SESAPI is the subset of the SES v2 client used by SESSender.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers through Amazon SES.
type SESSender struct {
	client SESAPI
	from   string
	host   string
	log    *zap.SugaredLogger
}

func NewSESSender(client SESAPI, senderAddress, senderName, region string, log *zap.SugaredLogger) *SESSender {
	from := senderAddress
	if senderName != "" {
		from = (&netmail.Address{Name: senderName, Address: senderAddress}).String()
	}
	return &SESSender{
		client: client,
		from:   from,
		host:   fmt.Sprintf("email.%s.amazonaws.com", region),
		log:    log.Named("ses-sender"),
	}
}

// ConnectSES loads the default AWS credential chain for the configured region.
func ConnectSES(ctx context.Context, cfg config.Mail, log *zap.SugaredLogger) (*SESSender, error) {
	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("mail.senderAddress is required for the ses transport")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SESRegion))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	log.Infow("Initializing SES sender", "region", cfg.SESRegion, "from", cfg.SenderAddress)
	return NewSESSender(sesv2.NewFromConfig(awsCfg), cfg.SenderAddress, cfg.SenderName, cfg.SESRegion, log), nil
}

func (s *SESSender) Send(ctx context.Context, recipient, subject, body string) error {
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		te := Classify(err)
		s.log.Warnw("SES send failed", "kind", te.Kind, "error", te.Message)
		metrics.MailSendFailure.WithLabelValues(s.host, string(te.Kind)).Inc()
		return te
	}
	metrics.MailSendSuccess.WithLabelValues(s.host).Inc()
	return nil
}

func (s *SESSender) GetHost() string {
	return s.host
}
