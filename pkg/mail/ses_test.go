// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	s := NewSESSender(client, "noreply@example.com", "Dispatcher", "eu-central-1", zap.NewNop().Sugar())
	assert.Equal(t, "email.eu-central-1.amazonaws.com", s.GetHost())

	require.NoError(t, s.Send(context.Background(), "user@example.com", "Welcome", "Hello there"))
	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, `"Dispatcher" <noreply@example.com>`, aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"user@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Welcome", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "Hello there", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Nil(t, in.Content.Simple.Body.Html)
}

func TestSESSender_SendClassifiesAPIErrors(t *testing.T) {
	client := &fakeSES{err: &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified."}}
	s := NewSESSender(client, "noreply@example.com", "", "us-east-1", zap.NewNop().Sugar())
	assert.Equal(t, "noreply@example.com", s.from)

	err := s.Send(context.Background(), "user@example.com", "Welcome", "body")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindRejected, te.Kind)
	assert.Contains(t, err.Error(), "RejectedError: ")
}
