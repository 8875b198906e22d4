package sms

import (
	"context"
	"testing"

	"guardian/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSNSBuildInput(t *testing.T) {
	a := &AWSSNSProvider{senderID: "Guardian"}
	input := a.buildInput(&SMSRequest{To: "+15550001111", Message: "Emergency", Type: "emergency"})

	assert.Equal(t, "+15550001111", aws.ToString(input.PhoneNumber))
	assert.Equal(t, "Emergency", aws.ToString(input.Message))
	assert.Equal(t, "Transactional", aws.ToString(input.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue))
	assert.Equal(t, "Guardian", aws.ToString(input.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))
}

func TestGetSMSType(t *testing.T) {
	assert.Equal(t, "Promotional", getSMSType("promotional"))
	assert.Equal(t, "Transactional", getSMSType("emergency"))
	assert.Equal(t, "Transactional", getSMSType(""))
}

func TestTwilioFromNumberFallback(t *testing.T) {
	p := NewTwilioProvider("AC123", "token", "+15550000000")
	assert.Equal(t, "+15550000000", p.getFromNumber(""))
	assert.Equal(t, "+15559999999", p.getFromNumber("+15559999999"))
	assert.NotNil(t, p.buildParams(&SMSRequest{To: "+15551112222", Message: "hi"}))
}

func TestNewDisabledAndInvalid(t *testing.T) {
	cfg := &config.SMSConfig{Provider: "none", Twilio: &config.TwilioConfig{}, AWS: &config.AWSSNSConfig{}}
	provider, err := New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, provider)

	cfg.Provider = "twilio"
	_, err = New(context.Background(), cfg)
	assert.ErrorContains(t, err, "TWILIO_ACCOUNT_SID")

	cfg.Provider = "carrier-pigeon"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}
