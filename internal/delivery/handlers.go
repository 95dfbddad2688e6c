package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/user/conserje/internal/types"
)

// Destination prefixes handled in this package.
const (
	PrefixLog   = "log:"
	PrefixSNS   = "sns:"
	PrefixEmail = "email:"
)

// SNSPublisher is the subset of the SNS client used for delivery.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SESSender is the subset of the SES client used for delivery.
type SESSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// NewAWSClients builds SNS and SES clients from the default credential chain.
func NewAWSClients(ctx context.Context, region string) (*sns.Client, *ses.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg), ses.NewFromConfig(cfg), nil
}

// textWithMediaNote appends a photo count for channels that cannot carry images.
func textWithMediaNote(msg types.OutboundMessage) string {
	if len(msg.Media) == 0 {
		return msg.Text
	}
	return fmt.Sprintf("%s\n\n(%d foto(s) adjunta(s) disponibles en el sistema)", msg.Text, len(msg.Media))
}

// LogHandler writes messages to the logger. Used by the console channel and
// as a placeholder destination while a team's real channel is configured.
func LogHandler(logger *zap.Logger) Handler {
	logger = logger.Named("delivery")
	return func(_ context.Context, destination string, msg types.OutboundMessage) error {
		logger.Info("dispatch",
			zap.String("destination", destination),
			zap.Int("media", len(msg.Media)),
			zap.String("text", msg.Text))
		return nil
	}
}

// SNSHandler publishes to "sns:<topic-arn>" destinations, or sends an SMS
// for "sns:+<phone>".
func SNSHandler(client SNSPublisher) Handler {
	return func(ctx context.Context, destination string, msg types.OutboundMessage) error {
		target := strings.TrimPrefix(destination, PrefixSNS)
		if target == "" {
			return fmt.Errorf("%w: sns %q", ErrInvalidDestination, destination)
		}
		input := &sns.PublishInput{Message: aws.String(textWithMediaNote(msg))}
		if strings.HasPrefix(target, "+") {
			input.PhoneNumber = aws.String(target)
		} else {
			input.TopicArn = aws.String(target)
			input.Subject = aws.String(subjectOf(msg.Text, 100))
		}
		if _, err := client.Publish(ctx, input); err != nil {
			return fmt.Errorf("sns publish: %w", err)
		}
		return nil
	}
}

// SESHandler emails "email:<address>" destinations from the given sender.
func SESHandler(client SESSender, from string) Handler {
	return func(ctx context.Context, destination string, msg types.OutboundMessage) error {
		to := strings.TrimPrefix(destination, PrefixEmail)
		if to == "" || !strings.Contains(to, "@") {
			return fmt.Errorf("%w: email %q", ErrInvalidDestination, destination)
		}
		if from == "" {
			return Permanent(errors.New("email sender: aws.ses_from is empty"))
		}
		_, err := client.SendEmail(ctx, &ses.SendEmailInput{
			Destination: &sestypes.Destination{ToAddresses: []string{to}},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subjectOf(msg.Text, 120))},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(textWithMediaNote(msg))},
				},
			},
			Source: aws.String(from),
		})
		if err != nil {
			return fmt.Errorf("ses send: %w", err)
		}
		return nil
	}
}

// subjectOf returns the first non-empty line of text, cut to max runes.
func subjectOf(text string, max int) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > max {
			r := []rune(line)
			line = string(r[:max-1]) + "…"
		}
		return line
	}
	return "Nuevo reporte"
}
