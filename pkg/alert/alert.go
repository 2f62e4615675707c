// Package alert delivers recovery escalations to operators.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gregtusar/zerodte/pkg/broker"
	"github.com/sirupsen/logrus"
)

// SlackSink posts escalations to a Slack incoming webhook.
type SlackSink struct {
	client  *resty.Client
	webhook string
	channel string
}

var _ broker.Escalator = (*SlackSink)(nil)

func NewSlackSink(webhookURL, channel string, timeout time.Duration) *SlackSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SlackSink{
		client:  resty.New().SetTimeout(timeout),
		webhook: webhookURL,
		channel: channel,
	}
}

func (s *SlackSink) Notify(ctx context.Context, component, operation string, cause error) error {
	if s.webhook == "" {
		return errors.New("slack webhook url is not configured")
	}
	payload := map[string]string{"text": Message(component, operation, cause)}
	if s.channel != "" {
		payload["channel"] = s.channel
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(s.webhook)
	if err != nil {
		return fmt.Errorf("failed to post slack alert: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Message is the plain-text escalation line shared by all sinks.
func Message(component, operation string, cause error) string {
	return fmt.Sprintf("[zerodte] recovery exhausted: %s/%s: %v", component, operation, cause)
}

// LogSink writes escalations to the logger at error level.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Notify(_ context.Context, component, operation string, cause error) error {
	l.logger.WithError(cause).WithFields(logrus.Fields{
		"component": component,
		"operation": operation,
	}).Error("Recovery escalated")
	return nil
}

// Multi fans out to every sink and joins their errors.
type Multi []broker.Escalator

func (m Multi) Notify(ctx context.Context, component, operation string, cause error) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, component, operation, cause); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
