/*
Copyright 2024 Stamp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stamp-registry/stamp/config"
	"github.com/stamp-registry/stamp/internal/request"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func slackPayload(err error, at time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Error From Stamp 🐞", Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", at.Format(time.RFC822))}}},
	}}
}

// SlackNotification posts the error to the configured Slack webhook.
func SlackNotification(webhookURL string, systemError error) error {
	payload, err := request.ToJsonReq(slackPayload(systemError, time.Now()))
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, webhookURL, payload)
	if err != nil {
		return err
	}

	_, err = request.Call(req, nil)
	return err
}

// NotifyError logs the error and, when a Slack webhook is configured, forwards it
// there without blocking the caller.
func NotifyError(systemError error) {
	logrus.Error(systemError)

	conf, err := config.Fetch()
	if err != nil || conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	go func(url string) {
		if err := SlackNotification(url, systemError); err != nil {
			logrus.Warnf("failed to send slack notification: %v", err)
		}
	}(conf.Notification.Slack.WebhookUrl)
}
