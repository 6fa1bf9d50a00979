// Package payload maps a notification onto the push payloads each platform expects.
// Everything here is pure so it can be tested without a transport.
package payload

import (
	"encoding/json"

	"github.com/push-dispatcher/internal/domain"
)

// DefaultTargetPath is where the app opens notifications of unknown kinds.
const DefaultTargetPath = "/"

type route struct {
	title      string
	targetPath string
}

var routes = map[domain.Kind]route{
	domain.KindTaskReminder:  {title: "Task reminder", targetPath: "/tasks"},
	domain.KindEventReminder: {title: "Upcoming event", targetPath: "/calendar"},
	domain.KindHabitReminder: {title: "Habit check-in", targetPath: "/habits"},
	domain.KindDailySummary:  {title: "Your day at a glance", targetPath: "/today"},
	domain.KindTest:          {title: "Test notification", targetPath: "/settings/notifications"},
}

// Message is the platform-independent content of one multicast send.
type Message struct {
	NotificationID string
	Kind           domain.Kind
	Title          string
	Body           string
	TargetPath     string
}

// Build resolves the title and deep-link target for a notification.
// An empty title falls back to the kind's default; unknown kinds open DefaultTargetPath.
func Build(n domain.ScheduledNotification) Message {
	r, ok := routes[n.Kind]
	if !ok {
		r = route{title: "Reminder", targetPath: DefaultTargetPath}
	}
	title := n.Title
	if title == "" {
		title = r.title
	}
	return Message{
		NotificationID: n.NotificationID,
		Kind:           n.Kind,
		Title:          title,
		Body:           n.Body,
		TargetPath:     r.targetPath,
	}
}

// PlatformPayload returns the platform-native payload for one message.
// Unknown platforms get the Android (FCM) shape.
func PlatformPayload(platform domain.Platform, m Message) map[string]interface{} {
	data := map[string]string{
		"kind":            string(m.Kind),
		"target_path":     m.TargetPath,
		"notification_id": m.NotificationID,
	}
	switch platform {
	case domain.PlatformIOS:
		return map[string]interface{}{
			"aps": map[string]interface{}{
				"alert": map[string]string{"title": m.Title, "body": m.Body},
				"sound": "default",
			},
			"kind":            data["kind"],
			"target_path":     data["target_path"],
			"notification_id": data["notification_id"],
		}
	default:
		return map[string]interface{}{
			"fcmV1Message": map[string]interface{}{
				"message": map[string]interface{}{
					"notification": map[string]string{"title": m.Title, "body": m.Body},
					"data":         data,
					"android":      map[string]string{"priority": "high"},
				},
			},
		}
	}
}

// SNSJSON renders the message as an SNS MessageStructure=json document. SNS picks the
// key matching each target endpoint's platform application, so one document serves
// every platform in a multicast.
func (m Message) SNSJSON() (string, error) {
	gcm, err := json.Marshal(PlatformPayload(domain.PlatformAndroid, m))
	if err != nil {
		return "", err
	}
	apns, err := json.Marshal(PlatformPayload(domain.PlatformIOS, m))
	if err != nil {
		return "", err
	}
	doc, err := json.Marshal(map[string]string{
		"default":      m.Body,
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}
