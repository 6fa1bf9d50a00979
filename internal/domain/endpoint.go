package domain

import "time"

// Platform identifies the push service a delivery endpoint belongs to.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// DeliveryEndpoint is a revocable push destination registered by a recipient's device.
// For the SNS transport Token holds the platform endpoint ARN.
type DeliveryEndpoint struct {
	EndpointID  string    `json:"id" dynamodbav:"endpoint_id"`
	RecipientID string    `json:"recipient_id" dynamodbav:"recipient_id"`
	Token       string    `json:"-" dynamodbav:"token"`
	Platform    Platform  `json:"platform" dynamodbav:"platform"`
	IsActive    bool      `json:"is_active" dynamodbav:"is_active"`
	CreatedAt   time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated" dynamodbav:"updated_at"`
}
