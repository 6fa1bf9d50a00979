package dynamo

// DynamoDB attribute and index names used in expressions across the repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldNotificationID = "notification_id"
	fieldRecipientID    = "recipient_id"
	fieldScheduledFor   = "scheduled_for"
	fieldIsSent         = "is_sent"
	fieldSentAt         = "sent_at"
	fieldAttempts       = "attempts"
	fieldNextAttemptAt  = "next_attempt_at"
	fieldLastError      = "last_error"
	fieldDueBucket      = "due_bucket"
	fieldSentBucket     = "sent_bucket"

	fieldEndpointID = "endpoint_id"
	fieldToken      = "token"
	fieldIsActive   = "is_active"
	fieldUpdatedAt  = "updated_at"

	indexDue       = "due_bucket-scheduled_for-index"
	indexSent      = "sent_bucket-sent_at-index"
	indexRecipient = "recipient_id-index"
	indexToken     = "token-index"

	// Sparse GSI partition values. due_bucket exists only while a notification
	// is unsent; sent_bucket is written by the sent-marker.
	bucketDue  = "due"
	bucketSent = "sent"
)
