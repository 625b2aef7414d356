package kafka

const (
	TopicClaimRequest  = "coupon.claim.req"
	TopicClaimRetry    = "coupon.claim.retry"
	TopicReplyPrefix   = "coupon.reply."
	TopicRequestSuffix = ".req"
	TopicRetrySuffix   = ".retry"
	TopicDLQSuffix     = ".dlq"

	RetryHeaderNextAt  = "x-next-at"
	RetryHeaderAttempt = "x-attempt"
	ErrorHeaderKey     = "x-error"

	SchemaVersion = 1
)
