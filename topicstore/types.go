/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package topicstore

// BatchRetention is how long a topic's batch destination keeps ingested data.
type BatchRetention string

const (
	BatchRetentionDay         BatchRetention = "DAY"
	BatchRetentionWeek        BatchRetention = "WEEK"
	BatchRetentionThreeMonths BatchRetention = "THREE_MONTHS"
	BatchRetentionYear        BatchRetention = "YEAR"
	BatchRetentionThreeYears  BatchRetention = "THREE_YEARS"
)

// DefaultBatchRetention applies when a batch destination names none.
const DefaultBatchRetention = BatchRetentionThreeMonths

// Days returns the retention period in days.
func (r BatchRetention) Days() int64 {
	switch r {
	case BatchRetentionDay:
		return 1
	case BatchRetentionWeek:
		return 7
	case BatchRetentionYear:
		return 366
	case BatchRetentionThreeYears:
		return 3 * 366
	default:
		return 3 * 30
	}
}

// Batch directs a topic's data to batch processing.
// Attribute names are single letters to keep the Topics item small; it is
// loaded on the ingestion hot path and must stay well under the item size
// limit.
type Batch struct {
	Retention BatchRetention `dynamodbav:"r,omitempty"`
}

// EffectiveRetention returns the configured retention or the default.
func (b *Batch) EffectiveRetention() BatchRetention {
	if b == nil || b.Retention == "" {
		return DefaultBatchRetention
	}
	return b.Retention
}

// Stream directs a topic's data to one stream processing queue.
type Stream struct {
	Name string `dynamodbav:"n"`
}

// StoreTarget directs a topic's data to a key-value store.
type StoreTarget struct {
	TTLInSec  int64    `dynamodbav:"ttl"`
	Whitelist []string `dynamodbav:"w,stringset,omitempty"`
	Blacklist []string `dynamodbav:"b,stringset,omitempty"`
}

// Topic defines where data ingested under one topic name is written.
type Topic struct {
	Batch   *Batch       `dynamodbav:"b,omitempty"`
	Streams []Stream     `dynamodbav:"s,omitempty"`
	Store   *StoreTarget `dynamodbav:"t,omitempty"`
}

// Unrestricted is the sentinel definition served for an undefined topic when
// the organization permits undefined topics and sets no default: batch only,
// default retention.
func Unrestricted() *Topic {
	return &Topic{Batch: &Batch{}}
}

// Topics holds one organization's complete topic configuration.
type Topics struct {
	OrganizationName string `dynamodbav:"organizationName"`
	// Version guards against concurrent modification; every successful
	// update increments it by one.
	Version int64 `dynamodbav:"version"`
	// AllowUndefinedTopics controls ingestion into topics with no explicit
	// or default definition. Unset means allowed.
	AllowUndefinedTopics *bool `dynamodbav:"allowUndefinedTopics,omitempty"`
	// DefaultTopic overrides the definition used for undefined topics.
	DefaultTopic *Topic           `dynamodbav:"defaultTopic,omitempty"`
	Topics       map[string]Topic `dynamodbav:"topics,omitempty"`
}

// AllowUndefined reports whether undefined topics may be ingested.
func (t *Topics) AllowUndefined() bool {
	return t.AllowUndefinedTopics == nil || *t.AllowUndefinedTopics
}

// Topic resolves a topic definition by name. With useDefaultFallback an
// undefined topic falls back to the organization default when one is set,
// then to the unrestricted sentinel when undefined topics are allowed. Nil
// means the topic may not be ingested.
func (t *Topics) Topic(name string, useDefaultFallback bool) *Topic {
	if topic, ok := t.Topics[name]; ok {
		return &topic
	}
	if !useDefaultFallback {
		return nil
	}
	if t.DefaultTopic != nil {
		return t.DefaultTopic
	}
	if t.AllowUndefined() {
		return Unrestricted()
	}
	return nil
}
