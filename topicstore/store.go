/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package topicstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jellydator/ttlcache/v3"

	"github.com/streamplane/controlstore/ddb"
	"github.com/streamplane/controlstore/keyutil"
)

const (
	keyPrefixTopics = "topics"
	sortKeyTopics   = "topics"

	// InitialVersion is the version reported for an organization that has
	// never stored topic configuration.
	InitialVersion = 0
)

// Store holds per-organization topic configuration under a single versioned
// item, so every update is one conditional write and every read is one get.
// Reads on the ingestion hot path go through a process-local cache.
type Store struct {
	client ddb.Client
	table  string
	logger *slog.Logger
	cache  *ttlcache.Cache[string, *Topics]
}

// New creates a Store. cacheTTL bounds how stale a cached configuration may
// be served.
func New(client ddb.Client, table string, logger *slog.Logger, cacheTTL time.Duration) *Store {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	cache := ttlcache.New[string, *Topics](
		ttlcache.WithTTL[string, *Topics](cacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *Topics](),
	)
	go cache.Start()
	return &Store{
		client: client,
		table:  table,
		logger: logger,
		cache:  cache,
	}
}

// Close stops the cache janitor.
func (s *Store) Close() {
	s.cache.Stop()
}

// GetTopics returns an organization's topic configuration, never nil: an
// organization without stored configuration gets an empty one at the initial
// version.
func (s *Store) GetTopics(ctx context.Context, organizationName string, useCache bool) (*Topics, error) {
	if useCache {
		if entry := s.cache.Get(organizationName); entry != nil {
			return entry.Value(), nil
		}
	}
	topics, _, err := s.fetch(ctx, organizationName, !useCache)
	if err != nil {
		return nil, err
	}
	s.cache.Set(organizationName, topics, ttlcache.DefaultTTL)
	return topics, nil
}

func (s *Store) fetch(ctx context.Context, organizationName string, consistent bool) (*Topics, bool, error) {
	item, err := ddb.GetItem(ctx, s.client, s.table,
		keyutil.MergeStrings(keyPrefixTopics, organizationName), sortKeyTopics, consistent)
	if err != nil {
		return nil, false, err
	}
	if item == nil {
		return &Topics{OrganizationName: organizationName, Version: InitialVersion}, false, nil
	}
	topics := &Topics{}
	if err := attributevalue.UnmarshalMap(item, topics); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal topics: %w", err)
	}
	return topics, true, nil
}

// GetTopic resolves one topic definition, nil when ingestion into it is not
// permitted. Served from cache.
func (s *Store) GetTopic(ctx context.Context, organizationName, topicName string, useDefaultFallback bool) (*Topic, error) {
	topics, err := s.GetTopics(ctx, organizationName, true)
	if err != nil {
		return nil, err
	}
	return topics.Topic(topicName, useDefaultFallback), nil
}

// UpdateTopic replaces one named topic definition. When expectedVersion is
// given and does not match the stored version the write is rejected with a
// precondition failure and nothing changes. Returns the new configuration
// carrying the incremented version for the next conditional update.
func (s *Store) UpdateTopic(ctx context.Context, organizationName, topicName string, topic Topic, expectedVersion *int64) (*Topics, error) {
	return s.update(ctx, organizationName, expectedVersion, "update topic", func(topics *Topics) {
		if topics.Topics == nil {
			topics.Topics = make(map[string]Topic)
		}
		topics.Topics[topicName] = topic
	})
}

// UpdateDefaultTopic replaces the fallback definition applied to undefined
// topics.
func (s *Store) UpdateDefaultTopic(ctx context.Context, organizationName string, topic Topic, expectedVersion *int64) (*Topics, error) {
	return s.update(ctx, organizationName, expectedVersion, "update default topic", func(topics *Topics) {
		topics.DefaultTopic = &topic
	})
}

// SetAllowUndefined flips whether topics without a definition may be
// ingested.
func (s *Store) SetAllowUndefined(ctx context.Context, organizationName string, allowUndefined bool) (*Topics, error) {
	return s.update(ctx, organizationName, nil, "set allow undefined", func(topics *Topics) {
		topics.AllowUndefinedTopics = &allowUndefined
	})
}

func (s *Store) update(ctx context.Context, organizationName string, expectedVersion *int64, operation string, mutate func(*Topics)) (*Topics, error) {
	current, exists, err := s.fetch(ctx, organizationName, true)
	if err != nil {
		return nil, err
	}

	// The write is guarded on the version it claims to replace: the one the
	// caller expects, or the one just read.
	conditionVersion := current.Version
	if expectedVersion != nil {
		conditionVersion = *expectedVersion
	}

	updated := *current
	updated.Version = conditionVersion + 1
	mutate(&updated)

	item, err := attributevalue.MarshalMap(&updated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal topics: %w", err)
	}
	for k, v := range ddb.Key(keyutil.MergeStrings(keyPrefixTopics, organizationName), sortKeyTopics) {
		item[k] = v
	}

	m := ddb.NewMappings()
	var condition string
	if !exists && conditionVersion == InitialVersion {
		condition = fmt.Sprintf("attribute_not_exists(%s)", m.Field(ddb.AttrPK))
	} else {
		condition = fmt.Sprintf("%s = %s",
			m.Field("version"),
			m.Constant("version", &types.AttributeValueMemberN{Value: strconv.FormatInt(conditionVersion, 10)}))
	}
	if err := ddb.PutIf(ctx, s.client, s.table, operation, item, condition, m); err != nil {
		return nil, err
	}

	s.cache.Set(organizationName, &updated, ttlcache.DefaultTTL)
	s.logger.InfoContext(ctx, "updated topic configuration",
		"organization", organizationName, "version", updated.Version)
	return &updated, nil
}
