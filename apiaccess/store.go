/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package apiaccess

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-openapi/strfmt"
	"github.com/jellydator/ttlcache/v3"

	"github.com/streamplane/controlstore/config"
	"github.com/streamplane/controlstore/ddb"
	cserrors "github.com/streamplane/controlstore/errors"
	"github.com/streamplane/controlstore/keyutil"
)

const (
	// APIKeyLength is the length of generated API keys.
	APIKeyLength = 42
	// usageKeyPrefix pads derived keys to the minimum length the rate
	// limiter accepts.
	usageKeyPrefix = "streamplane-usage-key-"

	keyPrefixApiAccess      = "apiAccess"
	keyPrefixApiAccessByOrg = "apiAccessByOrg"
	keyPrefixUsageKey       = "usageKey"

	sortKeyApiAccess = "apiAccess"
	sortKeyUsageKey  = "usageKey"

	usageKeyScanPageSize = 100
)

// Store issues, resolves and revokes API keys, and maintains the mapping
// from derived usage-key API keys to rate-limit partitions. Resolution by
// API key runs on every request, so positive and negative results are held
// in a process-local cache; the non-cached path is authoritative and
// overwrites whatever the cache holds.
type Store struct {
	client    ddb.Client
	table     string
	deployEnv config.DeployEnv
	logger    *slog.Logger
	cache     *ttlcache.Cache[string, *ApiAccess]

	nowFunc func() time.Time
}

// New creates a Store. cacheTTL bounds how long a resolved API key, present
// or absent, is served without consulting the backing table.
func New(client ddb.Client, table string, deployEnv config.DeployEnv, logger *slog.Logger, cacheTTL time.Duration) *Store {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	cache := ttlcache.New[string, *ApiAccess](
		ttlcache.WithTTL[string, *ApiAccess](cacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *ApiAccess](),
	)
	go cache.Start()
	return &Store{
		client:    client,
		table:     table,
		deployEnv: deployEnv,
		logger:    logger,
		cache:     cache,
		nowFunc:   time.Now,
	}
}

// Close stops the cache janitor.
func (s *Store) Close() {
	s.cache.Stop()
}

// GenerateApiKey returns a new cryptographically random API key.
func (s *Store) GenerateApiKey() (string, error) {
	return keyutil.SecureAPIKey(APIKeyLength)
}

// CreateApiAccessForUser issues a new API key owned by a user. Shared usage
// key types resolve their rate-limit partition before the record persists;
// an expiry in the past is rejected and nothing is written.
func (s *Store) CreateApiAccessForUser(ctx context.Context, organizationName, description, username string, usageKeyType UsageKeyType, queueWhitelist []string, expiry *time.Time) (*ApiAccess, error) {
	apiKey, err := keyutil.SecureAPIKey(APIKeyLength)
	if err != nil {
		return nil, err
	}
	access := &ApiAccess{
		ApiKey:           apiKey,
		OrganizationName: organizationName,
		Description:      description,
		OwnerType:        OwnerTypeUser,
		OwnerUsername:    username,
		UsageKeyType:     usageKeyType,
		QueueWhitelist:   queueWhitelist,
	}
	if expiry != nil {
		access.TTLInEpochSec = expiry.Unix()
	}
	return s.createApiAccess(ctx, access)
}

// CreateApiAccessForTask issues an API key owned by a deployed task version,
// under a caller-supplied key so the task environment can be prepared before
// the record exists. Task keys never expire; they are revoked on undeploy.
func (s *Store) CreateApiAccessForTask(ctx context.Context, apiKey, organizationName, description, username, taskID, taskVersion string, usageKeyType UsageKeyType, queueWhitelist []string) (*ApiAccess, error) {
	return s.createApiAccess(ctx, &ApiAccess{
		ApiKey:           apiKey,
		OrganizationName: organizationName,
		Description:      description,
		OwnerType:        OwnerTypeTask,
		OwnerUsername:    username,
		OwnerTaskID:      taskID,
		OwnerTaskVersion: taskVersion,
		UsageKeyType:     usageKeyType,
		QueueWhitelist:   queueWhitelist,
	})
}

func (s *Store) createApiAccess(ctx context.Context, access *ApiAccess) (*ApiAccess, error) {
	if !access.UsageKeyType.Valid() {
		return nil, cserrors.NewValidationError("usageKeyType", fmt.Sprintf("unknown usage key type %q", access.UsageKeyType))
	}
	now := s.nowFunc()
	if access.Expired(now) {
		return nil, cserrors.NewValidationError("expiry", "expiry is in the past")
	}
	created := strfmt.DateTime(now)
	access.CreatedAt = &created

	// Resolve the shared rate-limit partition first so a persisted access
	// never points at a missing usage key.
	if derived, ok := UsageKeyApiKey(s.deployEnv, access.UsageKeyType, access.OrganizationName, access.QueueWhitelist); ok {
		if _, err := s.GetOrCreateUsageKey(ctx, derived); err != nil {
			return nil, err
		}
	}

	item, err := attributevalue.MarshalMap(access)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal api access: %w", err)
	}
	item[ddb.AttrPK] = &types.AttributeValueMemberS{Value: keyutil.MergeStrings(keyPrefixApiAccess, access.ApiKey)}
	item[ddb.AttrSK] = &types.AttributeValueMemberS{Value: sortKeyApiAccess}
	item[ddb.AttrGSI1PK] = &types.AttributeValueMemberS{Value: keyutil.MergeStrings(keyPrefixApiAccessByOrg, access.OrganizationName)}
	item[ddb.AttrGSI1SK] = &types.AttributeValueMemberS{Value: access.ApiKey}
	if _, err := s.client.PutItem(ctx, &sdk.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist api access: %w", err)
	}

	s.cache.Set(access.ApiKey, access, ttlcache.DefaultTTL)
	s.logger.InfoContext(ctx, "created api access",
		"organization", access.OrganizationName,
		"ownerType", access.OwnerType,
		"usageKeyType", access.UsageKeyType)
	return access, nil
}

// GetApiAccessByApiKey resolves an API key, returning nil when the key is
// unknown or logically expired. With useCache the process-local cache is
// consulted first and populated on miss, including with absence. Without it
// the table is read consistently and the cache is overwritten with the
// authoritative result, purging any stale entry.
func (s *Store) GetApiAccessByApiKey(ctx context.Context, apiKey string, useCache bool) (*ApiAccess, error) {
	if useCache {
		if entry := s.cache.Get(apiKey); entry != nil {
			access := entry.Value()
			if access == nil {
				return nil, nil
			}
			if !access.Expired(s.nowFunc()) {
				return access, nil
			}
			// Expired inside the cache.
			s.cache.Delete(apiKey)
		}
	}

	item, err := ddb.GetItem(ctx, s.client, s.table,
		keyutil.MergeStrings(keyPrefixApiAccess, apiKey), sortKeyApiAccess, !useCache)
	if err != nil {
		return nil, err
	}
	var access *ApiAccess
	if item != nil {
		access = &ApiAccess{}
		if err := attributevalue.UnmarshalMap(item, access); err != nil {
			return nil, fmt.Errorf("failed to unmarshal api access: %w", err)
		}
		if access.Expired(s.nowFunc()) {
			access = nil
		}
	}

	s.cache.Set(apiKey, access, ttlcache.DefaultTTL)
	return access, nil
}

// GetApiAccessesByOrganizationName lists an organization's non-expired
// accesses. Always reads the table.
func (s *Store) GetApiAccessesByOrganizationName(ctx context.Context, organizationName string) ([]ApiAccess, error) {
	m := ddb.NewMappings()
	keyCondition := fmt.Sprintf("%s = %s",
		m.Field(ddb.AttrGSI1PK),
		m.Constant("org", &types.AttributeValueMemberS{Value: keyutil.MergeStrings(keyPrefixApiAccessByOrg, organizationName)}))

	now := s.nowFunc()
	var accesses []ApiAccess
	var pageErr error
	err := ddb.QueryPages(ctx, s.client, &sdk.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(ddb.IndexGSI1),
		KeyConditionExpression:    &keyCondition,
		ExpressionAttributeNames:  m.Names(),
		ExpressionAttributeValues: m.Values(),
	}, func(items []map[string]types.AttributeValue) bool {
		for _, item := range items {
			var access ApiAccess
			if err := attributevalue.UnmarshalMap(item, &access); err != nil {
				pageErr = fmt.Errorf("failed to unmarshal api access: %w", err)
				return false
			}
			if access.Expired(now) {
				continue
			}
			accesses = append(accesses, access)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return accesses, pageErr
}

// GetApiAccessesByUser lists the non-expired accesses a user owns within an
// organization.
func (s *Store) GetApiAccessesByUser(ctx context.Context, organizationName, username string) ([]ApiAccess, error) {
	all, err := s.GetApiAccessesByOrganizationName(ctx, organizationName)
	if err != nil {
		return nil, err
	}
	accesses := all[:0]
	for _, access := range all {
		if access.OwnerType == OwnerTypeUser && access.OwnerUsername == username {
			accesses = append(accesses, access)
		}
	}
	return accesses, nil
}

// RevokeApiKey deletes an API key. The cache entry, if any, is left to the
// next non-cached lookup or its TTL.
func (s *Store) RevokeApiKey(ctx context.Context, apiKey string) error {
	if _, err := s.client.DeleteItem(ctx, &sdk.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       ddb.Key(keyutil.MergeStrings(keyPrefixApiAccess, apiKey), sortKeyApiAccess),
	}); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	s.logger.InfoContext(ctx, "revoked api key")
	return nil
}

// RevokeApiKeysForTask deletes every API key owned by any version of the
// given task.
func (s *Store) RevokeApiKeysForTask(ctx context.Context, organizationName, taskID string) error {
	accesses, err := s.GetApiAccessesByOrganizationName(ctx, organizationName)
	if err != nil {
		return err
	}
	for _, access := range accesses {
		if access.OwnerType != OwnerTypeTask || access.OwnerTaskID != taskID {
			continue
		}
		if err := s.RevokeApiKey(ctx, access.ApiKey); err != nil {
			return err
		}
	}
	return nil
}

// GetOrCreateUsageKey resolves the generated partition id for a derived
// usage-key API key, creating the mapping on first use. Creation is
// idempotent; a concurrent creator's mapping is returned instead of failing.
func (s *Store) GetOrCreateUsageKey(ctx context.Context, usageKeyApiKey string) (*UsageKey, error) {
	pk := keyutil.MergeStrings(keyPrefixUsageKey, usageKeyApiKey)
	existing, err := s.getUsageKey(ctx, pk)
	if err != nil || existing != nil {
		return existing, err
	}

	usageKey := &UsageKey{
		UsageKeyApiKey: usageKeyApiKey,
		UsageKeyID:     keyutil.RandomID(),
	}
	item, err := attributevalue.MarshalMap(usageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal usage key: %w", err)
	}
	item[ddb.AttrPK] = &types.AttributeValueMemberS{Value: pk}
	item[ddb.AttrSK] = &types.AttributeValueMemberS{Value: sortKeyUsageKey}

	m := ddb.NewMappings()
	condition := fmt.Sprintf("attribute_not_exists(%s)", m.Field(ddb.AttrPK))
	err = ddb.PutIf(ctx, s.client, s.table, "create usage key", item, condition, m)
	if cserrors.IsConditionFailed(err) {
		// Lost the race, the winner's mapping is authoritative.
		return s.getUsageKey(ctx, pk)
	}
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "created usage key", "usageKeyApiKey", usageKeyApiKey)
	return usageKey, nil
}

func (s *Store) getUsageKey(ctx context.Context, pk string) (*UsageKey, error) {
	item, err := ddb.GetItem(ctx, s.client, s.table, pk, sortKeyUsageKey, false)
	if err != nil || item == nil {
		return nil, err
	}
	usageKey := &UsageKey{}
	if err := attributevalue.UnmarshalMap(item, usageKey); err != nil {
		return nil, fmt.Errorf("failed to unmarshal usage key: %w", err)
	}
	return usageKey, nil
}

// UsageKeyExists reports whether the mapping for a derived usage-key API key
// has been created.
func (s *Store) UsageKeyExists(ctx context.Context, usageKeyApiKey string) (bool, error) {
	usageKey, err := s.getUsageKey(ctx, keyutil.MergeStrings(keyPrefixUsageKey, usageKeyApiKey))
	return usageKey != nil, err
}

// GetAllUsageKeys streams every usage key mapping to batchConsumer in pages,
// for administrative enumeration. A batchConsumer error stops the scan.
func (s *Store) GetAllUsageKeys(ctx context.Context, batchConsumer func(batch []UsageKey) error) error {
	m := ddb.NewMappings()
	filter := fmt.Sprintf("begins_with(%s, %s)",
		m.Field(ddb.AttrPK),
		m.Constant("prefix", &types.AttributeValueMemberS{Value: keyPrefixUsageKey + string(keyutil.Delimiter)}))

	var pageErr error
	err := ddb.ScanPages(ctx, s.client, &sdk.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          &filter,
		ExpressionAttributeNames:  m.Names(),
		ExpressionAttributeValues: m.Values(),
		Limit:                     aws.Int32(usageKeyScanPageSize),
	}, func(items []map[string]types.AttributeValue) bool {
		if len(items) == 0 {
			return true
		}
		batch := make([]UsageKey, 0, len(items))
		for _, item := range items {
			var usageKey UsageKey
			if err := attributevalue.UnmarshalMap(item, &usageKey); err != nil {
				pageErr = fmt.Errorf("failed to unmarshal usage key: %w", err)
				return false
			}
			batch = append(batch, usageKey)
		}
		if err := batchConsumer(batch); err != nil {
			pageErr = err
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return pageErr
}

// UsageKeyApiKey derives the deterministic usage-key API key for a usage key
// type. Returns false for UNLIMITED, which maps to no partition. The same
// derivation is computed by infrastructure provisioning to pre-create
// partitions, so the format must stay stable.
func UsageKeyApiKey(deployEnv config.DeployEnv, usageKeyType UsageKeyType, organizationName string, queueWhitelist []string) (string, bool) {
	if usageKeyType == UsageKeyTypeUnlimited {
		return "", false
	}
	if usageKeyType.OrganizationScoped() && organizationName == "" {
		// No organization to scope to, fall back to the platform-wide key.
		usageKeyType = UsageKeyTypeGlobal
	}

	var b strings.Builder
	b.WriteString(usageKeyPrefix)
	b.WriteString(string(usageKeyType))
	if usageKeyType.OrganizationScoped() {
		b.WriteByte('-')
		b.WriteString(organizationName)
	}
	if len(queueWhitelist) > 0 {
		sorted := append([]string(nil), queueWhitelist...)
		sort.Strings(sorted)
		for _, queue := range sorted {
			b.WriteByte('-')
			b.WriteString(queue)
		}
	}
	b.WriteString(deployEnv.Suffix())
	return b.String(), true
}
