/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package taskstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/streamplane/controlstore/ddb"
	"github.com/streamplane/controlstore/keyutil"
)

const (
	// deletedRecordRetention keeps tombstoned tasks queryable before the
	// store expires them for good.
	deletedRecordRetention = 180 * 24 * time.Hour

	keyPrefixTask      = "task"
	keyPrefixTaskByOrg = "taskByOrg"

	sortKeyTask = "task"

	taskPageSize = 100
)

// TaskRecord describes one deployed task and its queue wiring within an
// organization.
type TaskRecord struct {
	OrganizationName string   `dynamodbav:"organizationName"`
	TaskID           string   `dynamodbav:"taskId"`
	Username         string   `dynamodbav:"username"`
	InputQueueNames  []string `dynamodbav:"inputQueueNames,stringset,omitempty"`
	OutputQueueNames []string `dynamodbav:"outputQueueNames,stringset,omitempty"`
	EndpointURL      string   `dynamodbav:"endpointUrl,omitempty"`
	IsDeleted        bool     `dynamodbav:"isDeleted"`
	TTLInEpochSec    int64    `dynamodbav:"ttlInEpochSec,omitempty"`
}

// Store is the task registry for all organizations. Task ids are
// caller-supplied opaque strings, unique per organization.
type Store struct {
	client ddb.Client
	table  string
	logger *slog.Logger

	nowFunc func() time.Time
}

// New creates a Store over the given table.
func New(client ddb.Client, table string, logger *slog.Logger) *Store {
	return &Store{
		client:  client,
		table:   table,
		logger:  logger,
		nowFunc: time.Now,
	}
}

func taskKey(organizationName, taskID string) map[string]types.AttributeValue {
	return ddb.Key(keyutil.MergeStrings(keyPrefixTask, organizationName, taskID), sortKeyTask)
}

// Set overwrites a task record in full. A previously deleted task comes back
// alive with its tombstone and retention cleared.
func (s *Store) Set(ctx context.Context, organizationName, taskID, username string, inputQueueNames, outputQueueNames []string, endpointURL string) (*TaskRecord, error) {
	record := &TaskRecord{
		OrganizationName: organizationName,
		TaskID:           taskID,
		Username:         username,
		InputQueueNames:  inputQueueNames,
		OutputQueueNames: outputQueueNames,
		EndpointURL:      endpointURL,
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task record: %w", err)
	}
	for k, v := range taskKey(organizationName, taskID) {
		item[k] = v
	}
	item[ddb.AttrGSI1PK] = &types.AttributeValueMemberS{Value: keyutil.MergeStrings(keyPrefixTaskByOrg, organizationName)}
	item[ddb.AttrGSI1SK] = &types.AttributeValueMemberS{Value: taskID}

	if _, err := s.client.PutItem(ctx, &sdk.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist task record: %w", err)
	}
	s.logger.InfoContext(ctx, "stored task record",
		"organization", organizationName, "taskId", taskID)
	return record, nil
}

// Get returns a task record, nil when absent. Reads consistently because
// deployment flows read their own writes.
func (s *Store) Get(ctx context.Context, organizationName, taskID string) (*TaskRecord, error) {
	item, err := ddb.GetItem(ctx, s.client, s.table,
		keyutil.MergeStrings(keyPrefixTask, organizationName, taskID), sortKeyTask, true)
	if err != nil || item == nil {
		return nil, err
	}
	record := &TaskRecord{}
	if err := attributevalue.UnmarshalMap(item, record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task record: %w", err)
	}
	return record, nil
}

// MarkDeleted tombstones a task. The record stays queryable with
// includeDeleted until its retention lapses. Fails with a precondition
// error when the task does not exist.
func (s *Store) MarkDeleted(ctx context.Context, organizationName, taskID string) (*TaskRecord, error) {
	expiry := s.nowFunc().Add(deletedRecordRetention).Unix()
	attrs, err := ddb.Update(s.table, "mark task deleted").
		Key(taskKey(organizationName, taskID)).
		ConditionItemExists(ddb.AttrPK).
		Set("isDeleted", &types.AttributeValueMemberBOOL{Value: true}).
		Set(ddb.AttrTTL, &types.AttributeValueMemberN{Value: strconv.FormatInt(expiry, 10)}).
		Execute(ctx, s.client)
	if err != nil {
		return nil, err
	}
	record := &TaskRecord{}
	if err := attributevalue.UnmarshalMap(attrs, record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task record: %w", err)
	}
	s.logger.InfoContext(ctx, "marked task deleted",
		"organization", organizationName, "taskId", taskID)
	return record, nil
}

// GetForOrganizationPage lists one page of an organization's tasks. An empty
// cursor starts from the beginning; an empty next cursor means the listing
// is complete. Tombstoned tasks are filtered out unless includeDeleted.
func (s *Store) GetForOrganizationPage(ctx context.Context, organizationName string, includeDeleted bool, cursor string) ([]TaskRecord, string, error) {
	m := ddb.NewMappings()
	keyCondition := fmt.Sprintf("%s = %s",
		m.Field(ddb.AttrGSI1PK),
		m.Constant("org", &types.AttributeValueMemberS{Value: keyutil.MergeStrings(keyPrefixTaskByOrg, organizationName)}))

	input := &sdk.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(ddb.IndexGSI1),
		KeyConditionExpression: &keyCondition,
		Limit:                  aws.Int32(taskPageSize),
	}
	if !includeDeleted {
		filter := fmt.Sprintf("%s = %s",
			m.Field("isDeleted"),
			m.Constant("isDeleted", &types.AttributeValueMemberBOOL{Value: false}))
		input.FilterExpression = &filter
	}
	if cursor != "" {
		startKey, err := ddb.DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		input.ExclusiveStartKey = startKey
	}
	input.ExpressionAttributeNames = m.Names()
	input.ExpressionAttributeValues = m.Values()

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list tasks for organization %q: %w", organizationName, err)
	}
	records := make([]TaskRecord, 0, len(out.Items))
	for _, item := range out.Items {
		var record TaskRecord
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal task record: %w", err)
		}
		records = append(records, record)
	}
	next, err := ddb.EncodeCursor(out.LastEvaluatedKey)
	if err != nil {
		return nil, "", err
	}
	return records, next, nil
}

// GetForOrganization streams all of an organization's tasks to batchConsumer
// in pages. A batchConsumer error stops the listing.
func (s *Store) GetForOrganization(ctx context.Context, organizationName string, includeDeleted bool, batchConsumer func(batch []TaskRecord) error) error {
	cursor := ""
	for {
		records, next, err := s.GetForOrganizationPage(ctx, organizationName, includeDeleted, cursor)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			if err := batchConsumer(records); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// CheckLoops reports the cycle that would form if the task's queue wiring
// were set to the proposed inputs and outputs, or nil when the wiring is
// safe. The task's own current edges are excluded so an update is checked
// against everyone else, not against its old self. Advisory only: callers
// run it before Set, nothing enforces it.
func (s *Store) CheckLoops(ctx context.Context, organizationName, taskID string, inputQueueNames, outputQueueNames []string) ([]Node, error) {
	nodesByTask := make(map[string]Node)
	err := s.GetForOrganization(ctx, organizationName, false, func(batch []TaskRecord) error {
		for _, record := range batch {
			nodesByTask[record.TaskID] = Node{
				Name:    record.TaskID,
				Inputs:  record.InputQueueNames,
				Outputs: record.OutputQueueNames,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	nodesByTask[taskID] = Node{
		Name:    taskID,
		Inputs:  inputQueueNames,
		Outputs: outputQueueNames,
	}

	nodes := make([]Node, 0, len(nodesByTask))
	for _, node := range nodesByTask {
		nodes = append(nodes, node)
	}
	return FindCycle(nodes), nil
}
