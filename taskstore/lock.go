/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package taskstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/streamplane/controlstore/ddb"
	cserrors "github.com/streamplane/controlstore/errors"
	"github.com/streamplane/controlstore/keyutil"
)

// lockExpiry bounds how long a crashed holder keeps others out. Matches the
// maximum runtime of a deployment operation.
const lockExpiry = 15 * time.Minute

const keyPrefixTaskLock = "taskLock"

const sortKeyTaskLock = "taskLock"

// Lock is an advisory deployment lock on one (organization, task) pair.
// Release is the only way to free it before it expires.
type Lock struct {
	store            *Store
	organizationName string
	taskID           string
	reservationID    string
}

// AcquireLock attempts to take the deployment lock for a task without
// blocking. Returns nil when another holder has a live lock. Locks on
// distinct (organization, task) pairs never interfere.
func (s *Store) AcquireLock(ctx context.Context, organizationName, taskID string) (*Lock, error) {
	reservationID := keyutil.RandomID()
	now := s.nowFunc()

	item := map[string]types.AttributeValue{
		"organizationName": &types.AttributeValueMemberS{Value: organizationName},
		"taskId":           &types.AttributeValueMemberS{Value: taskID},
		"reservationId":    &types.AttributeValueMemberS{Value: reservationID},
		ddb.AttrTTL:        &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(lockExpiry).Unix(), 10)},
	}
	for k, v := range ddb.Key(keyutil.MergeStrings(keyPrefixTaskLock, organizationName, taskID), sortKeyTaskLock) {
		item[k] = v
	}

	// Succeeds when no lock exists or the previous holder's lease expired.
	m := ddb.NewMappings()
	condition := fmt.Sprintf("attribute_not_exists(%s) OR %s < %s",
		m.Field(ddb.AttrTTL),
		m.Field(ddb.AttrTTL),
		m.Constant("now", &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}))
	err := ddb.PutIf(ctx, s.client, s.table, "acquire task lock", item, condition, m)
	if cserrors.IsConditionFailed(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "acquired task lock",
		"organization", organizationName, "taskId", taskID)
	return &Lock{
		store:            s,
		organizationName: organizationName,
		taskID:           taskID,
		reservationID:    reservationID,
	}, nil
}

// Release frees the lock. A no-op when the lease already expired and someone
// else holds a newer lock.
func (l *Lock) Release(ctx context.Context) error {
	m := ddb.NewMappings()
	condition := fmt.Sprintf("%s = %s",
		m.Field("reservationId"),
		m.Constant("reservationId", &types.AttributeValueMemberS{Value: l.reservationID}))
	err := ddb.DeleteIf(ctx, l.store.client, l.store.table, "release task lock",
		ddb.Key(keyutil.MergeStrings(keyPrefixTaskLock, l.organizationName, l.taskID), sortKeyTaskLock),
		condition, m)
	if cserrors.IsConditionFailed(err) {
		return nil
	}
	return err
}
