/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package sessionstore

import (
	"context"
	"encoding/json"
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
	// pendingTimeout bounds how long a created session may wait for its
	// worker to start.
	pendingTimeout = 6 * time.Hour
	// processingTimeout is the maximum worker runtime with leeway.
	processingTimeout = 16 * time.Minute
	// resultTTL is how long a completed session's outcome stays fetchable.
	resultTTL = time.Hour

	keyPrefixSession = "session"
	sortKeySession   = "session"
)

// State is the lifecycle position of a session, derived from its stored
// fields rather than kept as its own attribute.
type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateSuccess    State = "SUCCESS"
	StateFailure    State = "FAILURE"
)

// Session tracks one asynchronous operation from submission to completion,
// polled by the caller while a worker runs it.
type Session struct {
	SessionID     string `dynamodbav:"sessionId"`
	Pending       bool   `dynamodbav:"pending"`
	ResultStr     string `dynamodbav:"resultStr,omitempty"`
	ErrorStr      string `dynamodbav:"errorStr,omitempty"`
	TTLInEpochSec int64  `dynamodbav:"ttlInEpochSec"`
}

// State derives the lifecycle position: pending until started, processing
// until a result or error lands.
func (s *Session) State() State {
	switch {
	case s.Pending:
		return StatePending
	case s.ResultStr != "":
		return StateSuccess
	case s.ErrorStr != "":
		return StateFailure
	default:
		return StateProcessing
	}
}

// Result unmarshals the success payload into out. Fails unless the session
// succeeded.
func (s *Session) Result(out any) error {
	if s.State() != StateSuccess {
		return fmt.Errorf("no result yet for session %s", s.SessionID)
	}
	return json.Unmarshal([]byte(s.ResultStr), out)
}

// Store tracks sessions. Transitions are conditional writes on the fields
// the state derives from, so exactly one caller wins each transition and a
// completed session cannot complete again.
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

// CreateSession allocates a new pending session under an unguessable id.
func (s *Store) CreateSession(ctx context.Context) (*Session, error) {
	session := &Session{
		SessionID:     keyutil.RandomID(),
		Pending:       true,
		TTLInEpochSec: s.nowFunc().Add(pendingTimeout).Unix(),
	}
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	for k, v := range sessionKey(session.SessionID) {
		item[k] = v
	}
	if _, err := s.client.PutItem(ctx, &sdk.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.DebugContext(ctx, "created session", "sessionId", session.SessionID)
	return session, nil
}

// StartSession moves a session from PENDING to PROCESSING. Any other current
// state fails the transition and changes nothing.
func (s *Store) StartSession(ctx context.Context, sessionID string) (*Session, error) {
	return s.transition(ctx, sessionID, "start session", true, func(b *ddb.UpdateBuilder) {
		b.Set("pending", &types.AttributeValueMemberBOOL{Value: false})
		b.Set(ddb.AttrTTL, epochAttr(s.nowFunc().Add(processingTimeout)))
	})
}

// Success completes a PROCESSING session with a JSON-encoded result.
func (s *Store) Success(ctx context.Context, sessionID string, result any) (*Session, error) {
	resultStr, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session result: %w", err)
	}
	return s.transition(ctx, sessionID, "complete session", false, func(b *ddb.UpdateBuilder) {
		b.Set("resultStr", &types.AttributeValueMemberS{Value: string(resultStr)})
		b.Set(ddb.AttrTTL, epochAttr(s.nowFunc().Add(resultTTL)))
	})
}

// Failure completes a PROCESSING session with an error message.
func (s *Store) Failure(ctx context.Context, sessionID, errorStr string) (*Session, error) {
	return s.transition(ctx, sessionID, "fail session", false, func(b *ddb.UpdateBuilder) {
		b.Set("errorStr", &types.AttributeValueMemberS{Value: errorStr})
		b.Set(ddb.AttrTTL, epochAttr(s.nowFunc().Add(resultTTL)))
	})
}

// transition runs a conditional update requiring the given pending flag and
// no recorded outcome.
func (s *Store) transition(ctx context.Context, sessionID, operation string, requirePending bool, apply func(*ddb.UpdateBuilder)) (*Session, error) {
	builder := ddb.Update(s.table, operation).
		Key(sessionKey(sessionID)).
		ConditionItemExists(ddb.AttrPK).
		ConditionFieldEquals("pending", &types.AttributeValueMemberBOOL{Value: requirePending}).
		ConditionFieldNotExists("resultStr").
		ConditionFieldNotExists("errorStr")
	apply(builder)
	attrs, err := builder.Execute(ctx, s.client)
	if err != nil {
		return nil, err
	}
	session := &Session{}
	if err := attributevalue.UnmarshalMap(attrs, session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, nil
}

// Check reads a session without mutating it, nil when unknown or expired
// out of the store.
func (s *Store) Check(ctx context.Context, sessionID string) (*Session, error) {
	item, err := ddb.GetItem(ctx, s.client, s.table,
		keyutil.MergeStrings(keyPrefixSession, sessionID), sortKeySession, false)
	if err != nil || item == nil {
		return nil, err
	}
	session := &Session{}
	if err := attributevalue.UnmarshalMap(item, session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, nil
}

func sessionKey(sessionID string) map[string]types.AttributeValue {
	return ddb.Key(keyutil.MergeStrings(keyPrefixSession, sessionID), sortKeySession)
}

func epochAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}
