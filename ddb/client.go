/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	cserrors "github.com/streamplane/controlstore/errors"
)

// Client is the subset of the DynamoDB API used by controlstore. Stores take
// this interface so tests can substitute an in-memory fake.
type Client interface {
	GetItem(ctx context.Context, params *sdk.GetItemInput, optFns ...func(*sdk.Options)) (*sdk.GetItemOutput, error)
	PutItem(ctx context.Context, params *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *sdk.UpdateItemInput, optFns ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *sdk.DeleteItemInput, optFns ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error)
	Query(ctx context.Context, params *sdk.QueryInput, optFns ...func(*sdk.Options)) (*sdk.QueryOutput, error)
	Scan(ctx context.Context, params *sdk.ScanInput, optFns ...func(*sdk.Options)) (*sdk.ScanOutput, error)
}

// New initializes a DynamoDB client using the default AWS credential chain.
func New(ctx context.Context, region string) (*sdk.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return sdk.NewFromConfig(cfg), nil
}

// NewWithStaticCredentials initializes a DynamoDB client with explicit
// credentials, primarily for integration tests.
func NewWithStaticCredentials(ctx context.Context, accessKey, secretKey, region string) (*sdk.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return sdk.NewFromConfig(cfg), nil
}

var (
	sharedOnce   sync.Once
	sharedClient *sdk.Client
	sharedErr    error
)

// Shared returns the process-wide client handle, constructing it on first
// use. Construction happens at most once even under concurrent callers.
// Prefer injecting a Client explicitly; Shared exists for the deployed
// runtime where one handle is reused across invocations.
func Shared(ctx context.Context, region string) (*sdk.Client, error) {
	sharedOnce.Do(func() {
		sharedClient, sharedErr = New(ctx, region)
	})
	return sharedClient, sharedErr
}

// IsConditionalCheckFailed reports whether err is DynamoDB rejecting a
// conditional write.
func IsConditionalCheckFailed(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	if errors.As(err, &cfe) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

// translateError maps a DynamoDB error to the controlstore error taxonomy.
// Conditional failures become ErrConditionFailed; everything else is wrapped.
func translateError(operation, condition string, err error) error {
	if IsConditionalCheckFailed(err) {
		return cserrors.NewConditionFailedError(operation, condition)
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}
