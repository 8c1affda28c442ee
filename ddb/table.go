/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package ddb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute and index names of the single table backing all stores. Every
// record type carves out its own pk prefix; secondary access patterns go
// through gsi1.
const (
	AttrPK     = "pk"
	AttrSK     = "sk"
	AttrGSI1PK = "gsi1pk"
	AttrGSI1SK = "gsi1sk"
	IndexGSI1  = "gsi1"
	AttrTTL    = "ttlInEpochSec"
)

// Key builds a primary key map from pk and sk values.
func Key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: pk},
		AttrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

// GetItem fetches a single item, returning nil when absent.
func GetItem(ctx context.Context, client Client, table, pk, sk string, consistent bool) (map[string]types.AttributeValue, error) {
	out, err := client.GetItem(ctx, &sdk.GetItemInput{
		TableName:      aws.String(table),
		Key:            Key(pk, sk),
		ConsistentRead: &consistent,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// QueryPages runs a query to exhaustion, invoking fn per page. fn returning
// false stops early.
func QueryPages(ctx context.Context, client Client, input *sdk.QueryInput, fn func(items []map[string]types.AttributeValue) bool) error {
	for {
		out, err := client.Query(ctx, input)
		if err != nil {
			return err
		}
		if !fn(out.Items) {
			return nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// ScanPages runs a scan to exhaustion, invoking fn per page. fn returning
// false stops early.
func ScanPages(ctx context.Context, client Client, input *sdk.ScanInput, fn func(items []map[string]types.AttributeValue) bool) error {
	for {
		out, err := client.Scan(ctx, input)
		if err != nil {
			return err
		}
		if !fn(out.Items) {
			return nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
