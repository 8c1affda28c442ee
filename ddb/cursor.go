/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package ddb

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Pagination cursors carry the last evaluated key between calls as an opaque
// string. Only string key attributes participate, which covers every index
// this table defines.

// EncodeCursor serializes a LastEvaluatedKey into an opaque cursor. Returns
// empty when there are no further pages.
func EncodeCursor(lastKey map[string]types.AttributeValue) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}
	flat := make(map[string]string, len(lastKey))
	for attr, value := range lastKey {
		s, ok := value.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("cursor attribute %q is not a string key", attr)
		}
		flat[attr] = s.Value
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor reverses EncodeCursor into an ExclusiveStartKey.
func DecodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	key := make(map[string]types.AttributeValue, len(flat))
	for attr, value := range flat {
		key[attr] = &types.AttributeValueMemberS{Value: value}
	}
	return key, nil
}
