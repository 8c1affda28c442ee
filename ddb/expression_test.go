/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package ddb

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
)

func TestMappingsSanitizesUnsafeNames(t *testing.T) {
	m := NewMappings()
	alias := m.Field("ttl-in-epoch.sec")
	assert.Equal(t, "#ttlxinxepochxsec", alias)
	assert.Equal(t, "ttl-in-epoch.sec", m.Names()[alias])
}

func TestMappingsFieldReusesAliasForSameName(t *testing.T) {
	m := NewMappings()
	first := m.Field("version")
	second := m.Field("version")
	assert.Equal(t, first, second)
	assert.Len(t, m.Names(), 1)
}

func TestMappingsCollidingNamesGetDistinctAliases(t *testing.T) {
	m := NewMappings()
	a := m.Field("queue.names")
	b := m.Field("queue-names")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "queue.names", m.Names()[a])
	assert.Equal(t, "queue-names", m.Names()[b])
}

func TestMappingsConstantsAreWriteOnce(t *testing.T) {
	m := NewMappings()
	a := m.Constant("now", &types.AttributeValueMemberN{Value: "1"})
	b := m.Constant("now", &types.AttributeValueMemberN{Value: "2"})
	assert.NotEqual(t, a, b)
	assert.Len(t, m.Values(), 2)
}

func TestMappingsEmpty(t *testing.T) {
	m := NewMappings()
	assert.Nil(t, m.Names())
	assert.Nil(t, m.Values())
}

func TestUpdateBuilderExpression(t *testing.T) {
	b := Update("tbl", "test").
		Key(Key("p", "s")).
		Set("name", &types.AttributeValueMemberS{Value: "x"}).
		Remove("stale").
		ConditionItemExists("pk")
	assert.Equal(t, "SET #name = :name REMOVE #stale", b.updateExpression())
	assert.Contains(t, b.conditions[0], "attribute_exists(")
}
