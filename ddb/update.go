/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// UpdateBuilder assembles a single conditional UpdateItem statement. All
// mutations and conditions share one Mappings instance so aliases stay
// consistent across the whole expression.
type UpdateBuilder struct {
	table      string
	key        map[string]types.AttributeValue
	operation  string
	sets       []string
	removes    []string
	adds       []string
	deletes    []string
	conditions []string
	m          *Mappings
}

// Update starts a builder for the given table. The operation name is used in
// error reporting only.
func Update(table, operation string) *UpdateBuilder {
	return &UpdateBuilder{
		table:     table,
		operation: operation,
		m:         NewMappings(),
	}
}

// Mappings exposes the builder's alias table for raw expression fragments.
func (b *UpdateBuilder) Mappings() *Mappings {
	return b.m
}

// Key sets the primary key of the item to update.
func (b *UpdateBuilder) Key(key map[string]types.AttributeValue) *UpdateBuilder {
	b.key = key
	return b
}

// Set assigns a field to a constant value.
func (b *UpdateBuilder) Set(field string, value types.AttributeValue) *UpdateBuilder {
	b.sets = append(b.sets, fmt.Sprintf("%s = %s",
		b.m.Field(field),
		b.m.Constant(field, value)))
	return b
}

// SetClause appends a raw SET clause composed against Mappings, for
// increments with defaults and similar forms the simple Set cannot express.
func (b *UpdateBuilder) SetClause(clause string) *UpdateBuilder {
	b.sets = append(b.sets, clause)
	return b
}

// Remove deletes a field from the item.
func (b *UpdateBuilder) Remove(field string) *UpdateBuilder {
	b.removes = append(b.removes, b.m.Field(field))
	return b
}

// AddClause appends a raw ADD clause (set union, numeric add).
func (b *UpdateBuilder) AddClause(clause string) *UpdateBuilder {
	b.adds = append(b.adds, clause)
	return b
}

// DeleteClause appends a raw DELETE clause (set subtraction).
func (b *UpdateBuilder) DeleteClause(clause string) *UpdateBuilder {
	b.deletes = append(b.deletes, clause)
	return b
}

// ConditionItemExists requires the item to already exist.
func (b *UpdateBuilder) ConditionItemExists(pkAttr string) *UpdateBuilder {
	b.conditions = append(b.conditions, fmt.Sprintf("attribute_exists(%s)", b.m.Field(pkAttr)))
	return b
}

// ConditionFieldEquals requires a field to hold the given value.
func (b *UpdateBuilder) ConditionFieldEquals(field string, value types.AttributeValue) *UpdateBuilder {
	b.conditions = append(b.conditions, fmt.Sprintf("%s = %s",
		b.m.Field(field),
		b.m.Constant("cond"+field, value)))
	return b
}

// ConditionFieldNotExists requires a field to be absent.
func (b *UpdateBuilder) ConditionFieldNotExists(field string) *UpdateBuilder {
	b.conditions = append(b.conditions, fmt.Sprintf("attribute_not_exists(%s)", b.m.Field(field)))
	return b
}

// Condition appends a raw condition clause composed against Mappings.
func (b *UpdateBuilder) Condition(clause string) *UpdateBuilder {
	b.conditions = append(b.conditions, clause)
	return b
}

func (b *UpdateBuilder) updateExpression() string {
	var expr []string
	if len(b.sets) > 0 {
		expr = append(expr, "SET "+strings.Join(b.sets, ", "))
	}
	if len(b.removes) > 0 {
		expr = append(expr, "REMOVE "+strings.Join(b.removes, ", "))
	}
	if len(b.adds) > 0 {
		expr = append(expr, "ADD "+strings.Join(b.adds, ", "))
	}
	if len(b.deletes) > 0 {
		expr = append(expr, "DELETE "+strings.Join(b.deletes, ", "))
	}
	return strings.Join(expr, " ")
}

// Execute sends the update and returns the post-update item image. A rejected
// condition surfaces as errors.ErrConditionFailed.
func (b *UpdateBuilder) Execute(ctx context.Context, client Client) (map[string]types.AttributeValue, error) {
	updateExpr := b.updateExpression()
	if updateExpr == "" {
		return nil, fmt.Errorf("%s: no updates provided", b.operation)
	}

	input := &sdk.UpdateItemInput{
		TableName:                 aws.String(b.table),
		Key:                       b.key,
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  b.m.Names(),
		ExpressionAttributeValues: b.m.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	}
	condition := strings.Join(b.conditions, " AND ")
	if condition != "" {
		input.ConditionExpression = &condition
	}

	out, err := client.UpdateItem(ctx, input)
	if err != nil {
		return nil, translateError(b.operation, condition, err)
	}
	return out.Attributes, nil
}

// PutIf writes an item guarded by a condition expression. An empty condition
// performs an unconditional overwrite.
func PutIf(ctx context.Context, client Client, table, operation string, item map[string]types.AttributeValue, condition string, m *Mappings) error {
	input := &sdk.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}
	if condition != "" {
		input.ConditionExpression = &condition
		input.ExpressionAttributeNames = m.Names()
		input.ExpressionAttributeValues = m.Values()
	}
	if _, err := client.PutItem(ctx, input); err != nil {
		return translateError(operation, condition, err)
	}
	return nil
}

// DeleteIf removes an item guarded by a condition expression.
func DeleteIf(ctx context.Context, client Client, table, operation string, key map[string]types.AttributeValue, condition string, m *Mappings) error {
	input := &sdk.DeleteItemInput{
		TableName: aws.String(table),
		Key:       key,
	}
	if condition != "" {
		input.ConditionExpression = &condition
		input.ExpressionAttributeNames = m.Names()
		input.ExpressionAttributeValues = m.Values()
	}
	if _, err := client.DeleteItem(ctx, input); err != nil {
		return translateError(operation, condition, err)
	}
	return nil
}
