/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package ddb

import (
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var unsafeChars = regexp.MustCompile(`(^[^a-zA-Z])|[^a-zA-Z0-9]`)

// Mappings accumulates expression attribute name and value aliases for one
// statement. Field and constant names are sanitized to an alphanumeric alias
// so they can never collide with DynamoDB reserved words.
type Mappings struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func NewMappings() *Mappings {
	return &Mappings{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

// Field registers an attribute name and returns its "#alias" placeholder.
func (m *Mappings) Field(name string) string {
	alias := "#" + m.sanitize(name, func(candidate string) (string, bool) {
		existing, ok := m.names["#"+candidate]
		return existing, ok
	})
	m.names[alias] = name
	return alias
}

// Constant registers an attribute value and returns its ":alias" placeholder.
func (m *Mappings) Constant(name string, value types.AttributeValue) string {
	alias := ":" + m.sanitize(name, func(candidate string) (string, bool) {
		_, ok := m.values[":"+candidate]
		// Values are write-once per alias; treat any occupant as a collision.
		return "", ok
	})
	m.values[alias] = value
	return alias
}

// sanitize maps a raw name to a safe alias, suffixing on collision so two
// distinct names never share an alias.
func (m *Mappings) sanitize(name string, lookup func(string) (string, bool)) string {
	candidate := unsafeChars.ReplaceAllString(name, "x")
	for i := 0; ; i++ {
		probe := candidate
		if i > 0 {
			probe = fmt.Sprintf("%s%d", candidate, i)
		}
		existing, taken := lookup(probe)
		if !taken || existing == name {
			return probe
		}
	}
}

// Names returns the accumulated ExpressionAttributeNames, or nil if empty.
func (m *Mappings) Names() map[string]string {
	if len(m.names) == 0 {
		return nil
	}
	return m.names
}

// Values returns the accumulated ExpressionAttributeValues, or nil if empty.
func (m *Mappings) Values() map[string]types.AttributeValue {
	if len(m.values) == 0 {
		return nil
	}
	return m.values
}
