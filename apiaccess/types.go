/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

package apiaccess

import (
	"time"

	"github.com/go-openapi/strfmt"
)

// UsageKeyType selects the rate-limit partition an API key maps to.
type UsageKeyType string

const (
	// UsageKeyTypeUnlimited is not rate limited and maps to no usage key.
	UsageKeyTypeUnlimited UsageKeyType = "UNLIMITED"
	// UsageKeyTypeGlobal shares one platform-wide partition.
	UsageKeyTypeGlobal UsageKeyType = "GLOBAL"
	// UsageKeyTypeOrganization shares one partition per organization.
	UsageKeyTypeOrganization           UsageKeyType = "ORGANIZATION"
	UsageKeyTypeOrganizationOneRPS     UsageKeyType = "ORGANIZATION_ONE_RPS"
	UsageKeyTypeOrganizationTenRPS     UsageKeyType = "ORGANIZATION_TEN_RPS"
	UsageKeyTypeOrganizationHundredRPS UsageKeyType = "ORGANIZATION_HUNDRED_RPS"
)

// Valid reports whether t is a known usage key type.
func (t UsageKeyType) Valid() bool {
	switch t {
	case UsageKeyTypeUnlimited, UsageKeyTypeGlobal, UsageKeyTypeOrganization,
		UsageKeyTypeOrganizationOneRPS, UsageKeyTypeOrganizationTenRPS,
		UsageKeyTypeOrganizationHundredRPS:
		return true
	}
	return false
}

// OrganizationScoped reports whether the derived usage key embeds the
// organization name.
func (t UsageKeyType) OrganizationScoped() bool {
	switch t {
	case UsageKeyTypeOrganization, UsageKeyTypeOrganizationOneRPS,
		UsageKeyTypeOrganizationTenRPS, UsageKeyTypeOrganizationHundredRPS:
		return true
	}
	return false
}

// OwnerType distinguishes who an API key was issued to.
type OwnerType string

const (
	OwnerTypeUser OwnerType = "USER"
	OwnerTypeTask OwnerType = "TASK"
)

// ApiAccess grants a caller access to an organization's resources.
type ApiAccess struct {
	ApiKey           string           `dynamodbav:"apiKey"`
	OrganizationName string           `dynamodbav:"organizationName"`
	Description      string           `dynamodbav:"description"`
	OwnerType        OwnerType        `dynamodbav:"ownerType"`
	OwnerUsername    string           `dynamodbav:"ownerUsername"`
	OwnerTaskID      string           `dynamodbav:"ownerTaskId,omitempty"`
	OwnerTaskVersion string           `dynamodbav:"ownerTaskVersion,omitempty"`
	UsageKeyType     UsageKeyType     `dynamodbav:"usageKeyType"`
	QueueWhitelist   []string         `dynamodbav:"queueWhitelist,stringset,omitempty"`
	TTLInEpochSec    int64            `dynamodbav:"ttlInEpochSec,omitempty"`
	CreatedAt        *strfmt.DateTime `dynamodbav:"createdAt,omitempty"`
}

// Expired reports whether the access has a TTL that already passed. An
// expired record is treated as absent even while the store retains it.
func (a *ApiAccess) Expired(now time.Time) bool {
	return a.TTLInEpochSec != 0 && a.TTLInEpochSec < now.Unix()
}

// UsageKey maps a deterministic usage-key API key to the generated id of its
// rate-limit partition.
type UsageKey struct {
	UsageKeyApiKey string `dynamodbav:"usageKeyApiKey"`
	UsageKeyID     string `dynamodbav:"usageKeyId"`
}
