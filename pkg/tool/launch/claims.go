// pkg/tool/launch/claims.go
package launch

import (
	"fmt"
)

// LTI claim URIs carried inside a launch id_token.
const (
	ClaimMessageType   = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion       = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeploymentID  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTargetLinkURI = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimContext       = "https://purl.imsglobal.org/spec/lti/claim/context"
	ClaimResourceLink  = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ClaimRoles         = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimToolPlatform  = "https://purl.imsglobal.org/spec/lti/claim/tool_platform"
	ClaimCustom        = "https://purl.imsglobal.org/spec/lti/claim/custom"

	ClaimAGSEndpoint = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"

	ClaimDeepLinkSettings = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	ClaimContentItems     = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	ClaimDeepLinkData     = "https://purl.imsglobal.org/spec/lti-dl/claim/data"
)

// LTI message types.
const (
	MessageTypeResourceLink = "LtiResourceLinkRequest"
	MessageTypeDeepLinking  = "LtiDeepLinkingRequest"

	LTIVersion = "1.3.0"
)

// Common membership role URIs.
const (
	RoleInstructor = "http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"
	RoleLearner    = "http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"
	RoleAdmin      = "http://purl.imsglobal.org/vocab/lis/v2/system/person#Administrator"
)

// Context describes the course (or other grouping) a launch arrived from.
type Context struct {
	ID    string   `json:"id"`
	Label string   `json:"label,omitempty"`
	Title string   `json:"title,omitempty"`
	Types []string `json:"type,omitempty"`
}

// ResourceLink identifies the placement the launch came through.
type ResourceLink struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// AGSEndpoint is the grading-service descriptor a platform advertises
// on launches into gradable placements.
type AGSEndpoint struct {
	Scope     []string `json:"scope"`
	LineItems string   `json:"lineitems,omitempty"`
	LineItem  string   `json:"lineitem,omitempty"`
}

// DeepLinkSettings carries the platform's content-selection request.
type DeepLinkSettings struct {
	ReturnURL      string   `json:"deep_link_return_url"`
	AcceptTypes    []string `json:"accept_types,omitempty"`
	AcceptTargets  []string `json:"accept_presentation_document_targets,omitempty"`
	AcceptMultiple bool     `json:"accept_multiple,omitempty"`
	AutoCreate     bool     `json:"auto_create,omitempty"`
	Title          string   `json:"title,omitempty"`
	Data           string   `json:"data,omitempty"`
}

// Claims is the verified, decoded payload of a launch id_token. It is
// produced only by Validator.Validate and treated as read-only evidence
// of a verified launch; Raw keeps the full claim map for anything not
// given a typed field.
type Claims struct {
	Issuer   string
	Subject  string
	Audience string
	Nonce    string

	MessageType   string
	Version       string
	DeploymentID  string
	TargetLinkURI string

	Context      *Context
	ResourceLink *ResourceLink
	Endpoint     *AGSEndpoint
	DeepLink     *DeepLinkSettings

	Roles         []string
	Custom        map[string]string
	PlatformClaim map[string]any

	Raw map[string]any
}

// decodeClaims maps a raw claim set into the typed bundle. Only shape
// errors on claims we consume are reported; unknown claims stay in Raw.
func decodeClaims(raw map[string]any) (*Claims, error) {
	c := &Claims{
		Issuer:        asString(raw["iss"]),
		Subject:       asString(raw["sub"]),
		Audience:      firstAudience(raw["aud"]),
		Nonce:         asString(raw["nonce"]),
		MessageType:   asString(raw[ClaimMessageType]),
		Version:       asString(raw[ClaimVersion]),
		DeploymentID:  asString(raw[ClaimDeploymentID]),
		TargetLinkURI: asString(raw[ClaimTargetLinkURI]),
		Roles:         asStringSlice(raw[ClaimRoles]),
		Raw:           raw,
	}

	if m, ok := raw[ClaimContext].(map[string]any); ok {
		c.Context = &Context{
			ID:    asString(m["id"]),
			Label: asString(m["label"]),
			Title: asString(m["title"]),
			Types: asStringSlice(m["type"]),
		}
	}
	if m, ok := raw[ClaimResourceLink].(map[string]any); ok {
		c.ResourceLink = &ResourceLink{
			ID:          asString(m["id"]),
			Title:       asString(m["title"]),
			Description: asString(m["description"]),
		}
	}
	if m, ok := raw[ClaimAGSEndpoint].(map[string]any); ok {
		c.Endpoint = &AGSEndpoint{
			Scope:     asStringSlice(m["scope"]),
			LineItems: asString(m["lineitems"]),
			LineItem:  asString(m["lineitem"]),
		}
	}
	if m, ok := raw[ClaimDeepLinkSettings].(map[string]any); ok {
		c.DeepLink = &DeepLinkSettings{
			ReturnURL:      asString(m["deep_link_return_url"]),
			AcceptTypes:    asStringSlice(m["accept_types"]),
			AcceptTargets:  asStringSlice(m["accept_presentation_document_targets"]),
			AcceptMultiple: asBool(m["accept_multiple"]),
			AutoCreate:     asBool(m["auto_create"]),
			Title:          asString(m["title"]),
			Data:           asString(m["data"]),
		}
		if c.DeepLink.ReturnURL == "" {
			return nil, fmt.Errorf("deep linking settings without a return url")
		}
	}
	if m, ok := raw[ClaimCustom].(map[string]any); ok {
		c.Custom = make(map[string]string, len(m))
		for k, v := range m {
			c.Custom[k] = asString(v)
		}
	}
	if m, ok := raw[ClaimToolPlatform].(map[string]any); ok {
		c.PlatformClaim = m
	}
	return c, nil
}

// HasRole reports whether any of the given role URIs is present.
func (c *Claims) HasRole(roles ...string) bool {
	for _, want := range roles {
		for _, have := range c.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// ------------------------------ claim coercion -------------------------------

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return []string{vv}
	}
	return nil
}

// aud may be a single string or an array; the first entry is the one
// checked against the tool's client_id.
func firstAudience(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case []any:
		if len(vv) > 0 {
			return asString(vv[0])
		}
	case []string:
		if len(vv) > 0 {
			return vv[0]
		}
	}
	return ""
}
