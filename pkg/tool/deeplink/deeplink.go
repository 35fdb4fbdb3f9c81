// pkg/tool/deeplink/deeplink.go
package deeplink

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mind-engage/lti-tool/pkg/tool/launch"
	"github.com/mind-engage/lti-tool/pkg/tool/registry"
	"github.com/mind-engage/lti-tool/pkg/tool/reply"
)

/*
Deep-linking response builder.

After an instructor picks content inside the tool, the browser carries
a signed LtiDeepLinkingResponse JWT back to the platform's return URL
via an auto-submitting form. The Responder assembles the fixed claim
set, echoes the opaque data token the platform sent, and signs with
the tool key registered for that platform.
*/

// ErrNoContent signals a response built with no content items.
var ErrNoContent = errors.New("deeplink: response carries no content items")

// ContentItem is one piece of selected content. The ltiResourceLink
// type is what platforms turn into a launchable placement.
type ContentItem struct {
	Type   string            `json:"type"`
	Title  string            `json:"title,omitempty"`
	URL    string            `json:"url,omitempty"`
	Text   string            `json:"text,omitempty"`
	Custom map[string]string `json:"custom,omitempty"`

	// LineItem asks the platform to create a grading column for the
	// placement.
	LineItem *ContentLineItem `json:"lineItem,omitempty"`
}

const TypeResourceLink = "ltiResourceLink"

// ContentLineItem is the grading-column request embedded in a content item.
type ContentLineItem struct {
	ScoreMaximum float64 `json:"scoreMaximum"`
	Label        string  `json:"label,omitempty"`
	ResourceID   string  `json:"resourceId,omitempty"`
	Tag          string  `json:"tag,omitempty"`
}

// Responder signs deep-linking response messages.
type Responder struct {
	Reply *reply.Builder
}

// BuildResponse assembles and signs the response JWT. settings is the
// deep_linking_settings claim of the originating launch; its data
// token, when present, is echoed back untouched.
func (r *Responder) BuildResponse(p registry.Platform, settings *launch.DeepLinkSettings, items []ContentItem) (string, error) {
	if len(items) == 0 {
		return "", ErrNoContent
	}
	for _, item := range items {
		if item.Type == "" {
			return "", fmt.Errorf("deeplink: content item without a type")
		}
	}

	claims := map[string]any{
		"nonce":                  uuid.NewString(),
		launch.ClaimMessageType:  "LtiDeepLinkingResponse",
		launch.ClaimVersion:      launch.LTIVersion,
		launch.ClaimDeploymentID: p.DeploymentID,
		launch.ClaimContentItems: items,
	}
	if settings != nil && settings.Data != "" {
		claims[launch.ClaimDeepLinkData] = settings.Data
	}

	// The tool speaks as the client_id it was registered under; the
	// platform's issuer is the audience.
	return r.Reply.BuildAs(p.ClientID, p.Issuer, claims)
}
