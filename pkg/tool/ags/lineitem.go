// pkg/tool/ags/lineitem.go
package ags

import (
	"encoding/json"
	"time"
)

// AGS scopes a platform may advertise on the endpoint claim.
const (
	ScopeLineItem         = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem"
	ScopeLineItemReadOnly = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly"
	ScopeResultReadOnly   = "https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly"
	ScopeScore            = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
)

// Timestamps cross the wire as ISO-8601 with millisecond precision,
// UTC-normalized.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// LineItem is a remote grading column. The platform-assigned URL in ID
// is its identity; everything else is a projection that can be
// reloaded. Keys this tool has no typed field for survive round-trips
// in Extra.
type LineItem struct {
	ID             string
	Label          string
	ScoreMaximum   float64
	ResourceLinkID string
	ResourceID     string
	Tag            string
	StartDateTime  *time.Time
	EndDateTime    *time.Time

	// Extra holds extension keys the platform sent that have no named
	// field above.
	Extra map[string]any
}

func (li LineItem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 8+len(li.Extra))
	for k, v := range li.Extra {
		out[k] = v
	}
	// Named fields win over Extra on key collision.
	if li.ID != "" {
		out["id"] = li.ID
	}
	out["label"] = li.Label
	out["scoreMaximum"] = li.ScoreMaximum
	if li.ResourceLinkID != "" {
		out["resourceLinkId"] = li.ResourceLinkID
	}
	if li.ResourceID != "" {
		out["resourceId"] = li.ResourceID
	}
	if li.Tag != "" {
		out["tag"] = li.Tag
	}
	if li.StartDateTime != nil {
		out["startDateTime"] = formatTimestamp(*li.StartDateTime)
	}
	if li.EndDateTime != nil {
		out["endDateTime"] = formatTimestamp(*li.EndDateTime)
	}
	return json.Marshal(out)
}

func (li *LineItem) UnmarshalJSON(data []byte) error {
	raw := make(map[string]any)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*li = LineItem{}
	for key, v := range raw {
		switch key {
		case "id":
			li.ID, _ = v.(string)
		case "label":
			li.Label, _ = v.(string)
		case "scoreMaximum":
			li.ScoreMaximum, _ = v.(float64)
		case "resourceLinkId":
			li.ResourceLinkID, _ = v.(string)
		case "resourceId":
			li.ResourceID, _ = v.(string)
		case "tag":
			li.Tag, _ = v.(string)
		case "startDateTime":
			li.StartDateTime = parseTimestamp(v)
		case "endDateTime":
			li.EndDateTime = parseTimestamp(v)
		default:
			if li.Extra == nil {
				li.Extra = make(map[string]any)
			}
			li.Extra[key] = v
		}
	}
	return nil
}

func parseTimestamp(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range []string{timestampLayout, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Result is one user's recorded outcome on a line item.
type Result struct {
	ID            string  `json:"id"`
	ScoreOf       string  `json:"scoreOf"`
	UserID        string  `json:"userId"`
	ResultScore   float64 `json:"resultScore"`
	ResultMaximum float64 `json:"resultMaximum"`
	Comment       string  `json:"comment,omitempty"`
}
