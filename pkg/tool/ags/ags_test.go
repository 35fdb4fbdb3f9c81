package ags_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mind-engage/lti-tool/pkg/tool/ags"
	"github.com/mind-engage/lti-tool/pkg/tool/launch"
)

// staticTokens hands out one bearer and records the scopes asked for.
type staticTokens struct {
	bearer string
	scopes []string
}

func (s *staticTokens) Token(_ context.Context, scopes []string) (string, error) {
	s.scopes = scopes
	return s.bearer, nil
}

type recordedRequest struct {
	method      string
	path        string
	rawQuery    string
	contentType string
	accept      string
	authz       string
	body        []byte
}

// agsServer captures each request and plays back canned responses.
func agsServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.rawQuery = r.URL.RawQuery
		rec.contentType = r.Header.Get("Content-Type")
		rec.accept = r.Header.Get("Accept")
		rec.authz = r.Header.Get("Authorization")
		rec.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func fullEndpoint(base string) launch.AGSEndpoint {
	return launch.AGSEndpoint{
		Scope: []string{
			ags.ScopeLineItem,
			ags.ScopeResultReadOnly,
			ags.ScopeScore,
		},
		LineItems: base + "/ctx/1/lineitems",
	}
}

func TestSetScoreWireFormat(t *testing.T) {
	srv, rec := agsServer(t, http.StatusOK, "")
	tokens := &staticTokens{bearer: "bearer-1"}
	client := ags.NewClient(tokens, fullEndpoint(srv.URL))

	score, err := ags.NewScore("u-9", 8, 10, ags.ActivityCompleted, ags.GradingFullyGraded)
	if err != nil {
		t.Fatalf("NewScore: %v", err)
	}
	when := time.Date(2026, 5, 2, 14, 30, 15, 123_000_000, time.FixedZone("CEST", 2*3600))
	score = score.WithTimestamp(when).WithComment("well done")

	lineItem := srv.URL + "/ctx/1/lineitems/42?type=quiz"
	if err := client.SetScore(context.Background(), lineItem, score); err != nil {
		t.Fatalf("SetScore: %v", err)
	}

	if rec.method != http.MethodPost || rec.path != "/ctx/1/lineitems/42/scores" {
		t.Fatalf("request = %s %s", rec.method, rec.path)
	}
	if rec.rawQuery != "type=quiz" {
		t.Fatalf("query dropped: %q", rec.rawQuery)
	}
	if rec.contentType != "application/vnd.ims.lis.v1.score+json" {
		t.Fatalf("content type = %s", rec.contentType)
	}
	if rec.authz != "Bearer bearer-1" {
		t.Fatalf("authorization = %s", rec.authz)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["scoreGiven"] != float64(8) || body["scoreMaximum"] != float64(10) {
		t.Fatalf("score fields = %v / %v", body["scoreGiven"], body["scoreMaximum"])
	}
	if body["gradingProgress"] != "FullyGraded" || body["activityProgress"] != "Completed" {
		t.Fatalf("progress fields = %v / %v", body["gradingProgress"], body["activityProgress"])
	}
	if body["userId"] != "u-9" || body["comment"] != "well done" {
		t.Fatalf("identity fields = %v / %v", body["userId"], body["comment"])
	}
	// UTC-normalized millisecond precision regardless of input zone.
	if body["timestamp"] != "2026-05-02T12:30:15.123Z" {
		t.Fatalf("timestamp = %v", body["timestamp"])
	}
}

func TestSetScoreProgressOnlyOmitsGrade(t *testing.T) {
	srv, rec := agsServer(t, http.StatusOK, "")
	tokens := &staticTokens{bearer: "bearer-1"}
	client := ags.NewClient(tokens, fullEndpoint(srv.URL))

	// A started-but-ungraded attempt must not record a zero grade.
	score, err := ags.NewProgressScore("u-9", ags.ActivityStarted, ags.GradingNotReady)
	if err != nil {
		t.Fatalf("NewProgressScore: %v", err)
	}

	lineItem := srv.URL + "/ctx/1/lineitems/42"
	if err := client.SetScore(context.Background(), lineItem, score); err != nil {
		t.Fatalf("SetScore: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["scoreGiven"]; ok {
		t.Fatalf("scoreGiven sent on score-less event: %v", body["scoreGiven"])
	}
	if _, ok := body["scoreMaximum"]; ok {
		t.Fatalf("scoreMaximum sent on score-less event: %v", body["scoreMaximum"])
	}
	if body["activityProgress"] != "Started" || body["gradingProgress"] != "NotReady" {
		t.Fatalf("progress fields = %v / %v", body["activityProgress"], body["gradingProgress"])
	}
	if body["userId"] != "u-9" {
		t.Fatalf("userId = %v", body["userId"])
	}
}

func TestProgressScoreVocabularyEnforced(t *testing.T) {
	if _, err := ags.NewProgressScore("", ags.ActivityStarted, ags.GradingNotReady); !errors.Is(err, ags.ErrInvalidArgument) {
		t.Fatalf("empty user id: %v", err)
	}
	if _, err := ags.NewProgressScore("u-9", "Running", ags.GradingNotReady); !errors.Is(err, ags.ErrInvalidArgument) {
		t.Fatalf("bad activity progress: %v", err)
	}
	if _, err := ags.NewProgressScore("u-9", ags.ActivityStarted, "Later"); !errors.Is(err, ags.ErrInvalidArgument) {
		t.Fatalf("bad grading progress: %v", err)
	}
}

func TestScoreVocabulary(t *testing.T) {
	activities := []string{
		ags.ActivityInitialized, ags.ActivityStarted, ags.ActivityInProgress,
		ags.ActivitySubmitted, ags.ActivityCompleted,
	}
	gradings := []string{
		ags.GradingNotReady, ags.GradingFailed, ags.GradingPendingManual,
		ags.GradingPending, ags.GradingFullyGraded,
	}
	for _, a := range activities {
		for _, g := range gradings {
			if _, err := ags.NewScore("u", 1, 2, a, g); err != nil {
				t.Fatalf("NewScore(%s, %s): %v", a, g, err)
			}
		}
	}

	if _, err := ags.NewScore("u", 1, 2, "Bogus", ags.GradingFullyGraded); !errors.Is(err, ags.ErrInvalidArgument) {
		t.Fatalf("bogus activity err = %v", err)
	}
	if _, err := ags.NewScore("u", 1, 2, ags.ActivityCompleted, "Bogus"); !errors.Is(err, ags.ErrInvalidArgument) {
		t.Fatalf("bogus grading err = %v", err)
	}
	if _, err := ags.NewScore("", 1, 2, ags.ActivityCompleted, ags.GradingFullyGraded); !errors.Is(err, ags.ErrInvalidArgument) {
		t.Fatalf("empty user err = %v", err)
	}
	if _, err := ags.NewScore("u", 1, 0, ags.ActivityCompleted, ags.GradingFullyGraded); !errors.Is(err, ags.ErrInvalidArgument) {
		t.Fatalf("zero maximum err = %v", err)
	}
}

func TestCreateAndGetLineItem(t *testing.T) {
	created := `{"id":"https://lms.example/li/7","label":"Quiz 1","scoreMaximum":10,` +
		`"resourceLinkId":"rl-1","https://lms.example/ext/visibility":"hidden"}`
	srv, rec := agsServer(t, http.StatusCreated, created)
	tokens := &staticTokens{bearer: "b"}
	client := ags.NewClient(tokens, fullEndpoint(srv.URL))

	li, err := client.Create(context.Background(), ags.LineItem{
		Label:          "Quiz 1",
		ScoreMaximum:   10,
		ResourceLinkID: "rl-1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/ctx/1/lineitems" {
		t.Fatalf("request = %s %s", rec.method, rec.path)
	}
	if rec.contentType != "application/vnd.ims.lis.v2.lineitem+json" {
		t.Fatalf("content type = %s", rec.contentType)
	}
	if li.ID != "https://lms.example/li/7" || li.ScoreMaximum != 10 {
		t.Fatalf("created = %+v", li)
	}
	// Unknown keys land in Extra, not on the floor.
	if li.Extra["https://lms.example/ext/visibility"] != "hidden" {
		t.Fatalf("extension key lost: %+v", li.Extra)
	}

	if _, err := client.Get(context.Background(), srv.URL+"/li/7"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.accept != "application/vnd.ims.lis.v2.lineitem+json" {
		t.Fatalf("accept = %s", rec.accept)
	}
}

func TestListSendsContainerAcceptAndFilters(t *testing.T) {
	srv, rec := agsServer(t, http.StatusOK, `[{"id":"li-1","label":"A","scoreMaximum":5}]`)
	tokens := &staticTokens{bearer: "b"}
	client := ags.NewClient(tokens, fullEndpoint(srv.URL))

	items, err := client.List(context.Background(), ags.ListOptions{ResourceLinkID: "rl-1", Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Label != "A" {
		t.Fatalf("items = %+v", items)
	}
	if rec.accept != "application/vnd.ims.lis.v2.lineitemcontainer+json" {
		t.Fatalf("accept = %s", rec.accept)
	}
	if !strings.Contains(rec.rawQuery, "resource_link_id=rl-1") || !strings.Contains(rec.rawQuery, "limit=10") {
		t.Fatalf("query = %s", rec.rawQuery)
	}
	// Token covers the whole advertised set for cache sharing.
	if len(tokens.scopes) != 3 {
		t.Fatalf("token scopes = %v", tokens.scopes)
	}
}

func TestResultsEndpoint(t *testing.T) {
	srv, rec := agsServer(t, http.StatusOK,
		`[{"id":"r-1","scoreOf":"li-1","userId":"u-9","resultScore":8,"resultMaximum":10}]`)
	tokens := &staticTokens{bearer: "b"}
	client := ags.NewClient(tokens, fullEndpoint(srv.URL))

	results, err := client.Results(context.Background(), srv.URL+"/li/1")
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if rec.path != "/li/1/results" {
		t.Fatalf("path = %s", rec.path)
	}
	if rec.accept != "application/vnd.ims.lis.v2.resultcontainer+json" {
		t.Fatalf("accept = %s", rec.accept)
	}
	if len(results) != 1 || results[0].UserID != "u-9" || results[0].ResultScore != 8 {
		t.Fatalf("results = %+v", results)
	}
}

func TestDeleteLineItem(t *testing.T) {
	srv, rec := agsServer(t, http.StatusNoContent, "")
	client := ags.NewClient(&staticTokens{bearer: "b"}, fullEndpoint(srv.URL))

	if err := client.Delete(context.Background(), srv.URL+"/li/1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rec.method != http.MethodDelete || rec.path != "/li/1" {
		t.Fatalf("request = %s %s", rec.method, rec.path)
	}
}

func TestUpstreamFailureSurfacesRaw(t *testing.T) {
	srv, _ := agsServer(t, http.StatusForbidden, "nope")
	client := ags.NewClient(&staticTokens{bearer: "b"}, fullEndpoint(srv.URL))

	_, err := client.Get(context.Background(), srv.URL+"/li/1")
	if !errors.Is(err, ags.ErrRequest) {
		t.Fatalf("err = %v, want ErrRequest", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("status not surfaced: %v", err)
	}
}

func TestMissingScopeRefused(t *testing.T) {
	srv, _ := agsServer(t, http.StatusOK, "")
	endpoint := launch.AGSEndpoint{
		Scope:     []string{ags.ScopeLineItemReadOnly},
		LineItems: srv.URL + "/lineitems",
	}
	client := ags.NewClient(&staticTokens{bearer: "b"}, endpoint)

	score, err := ags.NewScore("u", 1, 2, ags.ActivityCompleted, ags.GradingFullyGraded)
	if err != nil {
		t.Fatalf("NewScore: %v", err)
	}
	if err := client.SetScore(context.Background(), srv.URL+"/li/1", score); !errors.Is(err, ags.ErrScopeNotGranted) {
		t.Fatalf("err = %v, want ErrScopeNotGranted", err)
	}
	// Read-only still allows reloading line items.
	if _, err := client.Get(context.Background(), srv.URL+"/li/1"); err != nil {
		t.Fatalf("Get with readonly scope: %v", err)
	}
}
