// internal/api/http/lti.go
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/lti-tool/pkg/tool/deeplink"
	"github.com/mind-engage/lti-tool/pkg/tool/launch"
	"github.com/mind-engage/lti-tool/pkg/tool/platformkeys"
	"github.com/mind-engage/lti-tool/pkg/tool/registry"
	"github.com/mind-engage/lti-tool/pkg/tool/resources"
)

/*
LTI endpoints.

  POST /lti/login      third-party login initiation -> 302 to platform
  POST /lti/launch     id_token response -> validate, run pipeline, 303 to content
  POST /lti/deep-link  content selection -> auto-submitting response form

The launch handler parks validated state in a session so the deep-link
handler can find the platform and settings again.
*/

const sessionCookie = "lti_session"

// Deps wires the protocol engine into the handlers.
type Deps struct {
	Initiator *launch.Initiator
	Validator *launch.Validator
	Platforms registry.Store
	Resources *resources.Registry
	Responder *deeplink.Responder

	// Optional mirrors refreshed on every launch.
	Users    launch.UserStore
	Contexts launch.ContextStore

	// DeepLinkPickerURL is where deep-linking launches land so the
	// instructor can pick content.
	DeepLinkPickerURL string

	SessionTTL time.Duration
}

type Handlers struct {
	deps     Deps
	sessions *launchSessions
	pipeline *launch.Pipeline
	deepPipe *launch.Pipeline
}

func NewHandlers(deps Deps) *Handlers {
	stages := []launch.Stage{
		launch.CheckRedirect(deps.Resources),
		launch.ResolveUser(),
		launch.RefreshPlatformClaim(deps.Platforms),
	}
	if deps.Users != nil {
		stages = append(stages, launch.UpsertUser(deps.Users))
	}
	if deps.Contexts != nil {
		stages = append(stages, launch.UpsertContext(deps.Contexts))
	}
	return &Handlers{
		deps:     deps,
		sessions: newLaunchSessions(deps.SessionTTL),
		pipeline: launch.NewPipeline(stages...),
		deepPipe: launch.NewPipeline(append(stages[:len(stages):len(stages)],
			launch.RequireRole(launch.RoleInstructor, launch.RoleAdmin))...),
	}
}

// Mount attaches the LTI routes.
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/login", h.Login)
	r.Post("/launch", h.Launch)
	r.Post("/deep-link", h.DeepLinkResponse)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "bad form")
		return
	}
	redirect, _, err := h.deps.Initiator.Initiate(r.Context(), launch.LoginRequest{
		Issuer:         r.PostFormValue("iss"),
		DeploymentID:   r.PostFormValue("lti_deployment_id"),
		LoginHint:      r.PostFormValue("login_hint"),
		TargetLinkURI:  r.PostFormValue("target_link_uri"),
		ClientIDHint:   r.PostFormValue("client_id"),
		LTIMessageHint: r.PostFormValue("lti_message_hint"),
	})
	if err != nil {
		writeLTIErr(w, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handlers) Launch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "bad form")
		return
	}
	idToken := r.PostFormValue("id_token")
	state := r.PostFormValue("state")
	if idToken == "" || state == "" {
		writeErr(w, http.StatusBadRequest, "missing id_token or state")
		return
	}

	claims, platform, err := h.deps.Validator.Validate(r.Context(), idToken, state)
	if err != nil {
		writeLTIErr(w, err)
		return
	}

	launchState := &launch.State{Claims: claims, Platform: platform}
	pipe := h.pipeline
	if claims.MessageType == launch.MessageTypeDeepLinking {
		pipe = h.deepPipe
	}
	if err := pipe.Run(r.Context(), launchState); err != nil {
		writeLTIErr(w, err)
		return
	}

	token, err := h.sessions.Add(launchState)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "session setup failed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteNoneMode,
	})

	dest := launchState.RedirectURI
	if claims.MessageType == launch.MessageTypeDeepLinking {
		dest = h.deps.DeepLinkPickerURL
	}
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

type deepLinkReq struct {
	Items []struct {
		Kind  string `json:"kind"`
		ID    string `json:"id"`
		Title string `json:"title,omitempty"`
	} `json:"items"`
}

// DeepLinkResponse turns the instructor's selection into the signed
// response form posted back to the platform.
func (h *Handlers) DeepLinkResponse(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, "no launch session")
		return
	}
	state, ok := h.sessions.Get(cookie.Value)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "launch session expired")
		return
	}
	if state.Claims.MessageType != launch.MessageTypeDeepLinking || state.Claims.DeepLink == nil {
		writeErr(w, http.StatusBadRequest, "launch was not a deep-linking request")
		return
	}

	var req deepLinkReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	items := make([]deeplink.ContentItem, 0, len(req.Items))
	for _, sel := range req.Items {
		uri, err := h.deps.Resources.LaunchURL(sel.Kind, sel.ID)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "unknown resource kind "+sel.Kind)
			return
		}
		res, err := h.deps.Resources.Resolve(r.Context(), uri)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "unknown resource "+sel.Kind+"/"+sel.ID)
			return
		}
		title := sel.Title
		if title == "" {
			title = res.Title
		}
		items = append(items, deeplink.ContentItem{
			Type:  deeplink.TypeResourceLink,
			Title: title,
			URL:   uri,
		})
	}

	signed, err := h.deps.Responder.BuildResponse(state.Platform, state.Claims.DeepLink, items)
	if err != nil {
		if errors.Is(err, deeplink.ErrNoContent) {
			writeErr(w, http.StatusBadRequest, "no content selected")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := deeplink.WriteAutoSubmitForm(w, state.Claims.DeepLink.ReturnURL, signed); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

// writeLTIErr maps engine errors onto HTTP statuses without leaking
// validation detail to the remote party.
func writeLTIErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, launch.ErrLoginRequest):
		writeErr(w, http.StatusBadRequest, "invalid login request")
	case errors.Is(err, registry.ErrUnknownPlatform):
		writeErr(w, http.StatusNotFound, "unknown platform")
	case errors.Is(err, launch.ErrLaunchValidation):
		writeErr(w, http.StatusUnauthorized, "launch verification failed")
	case errors.Is(err, launch.ErrRedirectValidation):
		writeErr(w, http.StatusForbidden, "target link not registered")
	case errors.Is(err, launch.ErrNotAuthorized):
		writeErr(w, http.StatusForbidden, "role not authorized")
	case errors.Is(err, platformkeys.ErrKeyRetrieval):
		writeErr(w, http.StatusBadGateway, "platform keyset unavailable")
	default:
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errResp struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}
