package web

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"hyperyapper/internal/auth"
	"hyperyapper/internal/config"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/orchestrator"
	"hyperyapper/internal/platforms"
	"hyperyapper/internal/poster"
	"hyperyapper/internal/replies"
	"hyperyapper/internal/store"
)

const cookieSessionName = "hyperyapper"

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	cfg           *config.Config
	sessions      *store.SessionStore
	emojis        *store.EmojiHistory
	notifications *store.Notifications
	replyCache    *store.ReplyCache
	orch          *orchestrator.Orchestrator
	mastodonAuth  *auth.MastodonAuth
	threadsAuth   *auth.ThreadsAuth
	blueskyAuth   *auth.BlueskyAuth
	replies       *replies.Fetcher
	posters       map[platforms.Platform]poster.Poster
	cookies       *sessions.CookieStore
}

// HandlerDeps bundles the collaborators a Handler needs.
type HandlerDeps struct {
	Sessions      *store.SessionStore
	Emojis        *store.EmojiHistory
	Notifications *store.Notifications
	ReplyCache    *store.ReplyCache
	Orchestrator  *orchestrator.Orchestrator
	MastodonAuth  *auth.MastodonAuth
	ThreadsAuth   *auth.ThreadsAuth
	BlueskyAuth   *auth.BlueskyAuth
	Replies       *replies.Fetcher
	Posters       []poster.Poster
}

// NewHandler creates a Handler. The cookie store only carries transient
// OAuth state across the login redirect, never platform tokens.
func NewHandler(cfg *config.Config, deps HandlerDeps) *Handler {
	secret := []byte(cfg.CookieSecret)
	if len(secret) == 0 {
		logging.Warn("COOKIE_SECRET not set, using an ephemeral key; logins in flight will not survive a restart")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			logging.Fatal("Failed to generate cookie key: %v", err)
		}
	}
	cookies := sessions.NewCookieStore(secret)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	posterMap := make(map[platforms.Platform]poster.Poster, len(deps.Posters))
	for _, p := range deps.Posters {
		posterMap[p.Platform()] = p
	}

	return &Handler{
		cfg:           cfg,
		sessions:      deps.Sessions,
		emojis:        deps.Emojis,
		notifications: deps.Notifications,
		replyCache:    deps.ReplyCache,
		orch:          deps.Orchestrator,
		mastodonAuth:  deps.MastodonAuth,
		threadsAuth:   deps.ThreadsAuth,
		blueskyAuth:   deps.BlueskyAuth,
		replies:       deps.Replies,
		posters:       posterMap,
		cookies:       cookies,
	}
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.handleSessions)
	mux.HandleFunc("POST /api/post", h.handlePost)
	mux.HandleFunc("GET /api/limits", h.handleLimits)
	mux.HandleFunc("GET /api/replies", h.handleReplies)
	mux.HandleFunc("POST /api/replies/read", h.handleRepliesMarkRead)
	mux.HandleFunc("GET /api/verify", h.handleVerify)
	mux.HandleFunc("GET /api/emojis", h.handleEmojisGet)
	mux.HandleFunc("POST /api/emojis", h.handleEmojisAdd)
	mux.HandleFunc("DELETE /api/emojis", h.handleEmojisClear)
	mux.HandleFunc("GET /api/notifications", h.handleNotificationsList)
	mux.HandleFunc("DELETE /api/notifications/{id}", h.handleNotificationDelete)

	mux.HandleFunc("POST /auth/mastodon/login", h.handleMastodonLogin)
	mux.HandleFunc("GET /auth/mastodon/callback", h.handleMastodonCallback)
	mux.HandleFunc("POST /auth/threads/login", h.handleThreadsLogin)
	mux.HandleFunc("GET /auth/threads/callback", h.handleThreadsCallback)
	mux.HandleFunc("POST /auth/bluesky/login", h.handleBlueskyLogin)
	mux.HandleFunc("POST /auth/{platform}/logout", h.handleLogout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sessionView is the redacted public shape of one platform session. Tokens
// never leave the server.
type sessionView struct {
	Platform    platforms.Platform `json:"platform"`
	Username    string             `json:"username"`
	DisplayName string             `json:"displayName,omitempty"`
	Avatar      string             `json:"avatar,omitempty"`
	Instance    string             `json:"instance,omitempty"`
	Handle      string             `json:"handle,omitempty"`
}

// handleSessions reports which platforms are connected and their profiles.
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	set, err := h.sessions.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load sessions")
		return
	}
	if set.Threads != nil {
		h.threadsAuth.EnsureFresh(r.Context())
	}

	views := map[platforms.Platform]sessionView{}
	var connected []platforms.Platform
	if set.Mastodon != nil {
		views[platforms.Mastodon] = sessionView{
			Platform:    platforms.Mastodon,
			Username:    set.Mastodon.Username,
			DisplayName: set.Mastodon.DisplayName,
			Avatar:      set.Mastodon.Avatar,
			Instance:    set.Mastodon.Instance,
		}
	}
	if set.Threads != nil {
		views[platforms.Threads] = sessionView{
			Platform:    platforms.Threads,
			Username:    set.Threads.UserInfo.Username,
			DisplayName: set.Threads.UserInfo.Name,
			Avatar:      set.Threads.UserInfo.ProfilePictureURL,
		}
	}
	if set.Bluesky != nil && set.Bluesky.Active {
		views[platforms.Bluesky] = sessionView{
			Platform: platforms.Bluesky,
			Username: set.Bluesky.Handle,
			Handle:   set.Bluesky.Handle,
		}
	}
	for _, p := range platforms.All {
		if _, ok := views[p]; ok {
			connected = append(connected, p)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected": connected,
		"sessions":  views,
	})
}

type imagePayload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        string `json:"data"` // base64
}

type postRequest struct {
	Text      string         `json:"text"`
	Platforms []string       `json:"platforms"`
	Images    []imagePayload `json:"images"`
}

// handlePost publishes a composition and streams per-platform progress as
// NDJSON: one {"type":"progress"} line per status change, then a final
// {"type":"outcome"} line with the aggregate.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Platforms) == 0 {
		writeError(w, http.StatusBadRequest, "no platforms selected")
		return
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Images) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to post")
		return
	}

	selected := make([]platforms.Platform, 0, len(req.Platforms))
	for _, raw := range req.Platforms {
		p, ok := platforms.Parse(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown platform %q", raw))
			return
		}
		selected = append(selected, p)
	}

	if limit := platforms.EffectiveCharLimit(selected); utf8.RuneCountInString(req.Text) > limit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text exceeds the %d character limit", limit))
		return
	}
	if cap := platforms.EffectiveImageCap(selected); len(req.Images) > cap {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d images for this selection", cap))
		return
	}

	images := make([]models.ImageUpload, 0, len(req.Images))
	for _, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("image %q is not valid base64", img.Filename))
			return
		}
		images = append(images, models.ImageUpload{
			Data:        data,
			Filename:    img.Filename,
			ContentType: img.ContentType,
		})
	}

	for _, p := range selected {
		if p == platforms.Threads {
			h.threadsAuth.EnsureFresh(r.Context())
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	stream := func(v any) {
		if err := enc.Encode(v); err != nil {
			logging.Warn("Progress stream write failed: %v", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	content := models.PostContent{Text: req.Text, Platforms: selected, Images: images}
	outcome := h.orch.Publish(r.Context(), content, func(result models.PostAttemptResult) {
		stream(map[string]any{"type": "progress", "result": result})
	})
	stream(map[string]any{"type": "outcome", "outcome": outcome, "message": outcomeMessage(outcome)})

	h.recordNotification(req.Text, outcome)
}

// outcomeMessage picks the summary line shown after a publish.
func outcomeMessage(outcome models.PostOutcome) string {
	switch outcome.Classify() {
	case models.AllSucceeded:
		return fmt.Sprintf("Posted to all %d platforms", len(outcome.Results))
	case models.Partial:
		return fmt.Sprintf("Posted to %d of %d platforms", outcome.SucceededCount(), len(outcome.Results))
	default:
		return "Posting failed on every platform"
	}
}

// recordNotification stores a posted-message record for every successful
// attempt so reply polling knows what to watch.
func (h *Handler) recordNotification(text string, outcome models.PostOutcome) {
	var refs []models.PostRef
	for _, result := range outcome.Results {
		if !result.Success {
			continue
		}
		refs = append(refs, models.PostRef{
			Platform: result.Platform,
			PostID:   result.PostID,
			PostURL:  result.PostURL,
		})
	}
	if len(refs) == 0 {
		return
	}
	message := text
	if runes := []rune(message); len(runes) > 80 {
		message = string(runes[:80]) + "…"
	}
	h.notifications.Add(models.Notification{
		ID:        uuid.NewString(),
		Message:   message,
		PostRefs:  refs,
		CreatedAt: time.Now(),
	})
}

// handleLimits reports the effective character limit and image cap for a
// comma-separated platform selection.
func (h *Handler) handleLimits(w http.ResponseWriter, r *http.Request) {
	var selected []platforms.Platform
	if raw := r.URL.Query().Get("platforms"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			p, ok := platforms.Parse(strings.TrimSpace(part))
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown platform %q", part))
				return
			}
			selected = append(selected, p)
		}
	}
	perPlatform := map[platforms.Platform]int{}
	for _, p := range selected {
		perPlatform[p] = p.CharLimit()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"charLimit":   platforms.EffectiveCharLimit(selected),
		"imageCap":    platforms.EffectiveImageCap(selected),
		"perPlatform": perPlatform,
	})
}

// handleReplies returns the cached-or-fetched reply count for one post.
func (h *Handler) handleReplies(w http.ResponseWriter, r *http.Request) {
	p, ok := platforms.Parse(r.URL.Query().Get("platform"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	postID := r.URL.Query().Get("postId")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "postId is required")
		return
	}
	summary, err := h.replies.Count(r.Context(), p, postID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleRepliesMarkRead clears the unread flag on one post's reply count.
func (h *Handler) handleRepliesMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platform string `json:"platform"`
		PostID   string `json:"postId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, ok := platforms.Parse(req.Platform)
	if !ok || req.PostID == "" {
		writeError(w, http.StatusBadRequest, "platform and postId are required")
		return
	}
	h.replies.MarkRead(p, req.PostID)
	w.WriteHeader(http.StatusNoContent)
}

// handleVerify probes one platform connection.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	p, ok := platforms.Parse(r.URL.Query().Get("platform"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	pst, ok := h.posters[p]
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
		return
	}
	// Cheap local check before the network probe.
	if valid, err := h.sessions.IsValid(p); err != nil || !valid {
		writeJSON(w, http.StatusOK, map[string]bool{"connected": false})
		return
	}
	set, err := h.sessions.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": pst.VerifyConnection(r.Context(), set)})
}

func (h *Handler) handleEmojisGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"emojis": h.emojis.Recent()})
}

func (h *Handler) handleEmojisAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}
	h.emojis.Add(req.Emoji)
	writeJSON(w, http.StatusOK, map[string]any{"emojis": h.emojis.Recent()})
}

func (h *Handler) handleEmojisClear(w http.ResponseWriter, r *http.Request) {
	h.emojis.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	list := h.notifications.List()
	if list == nil {
		list = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

// handleNotificationDelete removes a notification and the reply-cache
// entries of the posts it referenced.
func (h *Handler) handleNotificationDelete(w http.ResponseWriter, r *http.Request) {
	refs := h.notifications.Delete(r.PathValue("id"))
	if len(refs) > 0 {
		h.replyCache.ClearPosts(refs)
	}
	w.WriteHeader(http.StatusNoContent)
}

// oauthState stashes transient values in the cookie session across the
// OAuth redirect and reads them back exactly once.
func (h *Handler) stashOAuthState(w http.ResponseWriter, r *http.Request, values map[string]string) error {
	session, _ := h.cookies.Get(r, cookieSessionName)
	for k, v := range values {
		session.Values[k] = v
	}
	return session.Save(r, w)
}

func (h *Handler) popOAuthState(w http.ResponseWriter, r *http.Request, keys ...string) map[string]string {
	session, _ := h.cookies.Get(r, cookieSessionName)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := session.Values[k].(string); ok {
			out[k] = v
		}
		delete(session.Values, k)
	}
	if err := session.Save(r, w); err != nil {
		logging.Warn("Failed to clear OAuth state cookie: %v", err)
	}
	return out
}

// handleMastodonLogin registers the app on the submitted instance and
// redirects the browser to its authorization page. The per-instance client
// credentials ride along in the cookie session until the callback.
func (h *Handler) handleMastodonLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	instance := strings.TrimSpace(r.FormValue("instance"))
	if instance == "" {
		writeError(w, http.StatusBadRequest, "instance is required")
		return
	}

	authURL, app, err := h.mastodonAuth.StartLogin(r.Context(), instance)
	if err != nil {
		logging.Error("Mastodon login start failed: %v", err)
		writeError(w, http.StatusBadGateway, "could not register with that instance")
		return
	}
	err = h.stashOAuthState(w, r, map[string]string{
		"masto_instance":      app.Instance,
		"masto_client_id":     app.ClientID,
		"masto_client_secret": app.ClientSecret,
		"masto_state":         app.State,
	})
	if err != nil {
		logging.Error("Failed to persist OAuth state: %v", err)
		writeError(w, http.StatusInternalServerError, "could not start login")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) handleMastodonCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	stash := h.popOAuthState(w, r, "masto_instance", "masto_client_id", "masto_client_secret", "masto_state")
	if code == "" || state == "" || stash["masto_state"] == "" || state != stash["masto_state"] {
		h.redirectWithResult(w, r, platforms.Mastodon, "error")
		return
	}
	app := &auth.MastodonApp{
		Instance:     stash["masto_instance"],
		ClientID:     stash["masto_client_id"],
		ClientSecret: stash["masto_client_secret"],
		State:        stash["masto_state"],
	}
	if _, err := h.mastodonAuth.CompleteLogin(r.Context(), app, code); err != nil {
		logging.Error("Mastodon login completion failed: %v", err)
		h.redirectWithResult(w, r, platforms.Mastodon, "error")
		return
	}
	h.redirectWithResult(w, r, platforms.Mastodon, "connected")
}

func (h *Handler) handleThreadsLogin(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.threadsAuth.StartLogin()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err := h.stashOAuthState(w, r, map[string]string{"threads_state": state}); err != nil {
		logging.Error("Failed to persist OAuth state: %v", err)
		writeError(w, http.StatusInternalServerError, "could not start login")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) handleThreadsCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	stash := h.popOAuthState(w, r, "threads_state")
	if code == "" || state == "" || stash["threads_state"] == "" || state != stash["threads_state"] {
		h.redirectWithResult(w, r, platforms.Threads, "error")
		return
	}
	if _, err := h.threadsAuth.CompleteLogin(r.Context(), code); err != nil {
		logging.Error("Threads login completion failed: %v", err)
		h.redirectWithResult(w, r, platforms.Threads, "error")
		return
	}
	h.redirectWithResult(w, r, platforms.Threads, "connected")
}

func (h *Handler) handleBlueskyLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	identifier := strings.TrimSpace(r.FormValue("identifier"))
	appPassword := r.FormValue("appPassword")
	if identifier == "" || appPassword == "" {
		writeError(w, http.StatusBadRequest, "identifier and app password are required")
		return
	}
	session, err := h.blueskyAuth.Login(r.Context(), identifier, appPassword)
	if err != nil {
		logging.Error("Bluesky login failed: %v", err)
		writeError(w, http.StatusUnauthorized, "login failed, check the handle and app password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": true,
		"handle":    session.Handle,
		"did":       session.DID,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := platforms.Parse(r.PathValue("platform"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	var err error
	switch p {
	case platforms.Mastodon:
		err = h.mastodonAuth.Logout(r.Context())
	case platforms.Threads:
		err = h.threadsAuth.Logout()
	case platforms.Bluesky:
		err = h.blueskyAuth.Logout(r.Context())
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("logout is not supported for %s", p))
		return
	}
	if err != nil {
		logging.Error("Logout from %s failed: %v", p, err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	h.replyCache.ClearPlatform(p)
	w.WriteHeader(http.StatusNoContent)
}

// redirectWithResult sends the browser back to the composer with the auth
// outcome in the query string.
func (h *Handler) redirectWithResult(w http.ResponseWriter, r *http.Request, p platforms.Platform, result string) {
	http.Redirect(w, r, fmt.Sprintf("/?auth=%s&result=%s", p, result), http.StatusSeeOther)
}
