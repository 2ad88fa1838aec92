package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/momentum/internal/api/respond"
	"github.com/albapepper/momentum/internal/model"
)

// PostDeepLink routes a notification tap or in-app action.
// @Summary Route deep link
// @Description Routes an action. UI actions wait in requires_context when ui_context_available is false; older open actions are superseded and counted in away_count.
// @Tags deeplinks
// @Accept json
// @Produce json
// @Param action body DeepLinkRequest true "Deep-link action"
// @Success 200 {object} RouteResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /deeplinks [post]
func (h *Handler) PostDeepLink(w http.ResponseWriter, r *http.Request) {
	var req DeepLinkRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErr(w, err)
		return
	}
	payload, err := model.DecodePayload(model.ActionType(req.ActionType), req.Payload)
	if err != nil {
		respond.WriteErr(w, err)
		return
	}

	action := model.DeepLinkAction{
		ID:             req.ActionID,
		UserID:         req.UserID,
		Payload:        payload,
		NotificationID: req.NotificationID,
	}
	res, err := h.Router.Route(r.Context(), action, req.UIContextAvailable)
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, toRoute(res))
}

// Foreground runs the newest deferred action.
// @Summary App foregrounded
// @Description Called when the app regains UI context; executes the newest open action for the user.
// @Tags deeplinks
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} RouteResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /deeplinks/{userID}/foreground [post]
func (h *Handler) Foreground(w http.ResponseWriter, r *http.Request) {
	res, err := h.Router.Foreground(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, toRoute(res))
}

// GetDeepLink returns a stored action with its current state.
// @Summary Get deep-link action
// @Tags deeplinks
// @Produce json
// @Param actionID path string true "Action ID"
// @Success 200 {object} ActionResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /deeplinks/actions/{actionID} [get]
func (h *Handler) GetDeepLink(w http.ResponseWriter, r *http.Request) {
	a, err := h.Router.Get(r.Context(), chi.URLParam(r, "actionID"))
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, toAction(a))
}
