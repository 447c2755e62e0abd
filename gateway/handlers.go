package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"socialcoin/crypto"
	"socialcoin/rewards"
	"socialcoin/storage"
)

// --- views (the private key never leaves the store) ---

type userView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Address    string `json:"address"`
	PictureURL string `json:"picture_url,omitempty"`
}

func toUserView(u *storage.User) userView {
	return userView{
		ID:         u.ID.String(),
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Address:    u.Address,
		PictureURL: u.PictureURL,
	}
}

type actionView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Reward       string `json:"reward"`
	KPI          int64  `json:"kpi"`
	KPITarget    int64  `json:"kpi_target"`
	KPIIndicator string `json:"kpi_indicator"`
	CompanyID    string `json:"company_id"`
	CampaignID   string `json:"campaign_id"`
}

func toActionView(a *storage.Action) actionView {
	return actionView{
		ID:           a.ID.String(),
		Name:         a.Name,
		Description:  a.Description,
		Reward:       a.Reward.String(),
		KPI:          a.KPI,
		KPITarget:    a.KPITarget,
		KPIIndicator: a.KPIIndicator,
		CompanyID:    a.CompanyID.String(),
		CampaignID:   a.CampaignID.String(),
	}
}

type offerView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	CompanyID   string `json:"company_id"`
}

func toOfferView(o *storage.Offer) offerView {
	return offerView{
		ID:          o.ID.String(),
		Name:        o.Name,
		Description: o.Description,
		Price:       o.Price.String(),
		CompanyID:   o.CompanyID.String(),
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	return json.NewDecoder(r.Body).Decode(dst)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// --- registration and sessions ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		Email      string `json:"email"`
		Role       string `json:"role"`
		PictureURL string `json:"picture_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	switch req.Role {
	case "":
		req.Role = storage.RoleCollaborator
	case storage.RoleCollaborator, storage.RolePromoter, storage.RoleAdministrator:
	default:
		writeError(w, http.StatusBadRequest, "invalid role code")
		return
	}
	if _, err := s.store.GetUserByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	// Every participant gets exactly one ledger identity, created atomically
	// with the record.
	keys, err := crypto.GenerateKeypair()
	if err != nil {
		s.log.Error("keypair generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user := &storage.User{
		Name:       strings.TrimSpace(req.Name),
		Email:      req.Email,
		Role:       req.Role,
		Address:    keys.Address,
		PrivateKey: keys.PrivateKey,
		PictureURL: req.PictureURL,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		s.log.Error("token issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":  toUserView(user),
		"token": token,
	})
}

// handleLogin exchanges an upstream-verified email for a session token. The
// identity provider handshake itself happens outside this service.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	user, err := s.store.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown participant")
		return
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		s.log.Error("token issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":  toUserView(user),
		"token": token,
	})
}

// --- users ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	if !identity.isAdministrator() {
		writeError(w, http.StatusForbidden, "administrators only")
		return
	}
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	views := make([]userView, 0, len(users))
	for i := range users {
		views = append(views, toUserView(&users[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	user, err := s.store.GetUser(r.Context(), identity.UserID)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(user))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	balance, err := s.rewards.Balance(r.Context(), identity.UserID)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":     rewards.FromMinorUnits(balance).String(),
		"minor_units": balance,
	})
}

// --- campaigns ---

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	var (
		campaigns []storage.Campaign
		err       error
	)
	if identity.Role == storage.RolePromoter {
		campaigns, err = s.store.ListCampaignsByCompany(r.Context(), identity.UserID)
	} else {
		campaigns, err = s.store.ListCampaigns(r.Context())
	}
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	if identity.isCollaborator() {
		writeError(w, http.StatusForbidden, "collaborators cannot create campaigns")
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "campaign name is required")
		return
	}
	campaign := &storage.Campaign{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CompanyID:   identity.UserID,
	}
	if err := s.store.CreateCampaign(r.Context(), campaign); err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	campaign, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	id, err := pathUUID(r, "campaignID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	campaign, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	if !identity.isAdministrator() && campaign.CompanyID != identity.UserID {
		writeError(w, http.StatusForbidden, "campaign belongs to another promoter")
		return
	}
	if err := s.store.DeleteCampaign(r.Context(), id); err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- actions ---

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	var (
		actions []storage.Action
		err     error
	)
	if campaign := r.URL.Query().Get("campaign_id"); campaign != "" {
		var campaignID uuid.UUID
		campaignID, err = uuid.Parse(campaign)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid campaign id")
			return
		}
		actions, err = s.store.ListActionsByCampaign(r.Context(), campaignID)
	} else {
		actions, err = s.store.ListActions(r.Context())
	}
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	views := make([]actionView, 0, len(actions))
	for i := range actions {
		views = append(views, toActionView(&actions[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

type actionRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Reward       string `json:"reward"`
	KPITarget    int64  `json:"kpi_target"`
	KPIIndicator string `json:"kpi_indicator"`
	CampaignID   string `json:"campaign_id"`
}

func (s *Server) actionParams(req actionRequest) (rewards.ActionParams, error) {
	reward, err := rewards.ParseAmount(req.Reward)
	if err != nil {
		return rewards.ActionParams{}, err
	}
	params := rewards.ActionParams{
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Reward:       reward,
		KPITarget:    req.KPITarget,
		KPIIndicator: req.KPIIndicator,
	}
	if req.CampaignID != "" {
		campaignID, err := uuid.Parse(req.CampaignID)
		if err != nil {
			return rewards.ActionParams{}, err
		}
		params.CampaignID = campaignID
	}
	return params, nil
}

func (s *Server) handleCreateAction(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	if identity.isCollaborator() {
		writeError(w, http.StatusForbidden, "collaborators cannot create actions")
		return
	}
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	params, err := s.actionParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid action parameters")
		return
	}
	action, err := s.rewards.CreateAction(r.Context(), identity.UserID, params)
	if err != nil && !errors.Is(err, rewards.ErrAuditRecord) {
		s.writeWorkflowError(w, err)
		return
	}
	payload := map[string]interface{}{"action": toActionView(action)}
	if errors.Is(err, rewards.ErrAuditRecord) {
		payload["audit"] = "degraded"
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "actionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid action id")
		return
	}
	action, err := s.store.GetAction(r.Context(), id)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActionView(action))
}

// ownsAction enforces the promoter/administrator rules for mutating actions.
func (s *Server) ownsAction(r *http.Request, actionID uuid.UUID) (int, string) {
	identity, _ := identityFrom(r.Context())
	if identity.isCollaborator() {
		return http.StatusForbidden, "collaborators cannot manage actions"
	}
	if identity.isAdministrator() {
		return 0, ""
	}
	action, err := s.store.GetAction(r.Context(), actionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return http.StatusNotFound, "action not found"
		}
		return http.StatusInternalServerError, "internal error"
	}
	if action.CompanyID != identity.UserID {
		return http.StatusForbidden, "action belongs to another promoter"
	}
	return 0, ""
}

func (s *Server) handleEditAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "actionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid action id")
		return
	}
	if status, msg := s.ownsAction(r, id); status != 0 {
		writeError(w, status, msg)
		return
	}
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	params, err := s.actionParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid action parameters")
		return
	}
	action, err := s.rewards.EditAction(r.Context(), id, params)
	if err != nil && !errors.Is(err, rewards.ErrAuditRecord) {
		s.writeWorkflowError(w, err)
		return
	}
	payload := map[string]interface{}{"action": toActionView(action)}
	if errors.Is(err, rewards.ErrAuditRecord) {
		payload["audit"] = "degraded"
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "actionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid action id")
		return
	}
	if status, msg := s.ownsAction(r, id); status != 0 {
		writeError(w, status, msg)
		return
	}
	if err := s.rewards.DeleteAction(r.Context(), id); err != nil && !errors.Is(err, rewards.ErrAuditRecord) {
		s.writeWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegisterAction settles the reward for completed units. The request is
// multipart: the kpi count, an optional external proof URL, and an optional
// photo proof that is pushed to the content-addressed store.
func (s *Server) handleRegisterAction(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	id, err := pathUUID(r, "actionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid action id")
		return
	}
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	kpi, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("kpi")), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "kpi must be an integer")
		return
	}
	proofURL := strings.TrimSpace(r.FormValue("verification_url"))

	proofHash := ""
	if file, header, err := r.FormFile("image_proof"); err == nil {
		data, readErr := io.ReadAll(file)
		_ = file.Close()
		if readErr != nil {
			writeError(w, http.StatusBadRequest, "unreadable image proof")
			return
		}
		proofHash, err = s.proofs.Upload(r.Context(), header.Filename, data)
		if err != nil {
			s.log.Error("proof upload failed", "error", err)
			writeError(w, http.StatusBadGateway, "proof store unavailable")
			return
		}
	}

	result, err := s.rewards.RewardAction(r.Context(), id, identity.UserID, kpi, proofHash, proofURL)
	if err != nil && !errors.Is(err, rewards.ErrAuditRecord) {
		s.writeWorkflowError(w, err)
		return
	}
	payload := map[string]interface{}{
		"old_balance": result.OldBalance,
		"new_balance": result.NewBalance,
		"reward":      result.Reward,
		"units":       result.Units,
		"tx_id":       result.TxID,
	}
	if errors.Is(err, rewards.ErrAuditRecord) {
		payload["audit"] = "degraded"
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleActionKPIs(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "actionID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid action id")
		return
	}
	snaps, err := s.store.ListKPISnapshots(r.Context(), id)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// --- offers ---

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	var (
		offers []storage.Offer
		err    error
	)
	if identity.Role == storage.RolePromoter {
		offers, err = s.store.ListOffersByCompany(r.Context(), identity.UserID)
	} else {
		offers, err = s.store.ListOffers(r.Context())
	}
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	views := make([]offerView, 0, len(offers))
	for i := range offers {
		views = append(views, toOfferView(&offers[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	if identity.isCollaborator() {
		writeError(w, http.StatusForbidden, "collaborators cannot create offers")
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Price       string `json:"price"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "offer name is required")
		return
	}
	price, err := rewards.ParseAmount(req.Price)
	if err != nil || price.IsNegative() {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	offer := &storage.Offer{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Price:       price,
		CompanyID:   identity.UserID,
	}
	if err := s.store.CreateOffer(r.Context(), offer); err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferView(offer))
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "offerID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}
	offer, err := s.store.GetOffer(r.Context(), id)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferView(offer))
}

func (s *Server) handleDeleteOffer(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	id, err := pathUUID(r, "offerID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}
	offer, err := s.store.GetOffer(r.Context(), id)
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	if !identity.isAdministrator() && offer.CompanyID != identity.UserID {
		writeError(w, http.StatusForbidden, "offer belongs to another promoter")
		return
	}
	if err := s.store.DeleteOffer(r.Context(), id); err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRedeemOffer(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	id, err := pathUUID(r, "offerID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}
	err = s.rewards.RedeemOffer(r.Context(), id, identity.UserID)
	if err != nil && !errors.Is(err, rewards.ErrAuditRecord) {
		s.writeWorkflowError(w, err)
		return
	}
	payload := map[string]interface{}{"success": true}
	if errors.Is(err, rewards.ErrAuditRecord) {
		payload["audit"] = "degraded"
	}
	writeJSON(w, http.StatusOK, payload)
}

// --- transfers and history ---

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())
	var req struct {
		DestinationEmail string `json:"destination_email"`
		Amount           string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	err := s.rewards.TransferFunds(r.Context(), identity.UserID, strings.ToLower(strings.TrimSpace(req.DestinationEmail)), req.Amount)
	if err != nil && !errors.Is(err, rewards.ErrAuditRecord) {
		s.writeWorkflowError(w, err)
		return
	}
	payload := map[string]interface{}{"success": true}
	if errors.Is(err, rewards.ErrAuditRecord) {
		payload["audit"] = "degraded"
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	var (
		txs []storage.Transaction
		err error
	)
	if identity.isAdministrator() {
		txs, err = s.store.ListTransactions(r.Context())
	} else {
		var user *storage.User
		user, err = s.store.GetUser(r.Context(), identity.UserID)
		if err == nil {
			txs, err = s.store.ListTransactionsByAddress(r.Context(), user.Address)
		}
	}
	if err != nil {
		s.writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}
