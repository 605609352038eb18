// Package httpapi exposes the hive over JSON HTTP: the game-server sync
// surface under /v1 and the loopback-only admin read model under /admin/v1.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"hivesync.gg/internal/hive"
	"hivesync.gg/internal/hive/state"
	"hivesync.gg/internal/hive/tickets"
	"hivesync.gg/internal/persistence/store"
	"hivesync.gg/internal/protocol"
)

const maxBodyBytes = 1 << 20

type Server struct {
	svc       *hive.Service
	store     *store.Store
	validator *protocol.Validator // nil disables schema checks
	log       *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(svc *hive.Service, st *store.Store, validator *protocol.Validator, logger *log.Logger) *Server {
	return &Server{
		svc:       svc,
		store:     st,
		validator: validator,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Register mounts the game-server sync surface.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/inventory/apply", s.handleApply)
	mux.HandleFunc("/v1/inventory/set", s.handleSet)
	mux.HandleFunc("/v1/characters/claim", s.handleClaim)
	mux.HandleFunc("/v1/characters/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/v1/characters/", s.handleGetCharacter)
	mux.HandleFunc("/v1/tickets/issue", s.handleIssue)
	mux.HandleFunc("/v1/tickets/redeem", s.handleRedeem)
}

// RegisterAdmin mounts the loopback-only admin read model.
func (s *Server) RegisterAdmin(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/overview", s.adminOnly(s.handleOverview))
	mux.HandleFunc("/admin/v1/events", s.adminOnly(s.handleEvents))
	mux.HandleFunc("/admin/v1/events/ws", s.adminOnly(s.handleEventsWS))
	mux.HandleFunc("/admin/v1/bootstrap", s.adminOnly(s.handleBootstrap))
}

func (s *Server) handleApply(rw http.ResponseWriter, r *http.Request) {
	var req protocol.ApplyOpsRequest
	if !s.decode(rw, r, "inventory_apply", &req) {
		return
	}
	ops, err := toOps(req.Ops)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error(), nil)
		return
	}
	res, err := s.svc.ApplyOps(r.Context(), hive.ApplyRequest{
		CharacterID:    req.CharacterID,
		ServerID:       req.ServerID,
		Ops:            ops,
		BaseChecksum:   req.BaseChecksum,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, mutationResponse(res))
}

func (s *Server) handleSet(rw http.ResponseWriter, r *http.Request) {
	var req protocol.SetInventoryRequest
	if !s.decode(rw, r, "inventory_set", &req) {
		return
	}
	res, err := s.svc.SetInventory(r.Context(), hive.SetRequest{
		CharacterID:    req.CharacterID,
		ServerID:       req.ServerID,
		Slots:          req.Slots,
		ClientChecksum: req.ClientChecksum,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, mutationResponse(res))
}

func (s *Server) handleClaim(rw http.ResponseWriter, r *http.Request) {
	var req protocol.ClaimRequest
	if !s.decode(rw, r, "character_claim", &req) {
		return
	}
	res, err := s.svc.Claim(r.Context(), hive.ClaimRequest{
		PlatformUID: req.PlatformUID,
		ClusterID:   req.ClusterID,
		ServerID:    req.ServerID,
		Position:    req.Position,
		Stats:       req.Stats,
	})
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.ClaimResponse{
		CharacterID: res.CharacterID,
		PlayerID:    res.PlayerID,
		Checksum:    res.Checksum,
		Created:     res.Created,
	})
}

func (s *Server) handleHeartbeat(rw http.ResponseWriter, r *http.Request) {
	var req protocol.HeartbeatRequest
	if !s.decode(rw, r, "character_heartbeat", &req) {
		return
	}
	seen, err := s.svc.Heartbeat(r.Context(), hive.HeartbeatRequest{
		CharacterID: req.CharacterID,
		ServerID:    req.ServerID,
		Position:    req.Position,
		Stats:       req.Stats,
	})
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.HeartbeatResponse{CharacterID: req.CharacterID, LastSeenAt: seen})
}

func (s *Server) handleGetCharacter(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/characters/")
	if id == "" || strings.Contains(id, "/") {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "no such character", nil)
		return
	}
	c, err := s.svc.GetCharacter(r.Context(), id)
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, characterView(c))
}

func (s *Server) handleIssue(rw http.ResponseWriter, r *http.Request) {
	var req protocol.IssueTicketRequest
	if !s.decode(rw, r, "ticket_issue", &req) {
		return
	}
	t, err := s.svc.IssueTicket(r.Context(), hive.IssueRequest{
		CharacterID:    req.CharacterID,
		SourceServerID: req.SourceServerID,
		TargetServerID: req.TargetServerID,
	})
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.IssueTicketResponse{
		TicketID:  t.ID,
		Status:    string(t.Status),
		ExpiresAt: t.ExpiresAt,
	})
}

func (s *Server) handleRedeem(rw http.ResponseWriter, r *http.Request) {
	var req protocol.RedeemTicketRequest
	if !s.decode(rw, r, "ticket_redeem", &req) {
		return
	}
	res, err := s.svc.RedeemTicket(r.Context(), hive.RedeemRequest{
		TicketID: req.TicketID,
		ServerID: req.ServerID,
	})
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.RedeemTicketResponse{
		Status:      string(tickets.StatusRedeemed),
		CharacterID: res.CharacterID,
	})
}

func (s *Server) handleOverview(rw http.ResponseWriter, r *http.Request) {
	o, err := s.store.Overview(r.Context())
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, o)
}

func (s *Server) handleEvents(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{
		Type:     q.Get("type"),
		ServerID: q.Get("server_id"),
		ObjectID: q.Get("object_id"),
	}
	if lim := q.Get("limit"); lim != "" {
		if n, err := strconv.Atoi(lim); err == nil {
			f.Limit = n
		}
	}
	evs, err := s.store.RecentEvents(r.Context(), f)
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) handleBootstrap(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res, err := s.svc.Bootstrap(r.Context())
	if err != nil {
		s.writeServiceError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.BootstrapResponse{
		TenantID:  res.TenantID,
		ClusterID: res.ClusterID,
		ServerIDs: res.ServerIDs,
		Created:   res.Created,
	})
}

// decode reads, schema-validates and unmarshals a POST body.
func (s *Server) decode(rw http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "read body", nil)
		return false
	}
	if err := s.validator.ValidateBody(schema, body); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error(), nil)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "malformed JSON body", nil)
		return false
	}
	return true
}

func (s *Server) adminOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (s *Server) writeServiceError(rw http.ResponseWriter, err error) {
	var oe *hive.OwnershipError
	var ce *hive.CooldownError
	var te *hive.TicketError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "not found", nil)
	case errors.As(err, &oe):
		writeError(rw, http.StatusConflict, protocol.ErrOwnershipConflict, oe.Error(), map[string]any{
			"owned_by_server": oe.OwnedBy,
			"requesting":      oe.Requesting,
		})
	case errors.As(err, &ce):
		writeError(rw, http.StatusConflict, protocol.ErrCooldown, ce.Error(), map[string]any{
			"until": ce.Until,
		})
	case errors.As(err, &te):
		status, code := ticketErrStatus(te.Verdict)
		writeError(rw, status, code, te.Error(), nil)
	case errors.Is(err, state.ErrMalformedState):
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error(), nil)
	case errors.Is(err, hive.ErrStorage):
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrStorage, "storage unavailable", nil)
	default:
		s.log.Printf("httpapi: internal error: %v", err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "internal error", nil)
	}
}

func ticketErrStatus(v tickets.RedeemVerdict) (int, string) {
	switch v {
	case tickets.TicketNotFound:
		return http.StatusNotFound, protocol.ErrTicketNotFound
	case tickets.TicketExpired:
		return http.StatusGone, protocol.ErrTicketExpired
	case tickets.TicketAlreadyRedeemed:
		return http.StatusConflict, protocol.ErrTicketRedeemed
	case tickets.WrongClaimant:
		return http.StatusForbidden, protocol.ErrWrongClaimant
	default:
		return http.StatusInternalServerError, protocol.ErrInternal
	}
}

func mutationResponse(res *hive.MutationResult) protocol.MutationResponse {
	out := protocol.MutationResponse{
		CharacterID: res.CharacterID,
		Checksum:    res.Checksum,
		Conflict:    res.Conflict,
		Duplicate:   res.Duplicate,
	}
	if res.Details != nil {
		out.ConflictDetails = &protocol.ConflictDetails{
			Reason:           res.Details.Reason,
			ExpectedChecksum: res.Details.ExpectedChecksum,
			CurrentChecksum:  res.Details.CurrentChecksum,
		}
	}
	for _, d := range res.Skipped {
		out.Skipped = append(out.Skipped, protocol.SkippedOp{
			Index:   d.Index,
			Op:      d.Op,
			Path:    d.Path,
			Code:    d.Code,
			Message: d.Message,
		})
	}
	return out
}

func characterView(c *store.Character) protocol.CharacterView {
	v := protocol.CharacterView{
		ID:            c.ID,
		PlayerID:      c.PlayerID,
		ClusterID:     c.ClusterID,
		OwnedByServer: c.OwnedByServer,
		LifeState:     c.LifeState,
		Checksum:      c.Checksum,
	}
	if !c.LastSeenAt.IsZero() {
		t := c.LastSeenAt
		v.LastSeenAt = &t
	}
	v.Position = decodeObj(c.Position)
	v.Stats = decodeObj(c.Stats)
	v.Inventory = decodeObj(c.Inventory)
	return v
}

func decodeObj(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func toOps(wire []protocol.WireOp) ([]state.Op, error) {
	ops := make([]state.Op, 0, len(wire))
	for _, w := range wire {
		// An omitted item decodes as the null scalar, same as the zero Op.
		item, err := state.FromAny(w.Item)
		if err != nil {
			return nil, err
		}
		ops = append(ops, state.Op{Op: w.Op, Path: w.Path, Item: item})
	}
	return ops, nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string, details map[string]any) {
	writeJSON(rw, status, protocol.ErrorEnvelope{Error: protocol.ErrorBody{
		Code:    code,
		Message: msg,
		Details: details,
	}})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
