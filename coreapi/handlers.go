package coreapi

import (
	"net/http"
	"strings"
	"time"

	"phasetrack/backend"
	"phasetrack/production"
	"phasetrack/session"
	"phasetrack/store"
)

// actingFor resolves the username a request acts for. An empty name means
// the logged-in operator; naming anyone else is forbidden.
func actingFor(w http.ResponseWriter, r *http.Request, named string) (string, bool) {
	user := currentUser(r)
	if named != "" && named != user {
		writeError(w, http.StatusForbidden, "cannot act for another operator")
		return "", false
	}
	return user, true
}

func (s *Server) apiLiveStatus(w http.ResponseWriter, r *http.Request) {
	ls, err := s.live.Status(s.now().UTC())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, ls)
}

func (s *Server) apiDashboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.live.Dashboard(r.Context(), s.now().UTC())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]any{"entries": entries, "server_time": s.now().UTC()})
}

func (s *Server) apiActivePhase(w http.ResponseWriter, r *http.Request) {
	l, err := s.db.OpenPhaseLog(currentUser(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, session.ActivePhase{Active: l})
}

func (s *Server) apiStartLivePhase(w http.ResponseWriter, r *http.Request) {
	var req backend.LivePhaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, ok := actingFor(w, r, req.Username)
	if !ok {
		return
	}
	switch req.Kind {
	case session.KindSingle:
		if req.SheetID == 0 || req.PhaseID == "" {
			writeError(w, http.StatusBadRequest, "sheet_id and phase_id are required")
			return
		}
		if req.Stage == "" {
			req.Stage = production.StageProduction
		}
	case session.KindMulti:
	default:
		writeError(w, http.StatusBadRequest, "kind must be single or multi")
		return
	}
	row := &store.LiveSessionRow{
		Username:  user,
		Kind:      req.Kind,
		SheetID:   req.SheetID,
		QRCode:    req.QRCode,
		PhaseID:   req.PhaseID,
		Position:  req.Position,
		Stage:     req.Stage,
		StartTime: s.now().UTC(),
	}
	if err := s.live.StartLive(row); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]time.Time{"start_time": row.StartTime})
}

func (s *Server) apiStopLivePhase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, ok := actingFor(w, r, req.Username)
	if !ok {
		return
	}
	stopped, err := s.live.StopLive(user)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"stopped": stopped != nil})
}

func (s *Server) apiStartPhaseLog(w http.ResponseWriter, r *http.Request) {
	var req backend.StartPhaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, ok := actingFor(w, r, req.Operator)
	if !ok {
		return
	}
	sheet, err := s.db.GetSheet(req.SheetID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, ok := sheet.Phase(req.PhaseID, req.Position); !ok {
		writeError(w, http.StatusNotFound, "phase "+req.PhaseID+"/"+req.Position+" not on sheet "+sheet.QRCode)
		return
	}
	start := req.StartTime
	if start.IsZero() {
		start = s.now()
	}
	l, err := s.db.StartPhaseLog(req.SheetID, req.PhaseID, req.Position, user, req.Stage, start.UTC())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, l)
}

func (s *Server) apiFinishPhaseLog(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req backend.FinishPhaseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.QuantityDone < 0 || req.DurationSeconds < 0 {
		writeError(w, http.StatusBadRequest, "quantity and duration must not be negative")
		return
	}
	l, err := s.db.GetPhaseLog(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, ok := actingFor(w, r, l.Operator); !ok {
		return
	}
	end := req.EndTime
	if end.IsZero() {
		end = s.now()
	}
	end = end.UTC()
	if err := s.db.FinishPhaseLog(id, end, req.QuantityDone, req.DurationSeconds); err != nil {
		writeStoreError(w, err)
		return
	}
	l.EndTime = &end
	l.QuantityDone = req.QuantityDone
	if s.emitter != nil {
		s.emitter.EmitPhaseFinished(*l, req.DurationSeconds)
	}
	writeJSON(w, l)
}

func (s *Server) apiStartDeadTime(w http.ResponseWriter, r *http.Request) {
	var req backend.DeadTimeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, ok := actingFor(w, r, req.Username)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	d := &store.DeadTime{
		Username:    user,
		Code:        req.Code,
		Description: req.Description,
		Linkage:     req.Linkage,
		StartTime:   s.now().UTC(),
	}
	if err := s.live.StartDeadTime(d); err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]int64{"id": d.ID})
}

func (s *Server) apiFinishDeadTime(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	d, err := s.db.GetDeadTime(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, ok := actingFor(w, r, d.Username); !ok {
		return
	}
	d, err = s.live.FinishDeadTime(id, s.now().UTC())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, d)
}

func (s *Server) apiSheetByQR(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	sheet, err := s.db.GetSheetByQR(code)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, sheet)
}

func (s *Server) apiListSheets(w http.ResponseWriter, r *http.Request) {
	sheets, err := s.db.ListSheets()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if sheets == nil {
		sheets = []store.SheetSummary{}
	}
	writeJSON(w, sheets)
}

func (s *Server) apiCreateSheet(w http.ResponseWriter, r *http.Request) {
	var sheet production.ProductionSheet
	if err := decodeBody(r, &sheet); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sheet.QRCode == "" || sheet.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "qr_code is required and quantity must not be negative")
		return
	}
	sheet.Logs = nil
	if err := s.db.CreateSheet(&sheet); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, sheet)
}

func (s *Server) apiGetMultiSession(w http.ResponseWriter, r *http.Request) {
	l, err := s.db.GetJobList(currentUser(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]*store.StoredJobList{"session": l})
}

func (s *Server) apiSaveMultiSession(w http.ResponseWriter, r *http.Request) {
	var req backend.MultiSession
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, ok := actingFor(w, r, req.Username)
	if !ok {
		return
	}
	l := &store.StoredJobList{
		SessionID: req.ID,
		Username:  user,
		Items:     req.Items,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.live.SaveJobList(l); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, l)
}

func (s *Server) apiClearMultiSession(w http.ResponseWriter, r *http.Request) {
	if err := s.live.ClearJobList(currentUser(r)); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
