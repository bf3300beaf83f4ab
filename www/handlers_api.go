package www

import (
	"net/http"
	"strings"
	"time"

	"phasetrack/engine"
	"phasetrack/multijob"
	"phasetrack/production"
)

func (h *Handlers) station(w http.ResponseWriter, r *http.Request) (*engine.Station, bool) {
	st, err := h.engine.Station(operatorFrom(r))
	if err != nil {
		writeActionError(w, err)
		return nil, false
	}
	return st, true
}

// respondState answers an action with the operator's fresh state.
func (h *Handlers) respondState(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.State(r.Context(), operatorFrom(r))
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, s)
}

func (h *Handlers) apiLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	st, err := h.engine.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeActionError(w, err)
		return
	}
	if err := h.sessions.save(w, r, terminalLogin{Operator: st.Operator, LoginAt: st.LoginAt}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s, err := h.engine.State(r.Context(), req.Username)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, s)
}

func (h *Handlers) apiLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Logout(r.Context(), operatorFrom(r)); err != nil {
		writeActionError(w, err)
		return
	}
	h.sessions.clear(w, r)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiOperators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Operators())
}

func (h *Handlers) apiState(w http.ResponseWriter, r *http.Request) {
	h.respondState(w, r)
}

func (h *Handlers) apiScan(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if err := st.Builder.Scan(r.Context(), strings.TrimSpace(req.Code)); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

func (h *Handlers) apiEligible(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	phases, err := st.Builder.Eligible()
	if err != nil {
		writeActionError(w, err)
		return
	}
	if phases == nil {
		phases = []multijob.EligiblePhase{}
	}
	writeJSON(w, phases)
}

func (h *Handlers) apiPick(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	var req struct {
		PhaseID  string           `json:"phase_id"`
		Position string           `json:"position"`
		Stage    production.Stage `json:"stage"`
	}
	if err := decodeJSON(r, &req); err != nil || req.PhaseID == "" {
		writeError(w, http.StatusBadRequest, "phase_id is required")
		return
	}
	if err := st.Builder.Pick(req.PhaseID, req.Position, req.Stage); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

func (h *Handlers) apiCancelPick(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	if err := st.Builder.CancelPick(); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

func (h *Handlers) apiRemoveItem(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	idx, err := parseIndex(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	if err := st.Builder.Remove(r.Context(), idx); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

func (h *Handlers) apiStartMulti(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	if err := st.Builder.Start(r.Context()); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

// apiStopMulti stops the running session with one quantity per job, in
// job list order. The terminal collects them before calling.
func (h *Handlers) apiStopMulti(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantities quantityList `json:"quantities"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := st.Builder.Stop(r.Context(), multijob.QuantityList(req.Quantities))
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, res)
}

func (h *Handlers) apiAbandon(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	if err := st.Builder.Abandon(r.Context()); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

func (h *Handlers) apiResume(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	if err := st.Builder.Resume(r.Context()); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

func (h *Handlers) apiResolveOrphan(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	var req struct {
		Stop bool `json:"stop"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := st.Builder.ResolveOrphan(r.Context(), req.Stop); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

func (h *Handlers) apiStartDeadTime(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	var req struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Linkage     string `json:"linkage"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := st.Runner.StartDeadTime(r.Context(), strings.TrimSpace(req.Code), req.Description, req.Linkage); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

func (h *Handlers) apiStopDeadTime(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	if err := st.Runner.StopDeadTime(r.Context()); err != nil {
		writeActionError(w, err)
		return
	}
	h.respondState(w, r)
}

func (h *Handlers) apiStartPhase(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	var req struct {
		QRCode   string           `json:"qr_code"`
		PhaseID  string           `json:"phase_id"`
		Position string           `json:"position"`
		Stage    production.Stage `json:"stage"`
	}
	if err := decodeJSON(r, &req); err != nil || req.QRCode == "" || req.PhaseID == "" {
		writeError(w, http.StatusBadRequest, "qr_code and phase_id are required")
		return
	}
	l, err := st.Runner.StartPhase(r.Context(), req.QRCode, req.PhaseID, req.Position, req.Stage)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, l)
}

func (h *Handlers) apiFinishPhase(w http.ResponseWriter, r *http.Request) {
	st, ok := h.station(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity string `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	l, err := st.Runner.FinishPhase(r.Context(), req.Quantity)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, l)
}

type backendSettings struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (h *Handlers) apiGetBackend(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.AppConfig()
	cfg.Lock()
	out := backendSettings{URL: cfg.Backend.URL, TimeoutSeconds: int(cfg.Backend.Timeout / time.Second)}
	cfg.Unlock()
	writeJSON(w, out)
}

func (h *Handlers) apiSetBackend(w http.ResponseWriter, r *http.Request) {
	var req backendSettings
	if err := decodeJSON(r, &req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := h.engine.ConfigureBackend(req.URL, time.Duration(req.TimeoutSeconds)*time.Second); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.apiGetBackend(w, r)
}
