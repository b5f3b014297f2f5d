package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/makerspace/member-success/internal/export"
	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/outreach"
	"github.com/makerspace/member-success/internal/snapshot"
	"github.com/makerspace/member-success/internal/store"
)

const maxListLimit = 1000

// snapshotView is a stored snapshot with its follow-up recommendation.
type snapshotView struct {
	model.Snapshot
	FollowUp outreach.Recommendation `json:"follow_up"`
}

func (s *Server) view(snap model.Snapshot) snapshotView {
	return snapshotView{Snapshot: snap, FollowUp: outreach.Recommend(snap, s.templates)}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBuildDaily(w http.ResponseWriter, r *http.Request) {
	var opts snapshot.Options
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if opts.SnapshotDate != "" && !validDate(opts.SnapshotDate) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	if !s.building.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a build is already running")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.building.Store(false)

		run, err := s.builder.BuildDaily(s.baseCtx, opts)
		if err != nil {
			zap.L().Error("api: daily build failed", zap.Error(err))
			return
		}
		zap.L().Info("api: daily build complete",
			zap.String("run_id", run.ID),
			zap.Int("processed", run.Processed),
			zap.Int("failed", run.Failed),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":        "accepted",
		"snapshot_date": opts.SnapshotDate,
		"snapshot_type": opts.SnapshotType,
	})
}

func (s *Server) handleBuildMember(w http.ResponseWriter, r *http.Request) {
	id, ok := memberID(w, r)
	if !ok {
		return
	}
	opts := snapshot.Options{
		SnapshotDate: r.URL.Query().Get("date"),
		SnapshotType: r.URL.Query().Get("type"),
	}
	if opts.SnapshotDate != "" && !validDate(opts.SnapshotDate) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	snap, err := s.builder.BuildOne(r.Context(), id, opts)
	if errors.Is(err, snapshot.ErrMemberNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("member %d not found", id))
		return
	}
	if err != nil {
		zap.L().Error("api: build member", zap.Int64("member_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "snapshot build failed")
		return
	}
	writeJSON(w, http.StatusOK, s.view(*snap))
}

func (s *Server) handleGetMemberSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := memberID(w, r)
	if !ok {
		return
	}
	snapType := typeParam(r)
	date, ok := s.dateParam(w, r, snapType)
	if !ok {
		return
	}
	if date == "" {
		writeError(w, http.StatusNotFound, "no snapshots stored")
		return
	}

	snap, err := s.store.GetSnapshot(r.Context(), model.SnapshotKey{MemberID: id, SnapshotDate: date, SnapshotType: snapType})
	if err != nil {
		internalError(w, "get snapshot", err)
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no %s snapshot for member %d on %s", snapType, id, date))
		return
	}
	writeJSON(w, http.StatusOK, s.view(*snap))
}

func (s *Server) handleMemberHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := memberID(w, r)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", 90)
	if !ok {
		return
	}

	snaps, err := s.store.ListSnapshots(r.Context(), store.SnapshotFilter{
		MemberID:     id,
		SnapshotType: typeParam(r),
		Limit:        listLimit(limit, 90),
	})
	if err != nil {
		internalError(w, "member history", err)
		return
	}
	if snaps == nil {
		snaps = []model.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"member_id": id, "snapshots": snaps})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapType := typeParam(r)
	date, ok := s.dateParam(w, r, snapType)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", 100)
	if !ok {
		return
	}
	offset, ok := intParam(w, r, "offset", 0)
	if !ok {
		return
	}
	minRisk, ok := intParam(w, r, "min_risk", 0)
	if !ok {
		return
	}
	stage := model.Stage(r.URL.Query().Get("stage"))
	if stage != "" && !stage.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", stage))
		return
	}

	items := []snapshotView{}
	if date != "" {
		snaps, err := s.store.ListSnapshots(r.Context(), store.SnapshotFilter{
			SnapshotDate: date,
			SnapshotType: snapType,
			Stage:        stage,
			MinRisk:      minRisk,
			Limit:        listLimit(limit, 100),
			Offset:       offset,
		})
		if err != nil {
			internalError(w, "list snapshots", err)
			return
		}
		for _, snap := range snaps {
			items = append(items, s.view(snap))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot_date": date,
		"snapshot_type": snapType,
		"snapshots":     items,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" && !validDate(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	sum, err := s.collector.Collect(r.Context(), date, typeParam(r))
	if err != nil {
		internalError(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 20)
	if !ok {
		return
	}
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		SnapshotType: r.URL.Query().Get("type"),
		Status:       model.RunStatus(r.URL.Query().Get("status")),
		Limit:        listLimit(limit, 20),
	})
	if err != nil {
		internalError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []model.SnapshotRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snapType := typeParam(r)
	date, ok := s.dateParam(w, r, snapType)
	if !ok {
		return
	}

	var snaps []model.Snapshot
	if date != "" {
		snaps, err = s.store.ListSnapshots(r.Context(), store.SnapshotFilter{SnapshotDate: date, SnapshotType: snapType})
		if err != nil {
			internalError(w, "export", err)
			return
		}
	}

	contentType := "text/csv"
	if format == export.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="member-success-%s.%s"`, date, format))
	if err := export.Write(w, format, snaps, s.templates); err != nil {
		zap.L().Error("api: export", zap.Error(err))
	}
}

// dateParam returns the "date" query parameter, or the latest stored date
// for snapType when it is absent. It writes a 400 and returns false when the
// parameter is malformed.
func (s *Server) dateParam(w http.ResponseWriter, r *http.Request, snapType string) (string, bool) {
	date := r.URL.Query().Get("date")
	if date != "" {
		if !validDate(date) {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return "", false
		}
		return date, true
	}
	latest, err := s.store.LatestSnapshotDate(r.Context(), snapType)
	if err != nil {
		internalError(w, "latest snapshot date", err)
		return "", false
	}
	return latest, true
}

func typeParam(r *http.Request) string {
	if t := r.URL.Query().Get("type"); t != "" {
		return t
	}
	return model.DefaultSnapshotType
}

func memberID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "member id must be a positive integer")
		return 0, false
	}
	return id, true
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a non-negative integer", name))
		return 0, false
	}
	return n, true
}

// listLimit maps a requested page size onto (0, maxListLimit]. Zero means
// the default, since the store treats a zero limit as unbounded.
func listLimit(n, def int) int {
	if n <= 0 {
		n = def
	}
	return min(n, maxListLimit)
}

func validDate(s string) bool {
	_, err := time.Parse(model.DateLayout, s)
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
