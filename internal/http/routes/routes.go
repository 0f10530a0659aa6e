// Package routes wires the chi router the API process serves, implementing
// spec.md §6's endpoint table over the store, blob, and jobs packages:
// RequestID, RealIP, Logger, Recoverer, then a context-injecting auth
// middleware ahead of each mutation-gated route group.
package routes

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/crestline/crestline/cache"
	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/blob"
	"github.com/crestline/crestline/internal/decoder"
	appmw "github.com/crestline/crestline/internal/http/middleware"
	"github.com/crestline/crestline/internal/jobs"
	"github.com/crestline/crestline/internal/model"
	"github.com/crestline/crestline/internal/store"
	"github.com/crestline/crestline/internal/visibility"
)

// Server bundles every collaborator a handler needs. Construct with New.
type Server struct {
	Router   *chi.Mux
	Store    *store.Store
	Blobs    blob.Store
	Enqueuer *jobs.Enqueuer
	Cache    *cache.FileCache
}

// ServerOptions is the constructor-time dependency set, mirroring the
// teacher's ServerOptions shape.
type ServerOptions struct {
	Store     *store.Store
	Blobs     blob.Store
	Enqueuer  *jobs.Enqueuer
	Cache     *cache.FileCache
	TokenAuth appmw.TokenResolver
}

// New builds the router. Every route runs behind OptionalSubject so
// visibility-gated reads can see who the viewer is when there is one;
// mutating routes additionally require RequireSubject via a nested group.
func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(appmw.OptionalSubject(opts.TokenAuth))

	s := &Server{Router: r, Store: opts.Store, Blobs: opts.Blobs, Enqueuer: opts.Enqueuer, Cache: opts.Cache}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/activities", func(ar chi.Router) {
		ar.Get("/{id}", s.handleActivityGet)
		ar.Get("/{id}/track", s.handleActivityTrack)
		ar.Get("/{id}/kudos", s.handleKudosGet)

		ar.Group(func(pr chi.Router) {
			pr.Use(appmw.RequireSubject(opts.TokenAuth))
			pr.Post("/new", s.handleActivityUpload)
			pr.Patch("/{id}", s.handleActivityPatch)
			pr.Delete("/{id}", s.handleActivityDelete)
			pr.Post("/{id}/kudos", s.handleKudosAdd)
			pr.Delete("/{id}/kudos", s.handleKudosRemove)
		})
	})

	r.Route("/segments", func(sr chi.Router) {
		sr.Get("/nearby", s.handleSegmentsNearby)
		sr.Get("/{id}/leaderboard", s.handleLeaderboard)
		sr.Get("/{id}/leaderboard/filtered", s.handleLeaderboardFiltered)
		sr.Get("/{id}/leaderboard/position", s.handleLeaderboardPosition)
		sr.Get("/{id}/star", s.handleStarGet)

		sr.Group(func(pr chi.Router) {
			pr.Use(appmw.RequireSubject(opts.TokenAuth))
			pr.Post("/", s.handleSegmentCreate)
			pr.Post("/preview", s.handleSegmentPreview)
			pr.Post("/{id}/star", s.handleStarAdd)
			pr.Delete("/{id}/star", s.handleStarRemove)
		})
	})

	r.Route("/users", func(ur chi.Router) {
		ur.Get("/{id}/follow", s.handleFollowGet)
		ur.Group(func(pr chi.Router) {
			pr.Use(appmw.RequireSubject(opts.TokenAuth))
			pr.Post("/{id}/follow", s.handleFollowAdd)
			pr.Delete("/{id}/follow", s.handleFollowRemove)
		})
	})

	r.Group(func(pr chi.Router) {
		pr.Use(appmw.RequireSubject(opts.TokenAuth))
		pr.Get("/feed", s.handleFeed)
	})

	r.Get("/leaderboards/crowns", s.handleLeaderboardCrowns)
	r.Get("/leaderboards/distance", s.handleLeaderboardDistance)
	r.Get("/leaderboards/countries", s.handleLeaderboardCountries)

	r.Route("/teams", func(tr chi.Router) {
		tr.Get("/{id}", s.handleTeamGet)
		tr.Group(func(pr chi.Router) {
			pr.Use(appmw.RequireSubject(opts.TokenAuth))
			pr.Post("/", s.handleTeamCreate)
			pr.Post("/{id}/join", s.handleTeamJoin)
			pr.Post("/{id}/leave", s.handleTeamLeave)
			pr.Post("/{id}/share", s.handleTeamShare)
		})
	})

	r.Group(func(pr chi.Router) {
		pr.Use(appmw.RequireSubject(opts.TokenAuth))
		pr.Get("/notifications", s.handleNotificationsList)
		pr.Post("/notifications/{id}/read", s.handleNotificationRead)
	})

	return s
}

// --- response helpers -------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an apperr onto its HTTP status and a small JSON body. A
// bare error that never went through apperr.Wrap/New surfaces as Internal,
// matching apperr.KindOf's own default.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, apperr.HTTPStatus(kind), map[string]string{"error": err.Error()})
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// --- visibility plumbing ----------------------------------------------

// canViewActivity applies the visibility gate for an activity, resolving
// team-shared access via the team_activities junction table.
func (s *Server) canViewActivity(r *http.Request, a model.Activity) bool {
	var viewerPtr *uuid.UUID
	if subject, ok := appmw.Subject(r.Context()); ok {
		viewerPtr = &subject
	}
	teamAccess := func(viewer uuid.UUID) bool {
		shared, err := s.Store.Teams.ActivitySharedWithUser(r.Context(), a.ID, viewer)
		return err == nil && shared
	}
	return visibility.Visible(a.Visibility, a.OwnerID, viewerPtr, teamAccess)
}

// canViewSegment is canViewActivity's segment counterpart.
func (s *Server) canViewSegment(r *http.Request, seg model.Segment) bool {
	var viewerPtr *uuid.UUID
	if subject, ok := appmw.Subject(r.Context()); ok {
		viewerPtr = &subject
	}
	teamAccess := func(viewer uuid.UUID) bool {
		shared, err := s.Store.Teams.SegmentSharedWithUser(r.Context(), seg.ID, viewer)
		return err == nil && shared
	}
	return visibility.Visible(seg.Visibility, seg.CreatorID, viewerPtr, teamAccess)
}

// --- activities ---------------------------------------------------------

func (s *Server) handleActivityUpload(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad multipart form"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file part"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read upload"})
		return
	}

	format := formatFromFilename(header.Filename)
	if format == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unrecognized file extension"})
		return
	}

	activityTypeID, err := uuid.Parse(r.URL.Query().Get("activity_type_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid activity_type_id"})
		return
	}

	boundaries, segTypes, err := parseMultiSportParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sum := sha256.Sum256(data)
	activity := model.Activity{
		ID:             uuid.New(),
		OwnerID:        subject,
		ActivityTypeID: activityTypeID,
		Title:          r.URL.Query().Get("name"),
		Visibility:     model.Visibility(defaultString(r.URL.Query().Get("visibility"), string(model.VisibilityPrivate))),
		ContentHash:    hex.EncodeToString(sum[:]),
		FileFormat:     string(format),
		TypeBoundaries: boundaries,
		SegmentTypes:   segTypes,
		StartedAt:      time.Now(),
	}

	created, isNew, err := s.Store.Activities.Create(r.Context(), activity)
	if err != nil {
		writeError(w, err)
		return
	}

	if isNew {
		// Blob write, then enqueue, strictly after the activity row's insert
		// transaction committed — see internal/ingest's ordering contract.
		key := blob.ActivityObjectKey(created.ID, created.FileFormat)
		if err := s.Blobs.Put(r.Context(), key, data); err != nil {
			writeError(w, err)
			return
		}
		if _, err := s.Enqueuer.EnqueueProcessActivity(created.ID); err != nil {
			writeError(w, err)
			return
		}

		for _, teamIDStr := range r.URL.Query()["team_ids[]"] {
			teamID, err := uuid.Parse(teamIDStr)
			if err != nil {
				continue
			}
			_ = s.Store.Teams.ShareActivity(r.Context(), teamID, created.ID)
		}
	}

	writeJSON(w, http.StatusCreated, created)
}

func parseMultiSportParams(r *http.Request) ([]time.Time, []uuid.UUID, error) {
	rawBoundaries := r.URL.Query()["type_boundaries[]"]
	rawTypes := r.URL.Query()["segment_types[]"]

	boundaries := make([]time.Time, 0, len(rawBoundaries))
	for _, raw := range rawBoundaries {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, apperr.New(apperr.InvalidInput, "invalid type_boundaries[] timestamp")
		}
		boundaries = append(boundaries, t)
	}

	segTypes := make([]uuid.UUID, 0, len(rawTypes))
	for _, raw := range rawTypes {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil, apperr.New(apperr.InvalidInput, "invalid segment_types[] id")
		}
		segTypes = append(segTypes, id)
	}

	return boundaries, segTypes, nil
}

func formatFromFilename(name string) decoder.Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gpx"):
		return decoder.FormatGPX
	case strings.HasSuffix(lower, ".tcx"):
		return decoder.FormatTCX
	case strings.HasSuffix(lower, ".fit"):
		return decoder.FormatFIT
	default:
		return ""
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *Server) handleActivityGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	activity, err := s.Store.Activities.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.canViewActivity(r, activity) {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

func (s *Server) handleActivityTrack(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	activity, err := s.Store.Activities.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.canViewActivity(r, activity) {
		notFound(w)
		return
	}
	points, err := s.Store.Trajectories.GetPoints(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Track{ActivityID: id, Points: points})
}

type activityPatchRequest struct {
	Title      string           `json:"title"`
	Visibility model.Visibility `json:"visibility"`
}

func (s *Server) handleActivityPatch(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	activity, err := s.Store.Activities.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.canViewActivity(r, activity) {
		notFound(w)
		return
	}
	if activity.OwnerID != subject {
		writeError(w, apperr.New(apperr.Forbidden, "only the owner can modify this activity"))
		return
	}

	var body activityPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.Title == "" {
		body.Title = activity.Title
	}
	if body.Visibility == "" {
		body.Visibility = activity.Visibility
	}

	if err := s.Store.Activities.UpdateVisibility(r.Context(), id, body.Title, body.Visibility); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleActivityDelete(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	activity, err := s.Store.Activities.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.canViewActivity(r, activity) {
		notFound(w)
		return
	}
	if activity.OwnerID != subject {
		writeError(w, apperr.New(apperr.Forbidden, "only the owner can delete this activity"))
		return
	}
	if err := s.Store.Activities.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleKudosAdd(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	if err := s.Store.Activities.AddKudos(r.Context(), id, subject); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"kudoed": true})
}

func (s *Server) handleKudosRemove(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	if err := s.Store.Activities.RemoveKudos(r.Context(), id, subject); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"kudoed": false})
}

func (s *Server) handleKudosGet(w http.ResponseWriter, r *http.Request) {
	subject, ok := appmw.Subject(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"kudoed": false})
		return
	}
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	kudoed, err := s.Store.Activities.HasKudoed(r.Context(), id, subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"kudoed": kudoed})
}

// --- segments -------------------------------------------------------------

type segmentCreateRequest struct {
	Name           string           `json:"name"`
	Visibility     model.Visibility `json:"visibility"`
	ActivityTypeID uuid.UUID        `json:"activity_type_id"`
	Points         []model.Point    `json:"points"`
}

func (s *Server) handleSegmentCreate(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	seg, err := decodeSegmentRequest(r, subject)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.Store.Segments.Create(r.Context(), seg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, seg)
}

// handleSegmentPreview computes the same metrics Create would persist
// without writing anything, for the client's "preview before saving" flow.
func (s *Server) handleSegmentPreview(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	seg, err := decodeSegmentRequest(r, subject)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func decodeSegmentRequest(r *http.Request, creatorID uuid.UUID) (model.Segment, error) {
	var body segmentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return model.Segment{}, err
	}
	if len(body.Points) < 2 {
		return model.Segment{}, apperr.New(apperr.InvalidInput, "segment needs at least 2 points")
	}

	distance, gain, grade := segmentMetrics(body.Points)
	seg := model.Segment{
		ID:             uuid.New(),
		Name:           body.Name,
		CreatorID:      creatorID,
		Visibility:     defaultVisibility(body.Visibility),
		ActivityTypeID: body.ActivityTypeID,
		Points:         body.Points,
		DistanceM:      distance,
		ElevationGainM: gain,
		AverageGrade:   grade,
	}
	seg.ClimbCategory = model.ClassifyClimb(seg.ElevationGainM, seg.AverageGrade)
	return seg, nil
}

func defaultVisibility(v model.Visibility) model.Visibility {
	if v == "" {
		return model.VisibilityPublic
	}
	return v
}

// segmentMetrics derives distance, elevation gain, and average grade from a
// segment's points, the same haversine-plus-positive-delta approach
// internal/ingest uses for activities.
func segmentMetrics(points []model.Point) (distanceM, gainM, averageGradePct float64) {
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		distanceM += haversineMeters(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
		if prev.Elevation != nil && cur.Elevation != nil {
			if delta := *cur.Elevation - *prev.Elevation; delta > 0 {
				gainM += delta
			}
		}
	}
	if distanceM > 0 {
		averageGradePct = (gainM / distanceM) * 100
	}
	return distanceM, gainM, averageGradePct
}

const earthRadiusMeters = 6371000.0

// haversineMeters mirrors the great-circle distance formula used in
// internal/decoder and internal/ingest; each package keeps its own copy
// rather than sharing one across an import boundary this small.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func (s *Server) handleSegmentsNearby(w http.ResponseWriter, r *http.Request) {
	lat, lon, radius, err := parseLatLonRadius(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	limit, _ := pagination(r)
	ids, err := s.Store.Segments.Nearby(r.Context(), lon, lat, radius, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]model.Segment, 0, len(ids))
	for _, id := range ids {
		seg, err := s.Store.Segments.Get(r.Context(), id)
		if err != nil {
			continue
		}
		if !s.canViewSegment(r, seg) {
			continue
		}
		out = append(out, seg)
	}
	writeJSON(w, http.StatusOK, out)
}

func parseLatLonRadius(r *http.Request) (lat, lon, radius float64, err error) {
	lat, err = strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		return 0, 0, 0, apperr.New(apperr.InvalidInput, "invalid lat")
	}
	lon, err = strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		return 0, 0, 0, apperr.New(apperr.InvalidInput, "invalid lon")
	}
	radius, err = strconv.ParseFloat(r.URL.Query().Get("radius"), 64)
	if err != nil {
		return 0, 0, 0, apperr.New(apperr.InvalidInput, "invalid radius")
	}
	return lat, lon, radius, nil
}

func (s *Server) handleStarAdd(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	if err := s.Store.Segments.AddStar(r.Context(), id, subject); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"starred": true})
}

func (s *Server) handleStarRemove(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	if err := s.Store.Segments.RemoveStar(r.Context(), id, subject); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"starred": false})
}

func (s *Server) handleStarGet(w http.ResponseWriter, r *http.Request) {
	subject, ok := appmw.Subject(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"starred": false})
		return
	}
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	starred, err := s.Store.Segments.IsStarred(r.Context(), id, subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"starred": starred})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	limit, offset := pagination(r)
	entries, err := s.Store.Efforts.Leaderboard(r.Context(), id, store.LeaderboardFilter{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleLeaderboardFiltered is identical to handleLeaderboard but accepts
// demographic filters and caches the rendered result for 30 seconds, keyed
// per segment on the gender, birth-year, country, limit and offset
// parameters (other query parameters do not affect the key) — filtered
// leaderboards are read far more often than efforts change, per
// SPEC_FULL.md §4.6.
func (s *Server) handleLeaderboardFiltered(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}

	q := r.URL.Query()
	params := map[string]string{"segment_id": id.String()}
	for _, k := range []string{"gender", "min_birth_year", "max_birth_year", "country", "limit", "offset"} {
		if v := q.Get(k); v != "" {
			params[k] = v
		}
	}

	var cacheKey string
	if s.Cache != nil {
		cacheKey = s.Cache.SegmentKeyFor(id.String(), params)
		if entry, fresh := s.Cache.Read(cacheKey, 30*time.Second); fresh {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "hit")
			_, _ = w.Write(entry.Body)
			return
		}
	}

	filter := store.LeaderboardFilter{}
	if v := q.Get("gender"); v != "" {
		g := model.Gender(v)
		filter.Gender = &g
	}
	if v := q.Get("min_birth_year"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MinBirthYear = &n
		}
	}
	if v := q.Get("max_birth_year"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MaxBirthYear = &n
		}
	}
	if v := q.Get("country"); v != "" {
		filter.Country = &v
	}
	filter.Limit, filter.Offset = pagination(r)

	entries, err := s.Store.Efforts.Leaderboard(r.Context(), id, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := json.Marshal(entries)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Internal, "marshal leaderboard", err))
		return
	}
	if s.Cache != nil {
		_ = s.Cache.Write(cacheKey, &cache.Entry{Body: body})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "miss")
	_, _ = w.Write(body)
}

func (s *Server) handleLeaderboardPosition(w http.ResponseWriter, r *http.Request) {
	subject, ok := appmw.Subject(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"rank": nil, "neighbours": nil})
		return
	}
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	k := 2
	if raw := r.URL.Query().Get("k"); raw != "" {
		if parsed, perr := strconv.Atoi(raw); perr == nil && parsed >= 0 {
			k = parsed
		}
	}
	rank, neighbours, found, err := s.Store.Efforts.LeaderboardPosition(r.Context(), id, subject, k)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"rank": nil, "neighbours": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rank": rank, "neighbours": neighbours})
}

// --- users / follow -------------------------------------------------------

func (s *Server) handleFollowAdd(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	followeeID, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	if err := s.Store.Users.Follow(r.Context(), subject, followeeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": true})
}

func (s *Server) handleFollowRemove(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	followeeID, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	if err := s.Store.Users.Unfollow(r.Context(), subject, followeeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": false})
}

func (s *Server) handleFollowGet(w http.ResponseWriter, r *http.Request) {
	subject, ok := appmw.Subject(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"following": false})
		return
	}
	followeeID, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	following, err := s.Store.Users.IsFollowing(r.Context(), subject, followeeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"following": following})
}

// --- feed -------------------------------------------------------------

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	limit, offset := pagination(r)

	ownerIDs, err := s.Store.Users.FollowedIDs(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}

	activities, err := s.Store.Activities.Feed(r.Context(), ownerIDs, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]model.Activity, 0, len(activities))
	for _, a := range activities {
		if !s.canViewActivity(r, a) {
			continue
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

// --- global leaderboards -------------------------------------------------

func (s *Server) handleLeaderboardCrowns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := s.Store.Achievements.CrownLeaderboard(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLeaderboardDistance(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := s.Store.Activities.DistanceLeaderboard(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLeaderboardCountries(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := s.Store.Activities.CountryLeaderboard(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- teams -------------------------------------------------------------

type teamCreateRequest struct {
	Name       string           `json:"name"`
	JoinPolicy model.JoinPolicy `json:"join_policy"`
}

func (s *Server) handleTeamCreate(w http.ResponseWriter, r *http.Request) {
	var body teamCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.JoinPolicy == "" {
		body.JoinPolicy = model.JoinPolicyOpen
	}
	t := model.Team{ID: uuid.New(), Name: body.Name, JoinPolicy: body.JoinPolicy}
	if err := s.Store.Teams.Create(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleTeamGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	t, err := s.Store.Teams.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTeamJoin(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	if err := s.Store.Teams.Join(r.Context(), id, subject); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"joined": true})
}

func (s *Server) handleTeamLeave(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	if err := s.Store.Teams.Leave(r.Context(), id, subject); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"joined": false})
}

type teamShareRequest struct {
	ActivityID uuid.UUID `json:"activity_id"`
}

func (s *Server) handleTeamShare(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	var body teamShareRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := s.Store.Teams.ShareActivity(r.Context(), id, body.ActivityID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shared"})
}

// --- notifications -------------------------------------------------------

func (s *Server) handleNotificationsList(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmw.Subject(r.Context())
	limit, _ := pagination(r)
	notifications, err := s.Store.Notifications.ListUnread(r.Context(), subject, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		notFound(w)
		return
	}
	if err := s.Store.Notifications.MarkRead(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}
