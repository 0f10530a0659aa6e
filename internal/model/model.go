// Package model holds the domain entities shared across the storage,
// worker, and HTTP layers.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityPrivate    Visibility = "private"
	VisibilityTeamsOnly  Visibility = "teams_only"
)

type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

type User struct {
	ID             uuid.UUID `json:"id"`
	DisplayName    string    `json:"display_name"`
	Gender         Gender    `json:"gender"`
	BirthYear      int       `json:"birth_year,omitempty"`
	WeightClassKg  float64   `json:"weight_class_kg,omitempty"`
	Country        string    `json:"country,omitempty"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	CreatedAt      time.Time `json:"created_at"`
}

type ActivityType struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Alias     string    `json:"alias"`
	IsBuiltin bool      `json:"is_builtin"`
}

type ActivityStatus string

const (
	ActivityStatusPending   ActivityStatus = "pending"
	ActivityStatusProcessed ActivityStatus = "processed"
	ActivityStatusFailed    ActivityStatus = "failed"
)

// Activity is the upload record. TypeBoundaries/SegmentTypes model a
// multi-sport activity as an ordered list of (start_time, type_id)
// intervals, per SPEC_FULL.md §9: SegmentTypes[i] is the active type over
// the half-open interval [TypeBoundaries[i], TypeBoundaries[i+1]). Both are
// empty for a single-sport activity, where ActivityTypeID alone governs the
// whole track.
type Activity struct {
	ID             uuid.UUID      `json:"id"`
	OwnerID        uuid.UUID      `json:"owner_id"`
	ActivityTypeID uuid.UUID      `json:"activity_type_id"`
	Title          string         `json:"title"`
	Visibility     Visibility     `json:"visibility"`
	ContentHash    string         `json:"-"`
	FileFormat     string         `json:"file_format"`
	Status         ActivityStatus `json:"status"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	TypeBoundaries []time.Time    `json:"type_boundaries,omitempty"`
	SegmentTypes   []uuid.UUID    `json:"segment_types,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	DurationSec    int            `json:"duration_sec"`
	DistanceM      float64        `json:"distance_m"`
	ElevationGainM float64        `json:"elevation_gain_m"`
	PointCount     int            `json:"point_count"`
	KudosCount     int            `json:"kudos_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ValidateMultiSport checks the invariant from spec.md §8: either both
// arrays are empty (single-sport), or len(SegmentTypes)+1 == len(TypeBoundaries)
// and TypeBoundaries is strictly increasing.
func (a Activity) ValidateMultiSport() error {
	if len(a.TypeBoundaries) == 0 && len(a.SegmentTypes) == 0 {
		return nil
	}
	if len(a.SegmentTypes)+1 != len(a.TypeBoundaries) {
		return fmt.Errorf("multi-sport arrays mismatched: %d segment types, %d boundaries", len(a.SegmentTypes), len(a.TypeBoundaries))
	}
	for i := 1; i < len(a.TypeBoundaries); i++ {
		if !a.TypeBoundaries[i].After(a.TypeBoundaries[i-1]) {
			return fmt.Errorf("type_boundaries must be strictly increasing at index %d", i)
		}
	}
	return nil
}

// ActivityTypeAt resolves which activity type is active at time t: the
// primary type for a single-sport activity, or the SegmentTypes[i] whose
// TypeBoundaries[i] <= t < TypeBoundaries[i+1] for a multi-sport one. ok is
// false if t falls outside every interval (before the first boundary or at
// or after the last).
func (a Activity) ActivityTypeAt(t time.Time) (uuid.UUID, bool) {
	if len(a.TypeBoundaries) == 0 {
		return a.ActivityTypeID, true
	}
	for i := 0; i < len(a.SegmentTypes); i++ {
		if !t.Before(a.TypeBoundaries[i]) && t.Before(a.TypeBoundaries[i+1]) {
			return a.SegmentTypes[i], true
		}
	}
	return uuid.Nil, false
}

// Point is a single sample in a track's point stream. Elevation and Time are
// nil when the source file didn't carry that field for this sample.
type Point struct {
	Lon       float64    `json:"lon"`
	Lat       float64    `json:"lat"`
	Elevation *float64   `json:"elevation,omitempty"`
	Time      *time.Time `json:"time,omitempty"`
}

type Track struct {
	ActivityID uuid.UUID `json:"activity_id"`
	Points     []Point   `json:"points"`
}

// ClimbCategoryHC is the stored value of the hardest climb category ("HC",
// hors categorie). 1 through 4 decrease in severity; nil means the segment
// isn't classified as a climb at all.
const ClimbCategoryHC = 0

type Segment struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	CreatorID      uuid.UUID  `json:"creator_id"`
	Visibility     Visibility `json:"visibility"`
	ActivityTypeID uuid.UUID  `json:"activity_type_id"`
	Points         []Point    `json:"points,omitempty"`
	DistanceM      float64    `json:"distance_m"`
	ElevationGainM float64    `json:"elevation_gain_m"`
	AverageGrade   float64    `json:"average_grade"`
	ClimbCategory  *int       `json:"climb_category"`
	StarCount      int        `json:"star_count"`
	CreatedAt      time.Time  `json:"created_at"`
}

// StartPoint and EndPoint are cached for the matcher's geometric candidate
// search; both are computed from Points and never stored independently.
func (s Segment) StartPoint() Point { return s.Points[0] }
func (s Segment) EndPoint() Point   { return s.Points[len(s.Points)-1] }

type SegmentEffort struct {
	ID               uuid.UUID `json:"id"`
	SegmentID        uuid.UUID `json:"segment_id"`
	ActivityID       uuid.UUID `json:"activity_id"`
	UserID           uuid.UUID `json:"user_id"`
	StartedAt        time.Time `json:"started_at"`
	ElapsedSec       float64   `json:"elapsed_sec"`
	StartFraction    float64   `json:"start_fraction"`
	EndFraction      float64   `json:"end_fraction"`
	IsPersonalRecord bool      `json:"is_personal_record"`
	CreatedAt        time.Time `json:"created_at"`
}

type AchievementKind string

const (
	AchievementKOM         AchievementKind = "kom"
	AchievementQOM         AchievementKind = "qom"
	AchievementLocalLegend AchievementKind = "local_legend"
)

type Achievement struct {
	ID        uuid.UUID       `json:"id"`
	SegmentID uuid.UUID       `json:"segment_id"`
	Kind      AchievementKind `json:"kind"`
	HolderID  uuid.UUID       `json:"holder_id"`
	EffortID  uuid.UUID       `json:"effort_id"`
	Active    bool            `json:"active"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

type JoinPolicy string

const (
	JoinPolicyOpen     JoinPolicy = "open"
	JoinPolicyApproval JoinPolicy = "approval"
	JoinPolicyInvite   JoinPolicy = "invite"
)

type Team struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	JoinPolicy  JoinPolicy `json:"join_policy"`
	MemberCount int        `json:"member_count"`
	CreatedAt   time.Time  `json:"created_at"`
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusLeased    JobStatus = "leased"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job mirrors the data-model shape from spec.md §3. The durable queue
// itself is asynq-over-Redis (internal/jobs); this struct is the shape
// operator-facing inspection queries (e.g. a future "failed jobs" admin
// endpoint) would project asynq's *asynq.TaskInfo into.
type Job struct {
	ID            uuid.UUID
	Kind          string
	Payload       []byte
	Status        JobStatus
	Attempts      int
	NextVisibleAt time.Time
	LeaseExpiry   *time.Time
	LastError     string
	CreatedAt     time.Time
}

type NotificationKind string

const (
	NotificationCrownAchieved  NotificationKind = "crown_achieved"
	NotificationCrownLost      NotificationKind = "crown_lost"
	NotificationPersonalRecord NotificationKind = "personal_record"
	NotificationKudos          NotificationKind = "kudos"
)

// Notification target identifies what the notification is about, so the
// read API can render it without a second round trip keyed only on kind.
type Notification struct {
	ID         uuid.UUID        `json:"id"`
	UserID     uuid.UUID        `json:"user_id"`
	Kind       NotificationKind `json:"kind"`
	ActorID    uuid.UUID        `json:"actor_id,omitempty"`
	TargetType string           `json:"target_type"`
	TargetID   uuid.UUID        `json:"target_id"`
	Payload    []byte           `json:"payload,omitempty"`
	ReadAt     *time.Time       `json:"read_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
