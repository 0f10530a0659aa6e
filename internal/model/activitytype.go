package model

import "github.com/google/uuid"

// Built-in activity types, seeded by migration 0001 with the same
// uuid.NewSHA1(uuid.NameSpaceOID, ...) derivation so the Go constants and
// the database rows never drift apart.
var (
	ActivityTypeWalk   = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crestline.activity_type.walk"))
	ActivityTypeRun    = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crestline.activity_type.run"))
	ActivityTypeHike   = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crestline.activity_type.hike"))
	ActivityTypeRoad   = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crestline.activity_type.road"))
	ActivityTypeMTB    = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crestline.activity_type.mtb"))
	ActivityTypeEMTB   = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crestline.activity_type.emtb"))
	ActivityTypeGravel = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crestline.activity_type.gravel"))
	ActivityTypeUnknown = uuid.NewSHA1(uuid.NameSpaceOID, []byte("crestline.activity_type.unknown"))
)
