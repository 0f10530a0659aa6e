// Package decoder normalizes GPX, TCX, and FIT uploads into a single point
// stream shape the rest of the ingestion pipeline consumes.
package decoder

import (
	"fmt"
	"io"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

type Format string

const (
	FormatGPX Format = "gpx"
	FormatTCX Format = "tcx"
	FormatFIT Format = "fit"
)

// minDegenerateMeters is the threshold below which a track's first and last
// point are considered the same location — a near-certain sign of a
// zero-length or corrupt recording.
const minDegenerateMeters = 1.0

// Decode dispatches to the format-specific backend and validates the
// resulting point stream against the shared degenerate-file rules.
func Decode(format Format, r io.Reader) (model.Track, error) {
	var points []model.Point
	var err error

	switch format {
	case FormatGPX:
		points, err = decodeGPX(r)
	case FormatTCX:
		points, err = decodeTCX(r)
	case FormatFIT:
		points, err = decodeFIT(r)
	default:
		return model.Track{}, apperr.New(apperr.InvalidInput, fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		return model.Track{}, err
	}

	if err := validate(points); err != nil {
		return model.Track{}, err
	}

	return model.Track{Points: points}, nil
}

func validate(points []model.Point) error {
	if len(points) == 0 {
		return apperr.New(apperr.InvalidInput, "track contains no points")
	}
	first, last := points[0], points[len(points)-1]
	if len(points) > 1 && haversineMeters(first.Lat, first.Lon, last.Lat, last.Lon) < minDegenerateMeters {
		return apperr.New(apperr.InvalidInput, "track start and end points coincide")
	}
	return nil
}
