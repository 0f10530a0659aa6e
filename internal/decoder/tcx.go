package decoder

import (
	"encoding/xml"
	"io"
	"time"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

// tcxFile models only the Trackpoint fields the decoder needs from the
// Garmin TrainingCenterDatabase schema.
type tcxFile struct {
	Activities struct {
		Activity []struct {
			Laps []struct {
				Track []struct {
					Trackpoint []struct {
						Time     string `xml:"Time"`
						Position *struct {
							LatitudeDegrees  float64 `xml:"LatitudeDegrees"`
							LongitudeDegrees float64 `xml:"LongitudeDegrees"`
						} `xml:"Position"`
						AltitudeMeters *float64 `xml:"AltitudeMeters"`
					} `xml:"Trackpoint"`
				} `xml:"Track"`
			} `xml:"Lap"`
		} `xml:"Activity"`
	} `xml:"Activities"`
}

func decodeTCX(r io.Reader) ([]model.Point, error) {
	var f tcxFile
	if err := xml.NewDecoder(r).Decode(&f); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "decode tcx file", err)
	}

	var points []model.Point
	for _, act := range f.Activities.Activity {
		for _, lap := range act.Laps {
			for _, trk := range lap.Track {
				for _, tp := range trk.Trackpoint {
					if tp.Position == nil {
						// Trackpoints without a GPS fix (e.g. indoor trainer laps)
						// carry HR/cadence only; they can't contribute to a trajectory.
						continue
					}
					p := model.Point{
						Lat:       tp.Position.LatitudeDegrees,
						Lon:       tp.Position.LongitudeDegrees,
						Elevation: tp.AltitudeMeters,
					}
					if t, err := time.Parse(time.RFC3339, tp.Time); err == nil {
						t = t.UTC()
						p.Time = &t
					}
					points = append(points, p)
				}
			}
		}
	}
	return points, nil
}
