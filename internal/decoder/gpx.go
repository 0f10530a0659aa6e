package decoder

import (
	"encoding/xml"
	"io"
	"strconv"
	"time"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

// gpxFile models only the subset of the GPX 1.1 schema the decoder needs:
// track points nested under trk/trkseg. Waypoints and routes are ignored.
type gpxFile struct {
	Tracks []struct {
		Segments []struct {
			Points []struct {
				Lat  float64 `xml:"lat,attr"`
				Lon  float64 `xml:"lon,attr"`
				Ele  *string `xml:"ele"`
				Time *string `xml:"time"`
			} `xml:"trkpt"`
		} `xml:"trkseg"`
	} `xml:"trk"`
}

func decodeGPX(r io.Reader) ([]model.Point, error) {
	var f gpxFile
	if err := xml.NewDecoder(r).Decode(&f); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "decode gpx file", err)
	}

	var points []model.Point
	for _, trk := range f.Tracks {
		for _, seg := range trk.Segments {
			for _, pt := range seg.Points {
				p := model.Point{Lat: pt.Lat, Lon: pt.Lon}
				if pt.Ele != nil {
					if ele, err := strconv.ParseFloat(*pt.Ele, 64); err == nil {
						p.Elevation = &ele
					}
				}
				if pt.Time != nil {
					if t, err := time.Parse(time.RFC3339, *pt.Time); err == nil {
						t = t.UTC()
						p.Time = &t
					}
				}
				points = append(points, p)
			}
		}
	}
	return points, nil
}
