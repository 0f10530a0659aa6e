package decoder

import (
	"io"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"

	"github.com/crestline/crestline/internal/apperr"
	"github.com/crestline/crestline/internal/model"
)

// semicircleConst converts FIT's signed-semicircle position units to
// decimal degrees (2^31 / 180).
const semicircleConst = 11930464.7111

const (
	fitInvalidPosition = 0x7FFFFFFF
	fitInvalidAltitude = 0xFFFF
)

func decodeFIT(r io.Reader) ([]model.Point, error) {
	dec := decoder.New(r)

	var points []model.Point
	for dec.Next() {
		data, err := dec.Decode()
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidInput, "decode fit file", err)
		}
		for _, msg := range data.Messages {
			if msg.Num != typedef.MesgNumRecord {
				continue
			}
			rec := mesgdef.NewRecord(&msg)
			if rec.Timestamp.IsZero() {
				continue
			}
			if rec.PositionLat == fitInvalidPosition || rec.PositionLong == fitInvalidPosition {
				continue
			}

			p := model.Point{
				Lat: float64(rec.PositionLat) / semicircleConst,
				Lon: float64(rec.PositionLong) / semicircleConst,
			}
			if rec.Altitude != fitInvalidAltitude {
				ele := (float64(rec.Altitude) / 5) - 500
				p.Elevation = &ele
			}
			ts := rec.Timestamp.UTC()
			p.Time = &ts

			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "fit file contains no usable record messages")
	}
	return points, nil
}
