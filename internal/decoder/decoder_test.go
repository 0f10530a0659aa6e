package decoder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crestline/crestline/internal/apperr"
)

const sampleGPX = `<?xml version="1.0"?>
<gpx><trk><trkseg>
<trkpt lat="45.5000" lon="-122.6000"><ele>10.0</ele><time>2026-01-01T12:00:00Z</time></trkpt>
<trkpt lat="45.5010" lon="-122.6005"><ele>15.0</ele><time>2026-01-01T12:00:05Z</time></trkpt>
<trkpt lat="45.5020" lon="-122.6010"><ele>20.0</ele><time>2026-01-01T12:00:10Z</time></trkpt>
</trkseg></trk></gpx>`

func TestDecodeGPX(t *testing.T) {
	track, err := Decode(FormatGPX, strings.NewReader(sampleGPX))
	require.NoError(t, err)
	require.Len(t, track.Points, 3)
	require.NotNil(t, track.Points[0].Elevation)
	require.InDelta(t, 10.0, *track.Points[0].Elevation, 0.001)
	require.NotNil(t, track.Points[0].Time)
}

func TestDecodeGPXEmpty(t *testing.T) {
	_, err := Decode(FormatGPX, strings.NewReader(`<?xml version="1.0"?><gpx><trk><trkseg></trkseg></trk></gpx>`))
	require.Error(t, err)
	require.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

func TestDecodeGPXDegenerate(t *testing.T) {
	const degenerate = `<?xml version="1.0"?>
<gpx><trk><trkseg>
<trkpt lat="45.5000" lon="-122.6000"><time>2026-01-01T12:00:00Z</time></trkpt>
<trkpt lat="45.5000" lon="-122.6000"><time>2026-01-01T12:00:05Z</time></trkpt>
</trkseg></trk></gpx>`
	_, err := Decode(FormatGPX, strings.NewReader(degenerate))
	require.Error(t, err)
	require.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}

const sampleTCX = `<?xml version="1.0"?>
<TrainingCenterDatabase><Activities><Activity>
<Lap><Track>
<Trackpoint><Time>2026-01-01T12:00:00Z</Time><Position><LatitudeDegrees>45.5</LatitudeDegrees><LongitudeDegrees>-122.6</LongitudeDegrees></Position><AltitudeMeters>12.0</AltitudeMeters></Trackpoint>
<Trackpoint><Time>2026-01-01T12:00:05Z</Time><Position><LatitudeDegrees>45.501</LatitudeDegrees><LongitudeDegrees>-122.601</LongitudeDegrees></Position><AltitudeMeters>14.0</AltitudeMeters></Trackpoint>
</Track></Lap>
</Activity></Activities></TrainingCenterDatabase>`

func TestDecodeTCX(t *testing.T) {
	track, err := Decode(FormatTCX, strings.NewReader(sampleTCX))
	require.NoError(t, err)
	require.Len(t, track.Points, 2)
}

func TestDecodeUnsupportedFormat(t *testing.T) {
	_, err := Decode(Format("kml"), strings.NewReader(""))
	require.Error(t, err)
	require.Equal(t, apperr.InvalidInput, apperr.KindOf(err))
}
