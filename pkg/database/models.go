package database

// Marker is one dosimeter reading at a map zoom level. The map server keeps a
// copy of every reading per zoom level so tiles can be queried without
// aggregation at request time.
type Marker struct {
	ID          int64   `json:"id"`
	DoseRate    float64 `json:"doseRate"`  // µSv/h
	Date        int64   `json:"date"`      // UNIX seconds
	Lon         float64 `json:"lon"`
	Lat         float64 `json:"lat"`
	CountRate   float64 `json:"countRate"` // CPS
	Zoom        int     `json:"zoom"`
	Speed       float64 `json:"speed"`
	TrackID     string  `json:"trackID"`
	Altitude    float64 `json:"altitude,omitempty"`
	Detector    string  `json:"detector,omitempty"`
	Radiation   string  `json:"radiation,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Humidity    float64 `json:"humidity,omitempty"`
	HasSpectrum bool    `json:"hasSpectrum"`

	// Optional telemetry is stored as NULL unless the matching flag is set.
	AltitudeValid    bool `json:"-"`
	TemperatureValid bool `json:"-"`
	HumidityValid    bool `json:"-"`
}

// EnergyCalibration is the channel→keV polynomial a + b·ch + c·ch².
// Field names are part of the stored JSON and must not change.
type EnergyCalibration struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// Spectrum is a full channel histogram attached to a single marker.
type Spectrum struct {
	ID           int64              `json:"id"`
	MarkerID     int64              `json:"markerID"`
	Channels     []int              `json:"channels"`
	ChannelCount int                `json:"channelCount"`
	EnergyMinKeV float64            `json:"energyMinKeV"`
	EnergyMaxKeV float64            `json:"energyMaxKeV"`
	LiveTimeSec  float64            `json:"liveTimeSec"`
	RealTimeSec  float64            `json:"realTimeSec"`
	DeviceModel  string             `json:"deviceModel"`
	Calibration  *EnergyCalibration `json:"calibration,omitempty"`
	SourceFormat string             `json:"sourceFormat"`
	RawData      []byte             `json:"rawData,omitempty"`
	CreatedAt    int64              `json:"createdAt"`
}

// Bounds is a lat/lon rectangle.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}
