package export

// Resolution is the nested resolution object of the payload
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Payload is the JSON body POSTed to the remote frame sink
type Payload struct {
	Image          string     `json:"image"` // data:image/png;base64,...
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	FPS            int        `json:"fps"`
	ProcessingTime float64    `json:"processingTime"` // milliseconds
	Resolution     Resolution `json:"resolution"`
}

// DataURLPrefix precedes the base64 PNG in Payload.Image
const DataURLPrefix = "data:image/png;base64,"

// SessionHeader carries the exporter's session ID
const SessionHeader = "X-Session-ID"
