package stay

import "time"

// Status describes how a stay relates to the observation window.
type Status string

const (
	StatusComplete       Status = "Patient stay is complete"
	StatusInHouseAtStart Status = "In-house as of start date"
	StatusInHouseAtEnd   Status = "In-house as of end date"
)

// Labels used where the true origin or destination is outside the data.
const (
	Unknown        = "Unknown"
	HomeOrSelfCare = "Home or Self Care"
)

// Stay is a contiguous interval of occupancy in one unit.
type Stay struct {
	HAR            int64     `json:"har"`
	DischargeClass string    `json:"discharge_class"`
	Unit           string    `json:"unit"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Hours          float64   `json:"hours"`
	Status         Status    `json:"status"`
	CameFrom       string    `json:"came_from"`
	WentTo         string    `json:"went_to"`
	ArrivedAs      string    `json:"arrived_as"`
	LeftAs         string    `json:"left_as"`
}
