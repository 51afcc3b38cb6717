package domain

// CatalogStats summarises the catalog for the staff dashboard.
// All three cover active classes only. BookedSeats is counted from
// reservations, not summed from OccupiedSeats.
type CatalogStats struct {
	ActiveClasses int `json:"activeClasses"`
	TotalCapacity int `json:"totalCapacity"`
	BookedSeats   int `json:"bookedSeats"`
}
