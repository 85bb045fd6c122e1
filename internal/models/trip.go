package models

import (
	"time"

	"github.com/google/uuid"
)

// Trip is one scheduled run of a bus with a finite seat inventory
type Trip struct {
	BaseEntity
	AvailableSeats int       `json:"available_seats" db:"available_seats"`
	Price          float64   `json:"price" db:"price"`
	DepartureTime  time.Time `json:"departure_time" db:"departure_time"`

	Stations []TripStation `json:"stations,omitempty" db:"-"`
}

// TripStation is a stop on a trip, ordered by SequenceNumber
type TripStation struct {
	TripID         uuid.UUID  `json:"trip_id" db:"trip_id"`
	StationID      uuid.UUID  `json:"station_id" db:"station_id"`
	SequenceNumber int        `json:"sequence_number" db:"sequence_number"`
	ArrivalTime    *time.Time `json:"arrival_time,omitempty" db:"arrival_time"`
	DepartureTime  *time.Time `json:"departure_time,omitempty" db:"departure_time"`
}

// FindStation returns the stop for stationID, or nil if the trip does not call there
func (t *Trip) FindStation(stationID uuid.UUID) *TripStation {
	for i := range t.Stations {
		if t.Stations[i].StationID == stationID {
			return &t.Stations[i]
		}
	}
	return nil
}
