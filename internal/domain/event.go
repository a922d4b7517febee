package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Event is a time-bounded happening (a concert, a congress) that market items
// are listed against.
type Event struct {
	ID          uint64
	Title       string
	Description string
	ImageURL    string
	StartTime   time.Time
	EndTime     time.Time
	TicketPrice *big.Int // informational reference price in wei
	Active      bool
	CreatedAt   time.Time
}

// NewEvent holds the caller-supplied fields of an event registration.
type NewEvent struct {
	Title       string
	Description string
	ImageURL    string
	StartTime   time.Time
	EndTime     time.Time
	TicketPrice *big.Int
}

// Validate rejects registrations whose window is empty or inverted, or whose
// reference price is negative.
func (n NewEvent) Validate() error {
	if n.StartTime.IsZero() || n.EndTime.IsZero() {
		return fmt.Errorf("%w: start and end time are required", ErrInvalidArgument)
	}
	if !n.EndTime.After(n.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrInvalidArgument)
	}
	if n.TicketPrice != nil && n.TicketPrice.Sign() < 0 {
		return fmt.Errorf("%w: ticket price must not be negative", ErrInvalidArgument)
	}
	return nil
}

type eventJSON struct {
	ID          uint64    `json:"event_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	TicketPrice string    `json:"ticket_price"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// MarshalJSON renders the ticket price as a base-10 wei string.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		ImageURL:    e.ImageURL,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		TicketPrice: FormatWei(e.TicketPrice),
		Active:      e.Active,
		CreatedAt:   e.CreatedAt,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var v eventJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	price, err := ParseWei(v.TicketPrice)
	if err != nil {
		return fmt.Errorf("event %d: ticket_price: %w", v.ID, err)
	}
	*e = Event{
		ID:          v.ID,
		Title:       v.Title,
		Description: v.Description,
		ImageURL:    v.ImageURL,
		StartTime:   v.StartTime,
		EndTime:     v.EndTime,
		TicketPrice: price,
		Active:      v.Active,
		CreatedAt:   v.CreatedAt,
	}
	return nil
}
