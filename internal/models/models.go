package models

import "time"

// PlanNone is the label of an account that never paid.
const PlanNone = "none"

type Orientation string

const (
	OrientationVertical   Orientation = "vertical"
	OrientationHorizontal Orientation = "horizontal"
)

// AspectRatio is the provider's name for the orientation.
func (o Orientation) AspectRatio() string {
	if o == OrientationHorizontal {
		return "landscape"
	}
	return "portrait"
}

func (o Orientation) Valid() bool {
	return o == OrientationVertical || o == OrientationHorizontal
}

type User struct {
	ID         int64
	TelegramID int64
	Username   string
	FirstName  string
	Locale     string
	Plan       string
	VideosLeft int
	TotalPaid  int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Plan struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code"`
	Title           string    `json:"title"`
	Currency        string    `json:"currency"`
	PriceMinorUnits int       `json:"price_minor_units"`
	Credits         int       `json:"credits"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

type Payment struct {
	ID                int64
	TelegramID        int64
	PlanCode          string
	Provider          string
	ProviderPaymentID string
	Currency          string
	Amount            int64
	Credits           int
	Status            string
	RawPayload        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// GenerationStatusSubmitted marks the row written when the provider accepted a
// task. Callbacks are only settled for tasks carrying one.
const GenerationStatusSubmitted = "submitted"

type GenerationLog struct {
	ID          int64
	TelegramID  int64
	TaskID      string
	Orientation Orientation
	Prompt      string
	Status      string
	CreatedAt   time.Time
}
