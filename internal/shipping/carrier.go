// Package shipping is the carrier side of fulfilment: serviceability checks,
// shipment creation and tracking.
package shipping

import (
	"context"
	"time"
)

type Serviceability struct {
	Pincode     string `json:"pincode"`
	Serviceable bool   `json:"serviceable"`
	COD         bool   `json:"cod"`
	EtaDays     int    `json:"eta_days,omitempty"`
	// Charges in minor units.
	Charges int64 `json:"charges,omitempty"`
}

type Consignee struct {
	Name    string
	Phone   string
	Email   string
	Line1   string
	Line2   string
	City    string
	State   string
	Pincode string
	Country string
}

type Package struct {
	SKU      string
	Name     string
	Quantity int
}

// ShipmentRequest is built from the order snapshot taken at intent time.
type ShipmentRequest struct {
	OrderID     string
	Consignee   Consignee
	Packages    []Package
	WeightGrams int
	// Amount in minor units; prepaid orders are never COD.
	Amount int64
	COD    bool
}

type Shipment struct {
	Waybill string `json:"waybill"`
}

type TrackingStatus struct {
	Waybill   string    `json:"waybill"`
	Status    string    `json:"status"`
	Location  string    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Carrier is the shipment booking capability. CreateShipment is attempted
// once per call and never retried by implementations.
type Carrier interface {
	CheckServiceability(ctx context.Context, pincode string, weightGrams int, cod bool) (*Serviceability, error)
	CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error)
	Track(ctx context.Context, waybill string) (*TrackingStatus, error)
}
