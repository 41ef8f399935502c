package shipping

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/apiclient"
	"github.com/example/ec-fulfillment/internal/apperr"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type DelhiveryConfig struct {
	BaseURL        string
	Token          string
	OriginPincode  string
	PickupLocation string
	Timeout        time.Duration
}

type Delhivery struct {
	api    *apiclient.Client
	origin string
	pickup string
}

func NewDelhivery(cfg DelhiveryConfig) *Delhivery {
	api := apiclient.New("delhivery", cfg.BaseURL, cfg.Timeout)
	api.Header.Set("Authorization", "Token "+cfg.Token)
	return &Delhivery{api: api, origin: cfg.OriginPincode, pickup: cfg.PickupLocation}
}

type delhiveryPincodes struct {
	DeliveryCodes []struct {
		PostalCode struct {
			Pin     json.Number `json:"pin"`
			PrePaid string      `json:"pre_paid"`
			COD     string      `json:"cod"`
		} `json:"postal_code"`
	} `json:"delivery_codes"`
}

type delhiveryCharge struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type delhiveryTAT struct {
	Data struct {
		TAT int `json:"tat"`
	} `json:"data"`
}

// CheckServiceability looks the pincode up first; charges and expected
// transit time are fetched concurrently only for serviceable pincodes.
func (d *Delhivery) CheckServiceability(ctx context.Context, pincode string, weightGrams int, cod bool) (*Serviceability, error) {
	if !validPincode(pincode) {
		return nil, fmt.Errorf("%w: pincode %q", apperr.ErrInvalidRequest, pincode)
	}

	var pins delhiveryPincodes
	err := d.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/c/api/pin-codes/json/",
		Query:  map[string]string{"filter_codes": pincode},
	}, &pins)
	if err != nil {
		return nil, err
	}

	res := &Serviceability{Pincode: pincode}
	if len(pins.DeliveryCodes) == 0 {
		return res, nil
	}
	pc := pins.DeliveryCodes[0].PostalCode
	res.COD = pc.COD == "Y"
	if cod {
		res.Serviceable = res.COD
	} else {
		res.Serviceable = pc.PrePaid == "Y"
	}
	if !res.Serviceable {
		return res, nil
	}

	paymentType := "Pre-paid"
	if cod {
		paymentType = "COD"
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var charges []delhiveryCharge
		err := d.api.Do(gctx, apiclient.Request{
			Method: http.MethodGet,
			Path:   "/api/kinko/v1/invoice/charges/.json",
			Query: map[string]string{
				"md":    "E",
				"ss":    "Delivered",
				"o_pin": d.origin,
				"d_pin": pincode,
				"cgm":   strconv.Itoa(weightGrams),
				"pt":    paymentType,
			},
		}, &charges)
		if err != nil {
			return fmt.Errorf("charges: %w", err)
		}
		if len(charges) > 0 {
			amount := charges[0].TotalAmount.Mul(decimal.NewFromInt(100)).Round(0)
			res.Charges = amount.IntPart()
		}
		return nil
	})
	g.Go(func() error {
		var tat delhiveryTAT
		err := d.api.Do(gctx, apiclient.Request{
			Method: http.MethodGet,
			Path:   "/api/dc/expected_tat",
			Query: map[string]string{
				"origin_pin":      d.origin,
				"destination_pin": pincode,
				"mot":             "S",
			},
		}, &tat)
		if err != nil {
			return fmt.Errorf("expected tat: %w", err)
		}
		res.EtaDays = tat.Data.TAT
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

type delhiveryShipment struct {
	Name          string `json:"name"`
	Address       string `json:"add"`
	Pin           string `json:"pin"`
	City          string `json:"city"`
	State         string `json:"state"`
	Country       string `json:"country"`
	Phone         string `json:"phone"`
	Order         string `json:"order"`
	PaymentMode   string `json:"payment_mode"`
	ProductsDesc  string `json:"products_desc"`
	TotalAmount   string `json:"total_amount"`
	CODAmount     string `json:"cod_amount"`
	Quantity      string `json:"quantity"`
	Weight        string `json:"weight"`
	ShippingMode  string `json:"shipping_mode"`
	OrderDate     string `json:"order_date,omitempty"`
	ReturnPin     string `json:"return_pin,omitempty"`
	SellerInvoice string `json:"seller_inv,omitempty"`
}

type delhiveryCreateResponse struct {
	Success  bool   `json:"success"`
	Remark   string `json:"rmk"`
	Packages []struct {
		Waybill string   `json:"waybill"`
		Status  string   `json:"status"`
		Remarks []string `json:"remarks"`
	} `json:"packages"`
}

// CreateShipment books one shipment. The order id is sent as Delhivery's
// order reference.
func (d *Delhivery) CreateShipment(ctx context.Context, req ShipmentRequest) (*Shipment, error) {
	c := req.Consignee
	if c.Name == "" || c.Phone == "" || c.Pincode == "" || c.Line1 == "" {
		return nil, fmt.Errorf("%w: incomplete consignee for order %s", apperr.ErrInvalidRequest, req.OrderID)
	}

	quantity := 0
	names := make([]string, 0, len(req.Packages))
	for _, p := range req.Packages {
		quantity += p.Quantity
		names = append(names, fmt.Sprintf("%s x%d", p.Name, p.Quantity))
	}

	mode, codAmount := "Prepaid", "0"
	if req.COD {
		mode, codAmount = "COD", decimal.New(req.Amount, -2).StringFixed(2)
	}

	shipment := delhiveryShipment{
		Name:         c.Name,
		Address:      strings.TrimSpace(c.Line1 + " " + c.Line2),
		Pin:          c.Pincode,
		City:         c.City,
		State:        c.State,
		Country:      c.Country,
		Phone:        c.Phone,
		Order:        req.OrderID,
		PaymentMode:  mode,
		ProductsDesc: strings.Join(names, ", "),
		TotalAmount:  decimal.New(req.Amount, -2).StringFixed(2),
		CODAmount:    codAmount,
		Quantity:     strconv.Itoa(quantity),
		Weight:       strconv.Itoa(req.WeightGrams),
		ShippingMode: "Surface",
		ReturnPin:    d.origin,
	}
	data, err := json.Marshal(map[string]any{
		"shipments":       []delhiveryShipment{shipment},
		"pickup_location": map[string]string{"name": d.pickup},
	})
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("format", "json")
	form.Set("data", string(data))

	var out delhiveryCreateResponse
	err = d.api.Do(ctx, apiclient.Request{
		Method:      http.MethodPost,
		Path:        "/api/cmu/create.json",
		Body:        strings.NewReader(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	}, &out)
	if err != nil {
		return nil, err
	}

	if len(out.Packages) == 0 || out.Packages[0].Waybill == "" || !out.Success {
		reason := out.Remark
		if len(out.Packages) > 0 && len(out.Packages[0].Remarks) > 0 {
			reason = strings.Join(out.Packages[0].Remarks, "; ")
		}
		return nil, fmt.Errorf("delhivery rejected shipment for %s: %s", req.OrderID, reason)
	}
	return &Shipment{Waybill: out.Packages[0].Waybill}, nil
}

type delhiveryTracking struct {
	ShipmentData []struct {
		Shipment struct {
			AWB    string `json:"AWB"`
			Status struct {
				Status         string `json:"Status"`
				StatusLocation string `json:"StatusLocation"`
				StatusDateTime string `json:"StatusDateTime"`
			} `json:"Status"`
		} `json:"Shipment"`
	} `json:"ShipmentData"`
}

func (d *Delhivery) Track(ctx context.Context, waybill string) (*TrackingStatus, error) {
	if waybill == "" {
		return nil, fmt.Errorf("%w: missing waybill", apperr.ErrInvalidRequest)
	}

	var out delhiveryTracking
	err := d.api.Do(ctx, apiclient.Request{
		Method: http.MethodGet,
		Path:   "/api/v1/packages/json/",
		Query:  map[string]string{"waybill": waybill},
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.ShipmentData) == 0 {
		return nil, fmt.Errorf("waybill %s: %w", waybill, apperr.ErrNotFound)
	}

	s := out.ShipmentData[0].Shipment
	return &TrackingStatus{
		Waybill:   waybill,
		Status:    s.Status.Status,
		Location:  s.Status.StatusLocation,
		Timestamp: parseDelhiveryTime(s.Status.StatusDateTime),
	}, nil
}

var ist = time.FixedZone("IST", 5*60*60+30*60)

// parseDelhiveryTime accepts the timestamp shapes the tracking API returns;
// times without an offset are IST.
func parseDelhiveryTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, ist); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func validPincode(s string) bool {
	if len(s) != 6 || s[0] == '0' {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
