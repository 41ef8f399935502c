package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

// ShipmentNotice is sent to the customer once a waybill exists.
type ShipmentNotice struct {
	OrderID      string
	CustomerName string
	Waybill      string
	TrackingURL  string
}

// OpsAlert is sent to the operations mailbox for anything needing a human.
type OpsAlert struct {
	Subject string
	OrderID string
	Summary string
	Fields  []Field
}

type Field struct {
	Name  string
	Value string
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// BuildShipmentBody builds the HTML body for the shipment email.
func BuildShipmentBody(n ShipmentNotice) string {
	name := n.CustomerName
	if name == "" {
		name = "there"
	}
	track := ""
	if n.TrackingURL != "" {
		track = fmt.Sprintf(`<p><a href="%s" style="color: #0b6e4f;">Track your parcel</a></p>`, html.EscapeString(n.TrackingURL))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #0b6e4f; padding: 24px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 22px;">Your order is on its way</h1>
	</div>

	<div style="background: #fff; padding: 24px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">Hi %s, your payment is confirmed and your order has been handed to Delhivery.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order</p>
			<p style="margin: 5px 0 12px 0; font-size: 16px; font-family: monospace;">%s</p>
			<p style="margin: 0; font-size: 14px; color: #666;">Waybill</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">%s</p>
		</div>
		%s

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">This is an automated message.</p>
	</div>
</body>
</html>`, html.EscapeString(name), html.EscapeString(n.OrderID), html.EscapeString(n.Waybill), track)
}

// BuildOpsAlertBody renders an alert as plain text.
func BuildOpsAlertBody(a OpsAlert) string {
	var b strings.Builder
	b.WriteString(a.Summary)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%-14s %s\n", "order:", a.OrderID)
	for _, f := range a.Fields {
		fmt.Fprintf(&b, "%-14s %s\n", f.Name+":", f.Value)
	}
	return b.String()
}

// FormatRupees renders minor units as rupees with Indian digit grouping,
// e.g. 12345678 -> ₹1,23,456.78.
func FormatRupees(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	amount := decimal.New(paise, -2).StringFixed(2)
	whole, frac, _ := strings.Cut(amount, ".")
	return sign + "₹" + groupIndian(whole) + "." + frac
}

// groupIndian groups the last three digits, then every two.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}
