package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var paymentLabels = map[PaymentMethod]string{
	PaymentCash:     "Cash",
	PaymentCard:     "Card",
	PaymentTransfer: "Bank transfer",
}

// ComposeNotes builds the single notes string stored on an order:
//
//	Payment: Cash (change for 50.00) | Note: no onions
func ComposeNotes(method PaymentMethod, changeFor *decimal.Decimal, note string) string {
	label, ok := paymentLabels[method]
	if !ok {
		label = string(method)
	}

	var b strings.Builder
	b.WriteString("Payment: ")
	b.WriteString(label)
	if changeFor != nil && method == PaymentCash {
		fmt.Fprintf(&b, " (change for %s)", changeFor.StringFixed(2))
	}
	if note = strings.TrimSpace(note); note != "" {
		b.WriteString(" | Note: ")
		b.WriteString(note)
	}
	return b.String()
}

// FormatSummary renders the human-readable order summary handed to the
// merchant.
func FormatSummary(o *Order, merchantName string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "New order %s at %s\n", shortID(o.ID), merchantName)
	fmt.Fprintf(&b, "Customer: %s (%s)\n", o.CustomerName, o.Phone)
	if o.Fulfillment == FulfillmentDelivery && o.Address != nil {
		fmt.Fprintf(&b, "Delivery to: %s\n", formatAddress(o.Address))
	} else {
		b.WriteString("Pickup at store\n")
	}

	b.WriteString("Items:\n")
	for _, it := range o.Items {
		fmt.Fprintf(&b, "- %d x %s = %s", it.Quantity, it.Name, it.LineTotal().StringFixed(2))
		if it.Note != "" {
			fmt.Fprintf(&b, " (%s)", it.Note)
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "Subtotal: %s\n", o.Subtotal.StringFixed(2))
	if o.DeliveryFee.IsPositive() {
		fmt.Fprintf(&b, "Delivery fee: %s\n", o.DeliveryFee.StringFixed(2))
	}
	if o.Discount.IsPositive() {
		fmt.Fprintf(&b, "Discount (%s): -%s\n", o.CouponCode, o.Discount.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: %s\n", o.Total.StringFixed(2))
	if o.Notes != "" {
		fmt.Fprintf(&b, "%s\n", o.Notes)
	}
	return b.String()
}

func formatAddress(a *Address) string {
	parts := make([]string, 0, 4)
	street := strings.TrimSpace(a.Street + " " + a.Number)
	for _, p := range []string{street, a.District, a.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	s := strings.Join(parts, ", ")
	if a.Reference != "" {
		s += " (" + a.Reference + ")"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return "#" + id[:8]
	}
	return "#" + id
}
