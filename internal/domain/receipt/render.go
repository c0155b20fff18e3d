package receipt

import (
	"fmt"
	"strings"

	"github.com/totempos/kiosk/internal/domain/payment"
	"github.com/totempos/kiosk/internal/domain/sale"
)

// thermal printers in the field are 40 columns wide
const lineWidth = 40

// Render builds the deterministic receipt text for a sale. The same sale and
// payment record always produce the same bytes, which keeps print retries
// idempotent. The payment record may be nil when rendering before approval
// data is available.
func Render(s *sale.Sale, pay *payment.Record) string {
	var b strings.Builder

	rule := strings.Repeat("=", lineWidth)
	b.WriteString(rule + "\n")
	b.WriteString(center("TOTEM POS") + "\n")
	b.WriteString(center("SALES RECEIPT") + "\n")
	b.WriteString(rule + "\n")
	b.WriteString(fmt.Sprintf("SALE: %s\n", s.ID))
	b.WriteString(strings.Repeat("-", lineWidth) + "\n")

	for _, item := range s.Cart.Items {
		b.WriteString(fmt.Sprintf("%dx %s\n", item.Quantity, truncate(item.Name, lineWidth-4)))
		b.WriteString(rightAlign(formatCents(item.UnitPriceCents*item.Quantity)) + "\n")
	}

	b.WriteString(strings.Repeat("-", lineWidth) + "\n")
	b.WriteString(fmt.Sprintf("%-20s%s\n", "TOTAL", rightAlignN(formatCents(s.TotalCents), lineWidth-20)))

	if pay != nil {
		b.WriteString(strings.Repeat("-", lineWidth) + "\n")
		b.WriteString("CARD PAYMENT\n")
		if pay.Brand != "" {
			b.WriteString(fmt.Sprintf("BRAND: %s\n", pay.Brand))
		}
		if pay.MaskedPAN != "" {
			b.WriteString(fmt.Sprintf("CARD:  %s\n", pay.MaskedPAN))
		}
		if pay.NSU != "" {
			b.WriteString(fmt.Sprintf("NSU:   %s\n", pay.NSU))
		}
		if pay.AuthCode != "" {
			b.WriteString(fmt.Sprintf("AUTH:  %s\n", pay.AuthCode))
		}
	}

	b.WriteString(rule + "\n")
	b.WriteString(center("THANK YOU") + "\n")
	b.WriteString(rule + "\n")

	return b.String()
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$ %d.%02d", cents/100, cents%100)
}

func center(s string) string {
	if len(s) >= lineWidth {
		return s
	}
	pad := (lineWidth - len(s)) / 2
	return strings.Repeat(" ", pad) + s
}

func rightAlign(s string) string {
	return rightAlignN(s, lineWidth)
}

func rightAlignN(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
