package pricing

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const maxCentsAmount = 1e16

// FormatCurrency renders amount as US dollars with thousands separators and
// exactly two decimals, truncating rather than rounding.
func FormatCurrency(amount float64) string {
	if math.IsNaN(amount) {
		return "$NaN"
	}
	negative := amount < 0
	if negative {
		amount = -amount
	}
	if math.IsInf(amount, 0) {
		if negative {
			return "-$Inf"
		}
		return "$Inf"
	}
	// Past this, cents overflow int64 and floats carry no fraction anyway.
	if amount >= maxCentsAmount {
		result := "$" + groupThousands(strconv.FormatFloat(math.Floor(amount), 'f', 0, 64)) + ".00"
		if negative {
			result = "-" + result
		}
		return result
	}

	// Truncate to cents; the small epsilon absorbs float noise like 0.29999999.
	cents := int64(math.Floor(amount*100 + 1e-6))
	whole := cents / 100
	frac := cents % 100

	result := "$" + groupThousands(strconv.FormatInt(whole, 10)) + "." + pad2(frac)
	if negative && cents != 0 {
		result = "-" + result
	}
	return result
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// groupThousands inserts commas every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent renders a percentage with at most two decimals.
func FormatPercent(p float64) string {
	return strconv.FormatFloat(math.Round(p*100)/100, 'f', -1, 64) + "%"
}

// FormatDate renders t in the console's short date style, e.g. "Jan 2, 2006".
// The zero time renders as "-".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("Jan 2, 2006")
}
