package captable

import (
	"math/big"
	"strings"
)

// FormatUnits renders a raw token amount as a decimal string, shifting the
// point left by decimals places. Trailing fraction zeros are trimmed.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	s := abs.String()
	if decimals == 0 {
		if neg {
			return "-" + s
		}
		return s
	}

	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	ip, fp := s[:len(s)-d], s[len(s)-d:]
	fp = strings.TrimRight(fp, "0")

	out := ip
	if fp != "" {
		out += "." + fp
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out
}
