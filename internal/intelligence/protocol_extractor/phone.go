package protocol_extractor

import (
	"strings"
)

// ITU-T E.164 number length limits, counting the country calling code.
const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// callingCodes maps international calling codes to ISO 3166-1 alpha-2.
// Shared codes resolve to the most populous member (+1 to US, +7 to RU).
var callingCodes = map[string]string{
	"1": "US", "7": "RU", "20": "EG", "27": "ZA", "30": "GR", "31": "NL",
	"32": "BE", "33": "FR", "34": "ES", "39": "IT", "41": "CH", "44": "GB",
	"45": "DK", "46": "SE", "47": "NO", "48": "PL", "49": "DE", "51": "PE",
	"52": "MX", "54": "AR", "55": "BR", "56": "CL", "57": "CO", "60": "MY",
	"61": "AU", "62": "ID", "63": "PH", "64": "NZ", "65": "SG", "66": "TH",
	"81": "JP", "82": "KR", "84": "VN", "86": "CN", "90": "TR", "91": "IN",
	"92": "PK", "95": "MM", "212": "MA", "216": "TN", "220": "GM", "221": "SN",
	"223": "ML", "224": "GN", "225": "CI", "226": "BF", "227": "NE", "229": "BJ",
	"232": "SL", "233": "GH", "234": "NG", "237": "CM", "241": "GA", "243": "CD",
	"250": "RW", "251": "ET", "254": "KE", "255": "TZ", "256": "UG", "258": "MZ",
	"260": "ZM", "263": "ZW", "264": "NA", "265": "MW", "266": "LS", "267": "BW",
	"351": "PT", "353": "IE", "380": "UA", "855": "KH", "880": "BD", "886": "TW",
	"966": "SA", "971": "AE", "972": "IL", "977": "NP",
}

// PhoneMatch is an international phone number found in a token stream.
// Start and End are byte offsets into the text the tokens came from.
type PhoneMatch struct {
	Number  string `json:"number"`
	Country string `json:"country"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// FindPhoneNumbers scans tokens for international numbers written with a
// leading "+" or "00" prefix, possibly split over several tokens
// ("+44 (0)20 7946 0958").  Country is empty when the calling code is not
// known.  Text without phone numbers yields an empty result.
func FindPhoneNumbers(tokens []Token) []PhoneMatch {
	var out []PhoneMatch
	for i := 0; i < len(tokens); i++ {
		offset, intl, ok := phoneStart(tokens[i].Text)
		if !ok {
			continue
		}
		digits := phoneDigits(tokens[i].Text[offset:])
		if !intl {
			digits = strings.TrimPrefix(digits, "00")
		}
		last := i
		for j := i + 1; j < len(tokens) && len(digits) < maxPhoneDigits; j++ {
			if !isPhoneGroup(tokens[j].Text) {
				break
			}
			digits += phoneDigits(tokens[j].Text)
			last = j
			if strings.ContainsAny(tokens[j].Text[len(tokens[j].Text)-1:], ",;") {
				break
			}
		}
		if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
			continue
		}
		country := callingCountry(digits)
		if !intl && country == "" {
			continue
		}
		end := tokens[last].End - len(tokens[last].Text) + len(strings.TrimRight(tokens[last].Text, ".,;:"))
		out = append(out, PhoneMatch{
			Number:  "+" + digits,
			Country: country,
			Start:   tokens[i].Start + offset,
			End:     end,
		})
		i = last
	}
	return out
}

// phoneStart finds where a number begins inside tok.  intl is true for a
// "+" prefix and false for "00".
func phoneStart(tok string) (offset int, intl, ok bool) {
	if i := strings.IndexByte(tok, '+'); i >= 0 && i+1 < len(tok) && isDigit(tok[i+1]) {
		return i, true, true
	}
	t := strings.TrimLeft(tok, "(")
	if strings.HasPrefix(t, "00") && len(t) > 2 && t[2] != '0' && isDigit(t[2]) {
		return len(tok) - len(t), false, true
	}
	return 0, false, false
}

// phoneDigits keeps the digits of s, dropping a national trunk "(0)".
func phoneDigits(s string) string {
	s = strings.ReplaceAll(s, "(0)", "")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// isPhoneGroup reports whether tok is a continuation group such as "7946",
// "(617)" or "555-0100".
func isPhoneGroup(tok string) bool {
	tok = strings.TrimRight(tok, ".,;:")
	if tok == "" {
		return false
	}
	hasDigit := false
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		switch {
		case isDigit(c):
			hasDigit = true
		case c == '(' || c == ')' || c == '-' || c == '.' || c == '/':
		default:
			return false
		}
	}
	return hasDigit
}

// callingCountry resolves the longest known calling-code prefix of digits.
func callingCountry(digits string) string {
	for n := 3; n >= 1; n-- {
		if len(digits) < n {
			continue
		}
		if c, ok := callingCodes[digits[:n]]; ok {
			return c
		}
	}
	return ""
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
