package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/pario-ai/meshbridge/pkg/models"
)

// Key returns the hex SHA-256 of the canonical serialization of req.
func Key(req models.GenerationRequest) string {
	sum := sha256.Sum256([]byte(Canonical(req)))
	return hex.EncodeToString(sum[:])
}

// Canonical renders req as a sorted-key JSON object, byte for byte the same
// as Python's json.dumps(..., sort_keys=True) with default separators and
// ensure_ascii. Keys already stored by other implementations stay valid.
func Canonical(req models.GenerationRequest) string {
	var b strings.Builder
	b.WriteString(`{"guidance_scale": `)
	b.WriteString(formatFloat(req.GuidanceScale))
	b.WriteString(`, "num_inference_steps": `)
	b.WriteString(strconv.Itoa(req.Steps))
	b.WriteString(`, "prompt": `)
	writeString(&b, req.Prompt)
	b.WriteString(`, "seed": `)
	b.WriteString(strconv.FormatInt(req.Seed, 10))
	b.WriteString(`}`)
	return b.String()
}

// formatFloat follows Python's float repr: shortest round-trip digits,
// scientific notation outside 1e-4 <= |f| < 1e16, and a trailing ".0" on
// integral values.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f != 0 {
		sci := strconv.FormatFloat(f, 'e', -1, 64)
		exp, _ := strconv.Atoi(sci[strings.LastIndexByte(sci, 'e')+1:])
		if exp < -4 || exp >= 16 {
			return sci
		}
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

const hexDigits = "0123456789abcdef"

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				writeEscape(b, hi)
				writeEscape(b, lo)
			case r < 0x20 || r > 0x7e:
				writeEscape(b, r)
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

func writeEscape(b *strings.Builder, r rune) {
	b.WriteString(`\u`)
	b.WriteByte(hexDigits[(r>>12)&0xf])
	b.WriteByte(hexDigits[(r>>8)&0xf])
	b.WriteByte(hexDigits[(r>>4)&0xf])
	b.WriteByte(hexDigits[r&0xf])
}
