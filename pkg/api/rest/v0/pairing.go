package v0_rest

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/skip2/go-qrcode"
)

// getPairingCode serves a QR code of the event stream URL so a second device
// on the same network can attach to this client.
func (s *Server) getPairingCode(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	svg, err := generateSVGQRCode(fmt.Sprintf("%s://%s/events", scheme, r.Host))
	if err != nil {
		log.Println(err)
		returnErr(w, http.StatusInternalServerError, ErrInternal, nil)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(svg))
}

func generateSVGQRCode(content string) (string, error) {
	// Generate QR code matrix
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", err
	}
	bitmap := qr.Bitmap()

	// One unit per module, centered in a 45mm square
	totalSize := 45
	if len(bitmap) > totalSize {
		totalSize = len(bitmap)
	}
	margin := (totalSize - len(bitmap)) / 2

	var svg strings.Builder
	fmt.Fprintf(&svg, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %[1]d %[1]d" width="%[1]dmm" height="%[1]dmm">`, totalSize)
	for y := range bitmap {
		for x := range bitmap[y] {
			if bitmap[y][x] {
				fmt.Fprintf(&svg, `<rect x="%d" y="%d" width="1" height="1" fill="currentColor"/>`, x+margin, y+margin)
			}
		}
	}
	svg.WriteString(`</svg>`)
	return svg.String(), nil
}
