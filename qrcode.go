package stepauth

import (
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

var errEmptyQRContent = errors.New("qr content empty")

// provisionQR renders a provisioning URI as a PNG QR code. A zero size
// disables rendering and returns nil without error.
func provisionQR(uri string, size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(uri) == "" {
		return nil, errEmptyQRContent
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, size)
	if err != nil {
		return nil, err
	}
	return png, nil
}
