package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// NotificationVerifier проверяет заголовок x-signature уведомлений.
type NotificationVerifier struct {
	secret string
}

// NewNotificationVerifier создаёт верификатор с общим секретом.
func NewNotificationVerifier(secret string) *NotificationVerifier {
	return &NotificationVerifier{secret: secret}
}

type notification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// flexibleID принимает id как строкой, так и числом.
type flexibleID string

func (id *flexibleID) UnmarshalJSON(raw []byte) error {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*id = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*id = flexibleID(n.String())
	return nil
}

// VerifyNotification проверяет подпись и возвращает id платежа.
// Для уведомлений не о платежах возвращается пустой id без ошибки.
func (v *NotificationVerifier) VerifyNotification(payload []byte, signatureHeader, requestID string) (string, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return "", domain.Validationf("malformed notification payload: %v", err)
	}
	dataID := strings.ToLower(string(n.Data.ID))

	if err := v.Verify(dataID, requestID, signatureHeader); err != nil {
		return "", err
	}
	if n.Type != "" && n.Type != "payment" {
		return "", nil
	}
	return dataID, nil
}

// Verify проверяет подпись формата ts=<unix>,v1=<hex>.
func (v *NotificationVerifier) Verify(dataID, requestID, header string) error {
	if v.secret == "" || header == "" {
		return domain.ErrInvalidSignature
	}
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			sig = value
		}
	}
	if ts == "" || sig == "" {
		return domain.ErrInvalidSignature
	}

	expected := Sign(v.secret, dataID, requestID, ts)
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign вычисляет v1 по манифесту id:…;request-id:…;ts:…;
func Sign(secret, dataID, requestID, ts string) string {
	var manifest strings.Builder
	if dataID != "" {
		fmt.Fprintf(&manifest, "id:%s;", dataID)
	}
	if requestID != "" {
		fmt.Fprintf(&manifest, "request-id:%s;", requestID)
	}
	fmt.Fprintf(&manifest, "ts:%s;", ts)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader собирает заголовок x-signature.
func SignatureHeader(secret, dataID, requestID, ts string) string {
	return "ts=" + ts + ",v1=" + Sign(secret, dataID, requestID, ts)
}
