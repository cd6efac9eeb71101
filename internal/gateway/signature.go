package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns hex(HMAC-SHA256(secret, message)).
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentMessage is what the gateway signs when it hands a payment back to the client.
func PaymentMessage(gatewayOrderID, gatewayPaymentID string) []byte {
	return []byte(gatewayOrderID + "|" + gatewayPaymentID)
}

// Verify compares signature against the expected one in constant time.
func Verify(secret string, message []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyPayment checks a client confirmation signature.
func VerifyPayment(keySecret, gatewayOrderID, gatewayPaymentID, signature string) bool {
	return Verify(keySecret, PaymentMessage(gatewayOrderID, gatewayPaymentID), signature)
}

// VerifyWebhook checks the signature of a raw webhook body.
func VerifyWebhook(webhookSecret string, body []byte, signature string) bool {
	return Verify(webhookSecret, body, signature)
}
