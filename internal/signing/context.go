package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	dErrors "sign-gateway/pkg/domainerrors"
)

// TransactionContext is the immutable payment context a customer confirms.
// The Hash pins the exact context a signature was requested for; any later
// drift between hash and fields indicates tampering.
type TransactionContext struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	MerchantID  string          `json:"merchant_id"`
	OrderID     string          `json:"order_id"`
	Description string          `json:"description"`
	Hash        string          `json:"hash"`
}

// canonicalContext is the hashed wire form. Amount is serialized through
// decimal.String so 100.00 and 100.000 canonicalize identically.
type canonicalContext struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	MerchantID  string `json:"merchant_id"`
	OrderID     string `json:"order_id"`
	Description string `json:"description"`
}

// NewTransactionContext validates the context and computes its canonical
// SHA-256 hash.
func NewTransactionContext(amount decimal.Decimal, currency, merchantID, orderID, description string) (TransactionContext, error) {
	if amount.IsNegative() || amount.IsZero() {
		return TransactionContext{}, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return TransactionContext{}, dErrors.New(dErrors.CodeValidation, "currency must be a 3-letter ISO code")
	}
	if strings.TrimSpace(merchantID) == "" {
		return TransactionContext{}, dErrors.New(dErrors.CodeValidation, "merchant id is required")
	}
	if strings.TrimSpace(orderID) == "" {
		return TransactionContext{}, dErrors.New(dErrors.CodeValidation, "order id is required")
	}

	ctx := TransactionContext{
		Amount:      amount,
		Currency:    currency,
		MerchantID:  merchantID,
		OrderID:     orderID,
		Description: description,
	}
	ctx.Hash = ctx.canonicalHash()
	return ctx, nil
}

func (c TransactionContext) canonicalHash() string {
	canonical, _ := json.Marshal(canonicalContext{
		Amount:      c.Amount.String(),
		Currency:    c.Currency,
		MerchantID:  c.MerchantID,
		OrderID:     c.OrderID,
		Description: c.Description,
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// VerifyHash recomputes the canonical hash and compares it to the stored one.
func (c TransactionContext) VerifyHash() bool {
	return c.Hash == c.canonicalHash()
}
