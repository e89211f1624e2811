package horizon

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Asset type names.
const (
	AssetTypeNative      = "native"
	AssetTypeCreditAlp4  = "credit_alphanum4"
	AssetTypeCreditAlp12 = "credit_alphanum12"
)

// Asset identifies a ledger asset.
type Asset struct {
	Type   string `json:"asset_type"`
	Code   string `json:"asset_code,omitempty"`
	Issuer string `json:"asset_issuer,omitempty"`
}

// NativeAsset returns the ledger's native asset.
func NativeAsset() Asset {
	return Asset{Type: AssetTypeNative}
}

// CreditAsset returns an issued asset, picking the type from the code length.
func CreditAsset(code, issuer string) Asset {
	t := AssetTypeCreditAlp4
	if len(code) > 4 {
		t = AssetTypeCreditAlp12
	}
	return Asset{Type: t, Code: code, Issuer: issuer}
}

// IsNative reports whether a is the native asset.
func (a Asset) IsNative() bool {
	return a.Type == AssetTypeNative
}

// String returns "native" or "CODE:ISSUER".
func (a Asset) String() string {
	if a.IsNative() {
		return AssetTypeNative
	}
	return a.Code + ":" + a.Issuer
}

// ParseAsset parses the String form.
func ParseAsset(s string) (Asset, error) {
	if s == AssetTypeNative || s == "XLM" {
		return NativeAsset(), nil
	}
	code, issuer, ok := strings.Cut(s, ":")
	if !ok || code == "" || issuer == "" || len(code) > 12 {
		return Asset{}, fmt.Errorf("invalid asset %q", s)
	}
	return CreditAsset(code, issuer), nil
}

// Balance is one account balance line.
type Balance struct {
	Asset
	Balance            string `json:"balance"`
	Limit              string `json:"limit,omitempty"`
	BuyingLiabilities  string `json:"buying_liabilities,omitempty"`
	SellingLiabilities string `json:"selling_liabilities,omitempty"`
}

// Signer is an account signer.
type Signer struct {
	Key    string `json:"key"`
	Weight int    `json:"weight"`
	Type   string `json:"type"`
}

// Thresholds are the signature weight thresholds of an account.
type Thresholds struct {
	Low    int `json:"low_threshold"`
	Medium int `json:"med_threshold"`
	High   int `json:"high_threshold"`
}

// Account is an account record.
type Account struct {
	ID                 string            `json:"id"`
	AccountID          string            `json:"account_id"`
	Sequence           string            `json:"sequence"`
	SubentryCount      int               `json:"subentry_count"`
	LastModifiedLedger int64             `json:"last_modified_ledger"`
	LastModifiedTime   *time.Time        `json:"last_modified_time,omitempty"`
	Thresholds         Thresholds        `json:"thresholds"`
	Balances           []Balance         `json:"balances"`
	Signers            []Signer          `json:"signers"`
	Data               map[string]string `json:"data,omitempty"`
	PagingToken        string            `json:"paging_token"`
}

// Effect is one effect record. Raw keeps the full JSON for consumers that
// need type-specific fields.
type Effect struct {
	ID          string          `json:"id"`
	PagingToken string          `json:"paging_token"`
	Account     string          `json:"account"`
	Type        string          `json:"type"`
	TypeI       int             `json:"type_i"`
	CreatedAt   time.Time       `json:"created_at"`
	Raw         json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the raw record.
func (e *Effect) UnmarshalJSON(data []byte) error {
	type plain Effect
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Effect(p)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Price is a rational price.
type Price struct {
	N int64 `json:"n"`
	D int64 `json:"d"`
}

// Offer is an open order.
type Offer struct {
	ID                 string     `json:"id"`
	PagingToken        string     `json:"paging_token"`
	Seller             string     `json:"seller"`
	Selling            Asset      `json:"selling"`
	Buying             Asset      `json:"buying"`
	Amount             string     `json:"amount"`
	PriceR             Price      `json:"price_r"`
	Price              string     `json:"price"`
	LastModifiedLedger int64      `json:"last_modified_ledger"`
	LastModifiedTime   *time.Time `json:"last_modified_time,omitempty"`
}

// Transaction is a transaction record.
type Transaction struct {
	ID             string    `json:"id"`
	PagingToken    string    `json:"paging_token"`
	Successful     bool      `json:"successful"`
	Hash           string    `json:"hash"`
	Ledger         int64     `json:"ledger"`
	CreatedAt      time.Time `json:"created_at"`
	SourceAccount  string    `json:"source_account"`
	FeeCharged     string    `json:"fee_charged"`
	OperationCount int       `json:"operation_count"`
	MemoType       string    `json:"memo_type"`
	Memo           string    `json:"memo,omitempty"`
}

// PriceLevel is one side entry of an order book.
type PriceLevel struct {
	PriceR Price  `json:"price_r"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// Orderbook is an order book summary.
type Orderbook struct {
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
	Base    Asset        `json:"base"`
	Counter Asset        `json:"counter"`
}

// page is a cursor-paginated collection.
type page[T any] struct {
	Embedded struct {
		Records []T `json:"records"`
	} `json:"_embedded"`
}

// Order is the sort order of a collection request.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// PageRequest selects a slice of a collection.
type PageRequest struct {
	Cursor string
	Limit  int
	Order  Order
}
