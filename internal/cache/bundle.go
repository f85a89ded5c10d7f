// Package cache implements the Cache Store (C2) and Cache Populator (C3):
// a per-customer, file-backed bundle of frequently-read banking data with a
// bounded TTL, atomic writes, and in-flight populate coalescing.
package cache

import "time"

// Money mirrors the data services' money representation: a decimal amount
// in minor-unit-free string form plus currency code, so the core never
// performs its own rounding.
type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Account is one bank account returned by the accounts service.
type Account struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	Balance    Money  `json:"balance"`
	HolderName string `json:"holder_name"`
}

// Transaction is one entry of the last-N-transactions slice.
type Transaction struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
	Amount      Money  `json:"amount"`
}

// Beneficiary is one saved payee.
type Beneficiary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
}

// LimitInfo carries the primary account's transfer limits.
type LimitInfo struct {
	PerTransaction Money `json:"per_transaction"`
	Daily          Money `json:"daily"`
	RemainingToday Money `json:"remaining_today"`
}

// BundleData is the assembled payload of a CacheBundle.
type BundleData struct {
	Accounts           []Account     `json:"accounts"`
	PrimaryBalance     Money         `json:"primary_balance"`
	LastNTransactions  []Transaction `json:"last_n_transactions"`
	Beneficiaries      []Beneficiary `json:"beneficiaries"`
	Limits             LimitInfo     `json:"limits"`
}

// Bundle is the per-customer cache payload, owned exclusively by the Cache
// Store for one customer.
type Bundle struct {
	CustomerID string     `json:"customer_id"`
	CreatedAt  time.Time  `json:"created_at"`
	TTLSeconds int64      `json:"ttl_seconds"`
	Data       BundleData `json:"data"`
}

// Expiry returns created_at + ttl_seconds, the instant this bundle stops
// being valid.
func (b Bundle) Expiry() time.Time {
	return b.CreatedAt.Add(time.Duration(b.TTLSeconds) * time.Second)
}

// Valid reports whether the bundle has not yet expired as of now.
func (b Bundle) Valid(now time.Time) bool {
	return now.Before(b.Expiry())
}

// BundleTTL is the fixed TTL assigned to every freshly populated bundle
//: 300 seconds absolute from created_at.
const BundleTTL = 300 * time.Second

// LastNTransactions is the fixed size of the transaction slice kept per
// bundle.
const LastNTransactions = 5
