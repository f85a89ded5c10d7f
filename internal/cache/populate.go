package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wisbric/tellerdesk/internal/dataservices"
)

// AuditFunc records an audit event during populate (cache_populate_ok/fail
// sub-events). Injected to avoid a dependency cycle with internal/audit.
type AuditFunc func(customerID, eventType string, details map[string]any)

// Populator implements the Cache Populator (C3): phase A fetches accounts
// serially; phase B fans out to transactions/beneficiaries/limits in
// parallel, each independently best-effort.
type Populator struct {
	services *dataservices.Services
	logger   *slog.Logger
	audit    AuditFunc
}

// NewPopulator creates a Populator.
func NewPopulator(services *dataservices.Services, logger *slog.Logger, audit AuditFunc) *Populator {
	return &Populator{services: services, logger: logger, audit: audit}
}

// Populate implements PopulateFunc: it assembles one customer's bundle or
// fails the populate entirely if phase A yields no accounts.
func (p *Populator) Populate(ctx context.Context, customerID, email string) (Bundle, error) {
	accounts, err := p.services.ListAccounts(ctx, email)
	if err != nil {
		p.audit(customerID, "cache_populate_fail", map[string]any{"phase": "accounts", "error": err.Error()})
		return Bundle{}, fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		p.audit(customerID, "cache_populate_fail", map[string]any{"phase": "accounts", "reason": "empty account list"})
		return Bundle{}, fmt.Errorf("accounts service returned no accounts for customer %s", customerID)
	}

	primary := accounts[0]

	var (
		transactions  []dataservices.Transaction
		beneficiaries []dataservices.Beneficiary
		limits        dataservices.Limits
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		txns, err := p.services.RecentTransactions(gctx, primary.ID, LastNTransactions)
		if err != nil {
			p.logger.Warn("populate: transactions sub-fetch failed", "customer_id", customerID, "error", err)
			p.audit(customerID, "cache_populate_fail", map[string]any{"phase": "transactions", "error": err.Error()})
			return nil // best-effort: empty placeholder, overall populate still succeeds
		}
		transactions = txns
		return nil
	})

	g.Go(func() error {
		b, err := p.services.Beneficiaries(gctx, primary.ID)
		if err != nil {
			p.logger.Warn("populate: beneficiaries sub-fetch failed", "customer_id", customerID, "error", err)
			p.audit(customerID, "cache_populate_fail", map[string]any{"phase": "beneficiaries", "error": err.Error()})
			return nil
		}
		beneficiaries = b
		return nil
	})

	g.Go(func() error {
		l, err := p.services.AccountLimits(gctx, primary.ID)
		if err != nil {
			p.logger.Warn("populate: limits sub-fetch failed", "customer_id", customerID, "error", err)
			p.audit(customerID, "cache_populate_fail", map[string]any{"phase": "limits", "error": err.Error()})
			return nil
		}
		limits = l
		return nil
	})

	// Sub-calls never fail the overall populate (each returns nil even on
	// error above), so g.Wait() only waits for them and always returns nil.
	_ = g.Wait()

	bundle := Bundle{
		CustomerID: customerID,
		CreatedAt:  time.Now(),
		TTLSeconds: int64(BundleTTL.Seconds()),
		Data: BundleData{
			Accounts:          convertAccounts(accounts),
			PrimaryBalance:    convertMoney(primary.Balance),
			LastNTransactions: convertTransactions(transactions),
			Beneficiaries:     convertBeneficiaries(beneficiaries),
			Limits:            convertLimits(limits),
		},
	}

	p.audit(customerID, "cache_populate_ok", map[string]any{"accounts": len(accounts)})
	return bundle, nil
}

func convertMoney(m dataservices.Money) Money {
	return Money{Amount: m.Amount, Currency: m.Currency}
}

func convertAccounts(in []dataservices.Account) []Account {
	out := make([]Account, len(in))
	for i, a := range in {
		out[i] = Account{ID: a.ID, Number: a.Number, Balance: convertMoney(a.Balance), HolderName: a.HolderName}
	}
	return out
}

func convertTransactions(in []dataservices.Transaction) []Transaction {
	out := make([]Transaction, len(in))
	for i, t := range in {
		out[i] = Transaction{ID: t.ID, Timestamp: t.Timestamp, Description: t.Description, Amount: convertMoney(t.Amount)}
	}
	return out
}

func convertBeneficiaries(in []dataservices.Beneficiary) []Beneficiary {
	out := make([]Beneficiary, len(in))
	for i, b := range in {
		out[i] = Beneficiary{ID: b.ID, Name: b.Name, Number: b.Number}
	}
	return out
}

func convertLimits(in dataservices.Limits) LimitInfo {
	return LimitInfo{
		PerTransaction: convertMoney(in.PerTransaction),
		Daily:          convertMoney(in.Daily),
		RemainingToday: convertMoney(in.RemainingToday),
	}
}
