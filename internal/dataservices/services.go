package dataservices

import "context"

// Money is the wire shape data services report amounts in.
type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Account is one entry of the accounts service's response.
type Account struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	Balance    Money  `json:"balance"`
	HolderName string `json:"holder_name"`
}

// Transaction is one entry of the transactions service's response.
type Transaction struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
	Amount      Money  `json:"amount"`
}

// Beneficiary is one entry of the contacts service's response.
type Beneficiary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Limits is the limits service's response shape.
type Limits struct {
	PerTransaction Money `json:"per_transaction"`
	Daily          Money `json:"daily"`
	RemainingToday Money `json:"remaining_today"`
}

// Services bundles the four downstream data-service clients the Cache
// Populator (C3) drives.
type Services struct {
	Accounts     *Client
	Transactions *Client
	Contacts     *Client
	Limits       *Client
}

// ListAccounts fetches the account list for a customer's email.
func (s *Services) ListAccounts(ctx context.Context, email string) ([]Account, error) {
	var resp struct {
		Accounts []Account `json:"accounts"`
	}
	if err := s.Accounts.Call(ctx, "list_accounts", map[string]string{"email": email}, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// RecentTransactions fetches the last n transactions on accountID.
func (s *Services) RecentTransactions(ctx context.Context, accountID string, n int) ([]Transaction, error) {
	var resp struct {
		Transactions []Transaction `json:"transactions"`
	}
	args := map[string]any{"account_id": accountID, "limit": n}
	if err := s.Transactions.Call(ctx, "recent_transactions", args, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Beneficiaries fetches the saved payees on accountID.
func (s *Services) Beneficiaries(ctx context.Context, accountID string) ([]Beneficiary, error) {
	var resp struct {
		Beneficiaries []Beneficiary `json:"beneficiaries"`
	}
	args := map[string]string{"account_id": accountID}
	if err := s.Contacts.Call(ctx, "list_beneficiaries", args, &resp); err != nil {
		return nil, err
	}
	return resp.Beneficiaries, nil
}

// AccountLimits fetches transfer limits on accountID.
func (s *Services) AccountLimits(ctx context.Context, accountID string) (Limits, error) {
	var limits Limits
	args := map[string]string{"account_id": accountID}
	if err := s.Limits.Call(ctx, "get_limits", args, &limits); err != nil {
		return Limits{}, err
	}
	return limits, nil
}
