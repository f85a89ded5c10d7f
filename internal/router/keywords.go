package router

// cacheableIntent names the four message classes the router can answer
// directly from the cache bundle.
type cacheableIntent string

const (
	intentBalance            cacheableIntent = "balance"
	intentRecentTransactions cacheableIntent = "recent_transactions"
	intentLimits             cacheableIntent = "limits"
	intentAccountDetails     cacheableIntent = "account_details"
)

var cacheableKeywords = map[cacheableIntent][]string{
	intentBalance:            {"balance", "how much", "available funds"},
	intentRecentTransactions: {"recent transactions", "last transactions", "latest transactions"},
	intentLimits:             {"limit", "daily limit", "per-transaction limit"},
	intentAccountDetails:     {"account details", "account info", "my account"},
}

// writeIntentKeywords never short-circuit from cache, even when they also
// match a cacheable keyword above.
var writeIntentKeywords = []string{
	"payment", "transfer", "send money", "pay ",
}

// Categories are the closed enum of classifier outcomes.
const (
	CategoryAccount     = "account"
	CategoryTransaction = "transaction"
	CategoryPayment     = "payment"
	CategoryProductInfo = "product-info"
	CategoryMoneyCoach  = "money-coach"
	CategoryEscalation  = "escalation"
	CategoryUnknown     = "unknown"
)

// categoryKeywords assigns a weight to each keyword within a category; the
// keyword classifier sums weighted occurrences per category.
var categoryKeywords = map[string]map[string]int{
	CategoryAccount: {
		"account": 1, "balance": 2, "statement": 1, "my account": 2,
	},
	CategoryTransaction: {
		"transaction": 2, "transactions": 2, "history": 1, "spent": 1, "purchase": 1,
	},
	CategoryPayment: {
		"payment": 2, "transfer": 2, "send money": 2, "pay": 1, "beneficiary": 1,
	},
	CategoryProductInfo: {
		"loan": 2, "credit card": 2, "interest rate": 2, "product": 1, "apply": 1,
	},
	CategoryMoneyCoach: {
		"budget": 2, "save": 1, "savings": 1, "advice": 1, "money situation": 1, "financial": 1,
	},
	CategoryEscalation: {
		"complaint": 2, "fraud": 2, "dispute": 2, "speak to a human": 2, "agent": 1, "escalate": 2,
	},
}

// minTopScore is the minimum winning score for the keyword classifier to
// commit; below this it falls through to the LLM classifier.
const minTopScore = 2
