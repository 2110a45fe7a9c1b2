package model

import "time"

// CreditAccount holds a user's spendable balance in two pools. Subscription
// credits reset on renewal, purchased credits never expire, so deductions
// drain the subscription pool first.
type CreditAccount struct {
	OwnerID             string `json:"ownerId"`
	CreditsBalance      int    `json:"creditsBalance"`
	SubscriptionCredits int    `json:"subscriptionCredits"`
	PurchasedCredits    int    `json:"purchasedCredits"`
}

// CreditTransaction is one row of the append-only audit trail. Rows are never
// updated or deleted.
type CreditTransaction struct {
	ID              string            `json:"id"`
	OwnerID         string            `json:"ownerId"`
	Amount          int               `json:"amount"` // signed: negative for deductions
	TransactionType TransactionType   `json:"transactionType"`
	Description     string            `json:"description"`
	BalanceAfter    int               `json:"balanceAfter"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// SplitDeduction computes how a deduction drains the two pools: subscription
// credits first, purchased credits for the remainder. Returns the new pool
// values and false when the combined balance cannot cover the amount, in
// which case the pools are returned unchanged: a deduction never partially
// succeeds.
func SplitDeduction(subscription, purchased, amount int) (newSub, newPur int, ok bool) {
	if amount <= 0 || subscription+purchased < amount {
		return subscription, purchased, false
	}
	fromSub := amount
	if fromSub > subscription {
		fromSub = subscription
	}
	return subscription - fromSub, purchased - (amount - fromSub), true
}

// PoolForAddition routes a credit grant to a pool by transaction type:
// purchases and refunds restore paid credits, renewals top up the
// subscription pool.
func PoolForAddition(t TransactionType) (subscription bool, ok bool) {
	switch t {
	case TransactionPurchase, TransactionRefund:
		return false, true
	case TransactionSubscriptionRenewal:
		return true, true
	}
	return false, false
}

// DeductRequest is the body for POST /api/credits/deduct
type DeductRequest struct {
	Amount      int               `json:"amount" validate:"required,gt=0"`
	Description string            `json:"description" validate:"required,max=500"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AddRequest is the body for POST /api/credits/add
type AddRequest struct {
	Amount          int               `json:"amount" validate:"required,gt=0"`
	TransactionType TransactionType   `json:"transactionType" validate:"required,oneof=purchase refund subscription_renewal"`
	Description     string            `json:"description" validate:"required,max=500"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// BalanceMutationResponse is returned by deduct and add.
type BalanceMutationResponse struct {
	Success    bool `json:"success"`
	NewBalance int  `json:"newBalance"`
}
