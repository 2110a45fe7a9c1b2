package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deckcritic/api/internal/model"
)

const (
	fieldSubscription = "subscription_credits"
	fieldPurchased    = "purchased_credits"

	// Concurrent jobs for the same owner can race on the balance; the
	// optimistic transaction retries a few times before giving up.
	maxTxRetries = 5
)

var ErrInvalidTransactionType = errors.New("invalid transaction type")

// InsufficientCreditsError is a recoverable, user-facing condition, not a
// fault. It carries the numbers the client needs to prompt a top-up.
type InsufficientCreditsError struct {
	CurrentBalance  int
	RequiredCredits int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.CurrentBalance, e.RequiredCredits)
}

// CreditService is the ledger: two-pool balances plus an append-only
// transaction log. Every mutation writes the balance and its audit row in one
// Redis transaction keyed on the owner's account, so concurrent writers can
// never leave the trail out of step with the balance.
type CreditService struct {
	redis *redis.Client
}

func NewCreditService(redisClient *redis.Client) *CreditService {
	return &CreditService{redis: redisClient}
}

// GetBalance returns the account, or nil when the owner has none yet.
func (s *CreditService) GetBalance(ctx context.Context, ownerID string) (*model.CreditAccount, error) {
	fields, err := s.redis.HGetAll(ctx, acctKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return accountFromFields(ownerID, fields), nil
}

// Deduct drains the owner's balance, subscription credits first. Fails closed
// with InsufficientCreditsError when the combined balance cannot cover the
// amount; a deduction never partially succeeds.
func (s *CreditService) Deduct(ctx context.Context, ownerID string, amount int, description string, metadata map[string]string) (*model.BalanceMutationResponse, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deduct amount must be positive")
	}

	var newBalance int

	err := s.withAccount(ctx, ownerID, func(tx *redis.Tx, acct *model.CreditAccount) error {
		newSub, newPur, ok := model.SplitDeduction(acct.SubscriptionCredits, acct.PurchasedCredits, amount)
		if !ok {
			return &InsufficientCreditsError{
				CurrentBalance:  acct.CreditsBalance,
				RequiredCredits: amount,
			}
		}

		newBalance = newSub + newPur
		row := s.newTransaction(ownerID, -amount, model.TransactionAnalysisCharge, description, newBalance, metadata)
		return s.writeMutation(ctx, tx, ownerID, newSub, newPur, row)
	})
	if err != nil {
		return nil, err
	}

	return &model.BalanceMutationResponse{Success: true, NewBalance: newBalance}, nil
}

// Add grants credits, routed into the purchased pool for purchase/refund and
// the subscription pool for subscription_renewal.
func (s *CreditService) Add(ctx context.Context, ownerID string, amount int, txType model.TransactionType, description string, metadata map[string]string) (*model.BalanceMutationResponse, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("add amount must be positive")
	}
	toSubscription, ok := model.PoolForAddition(txType)
	if !ok {
		return nil, ErrInvalidTransactionType
	}

	var newBalance int

	err := s.withAccount(ctx, ownerID, func(tx *redis.Tx, acct *model.CreditAccount) error {
		newSub, newPur := acct.SubscriptionCredits, acct.PurchasedCredits
		if toSubscription {
			newSub += amount
		} else {
			newPur += amount
		}

		newBalance = newSub + newPur
		row := s.newTransaction(ownerID, amount, txType, description, newBalance, metadata)
		return s.writeMutation(ctx, tx, ownerID, newSub, newPur, row)
	})
	if err != nil {
		return nil, err
	}

	return &model.BalanceMutationResponse{Success: true, NewBalance: newBalance}, nil
}

// GetHistory returns transaction rows, newest first.
func (s *CreditService) GetHistory(ctx context.Context, ownerID string, limit, offset int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	raw, err := s.redis.LRange(ctx, txlogKey(ownerID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, err
	}

	transactions := make([]model.CreditTransaction, 0, len(raw))
	for _, item := range raw {
		var t model.CreditTransaction
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("corrupt transaction row: %w", err)
		}
		transactions = append(transactions, t)
	}

	return transactions, nil
}

// withAccount runs fn inside an optimistic transaction watching the owner's
// account key, retrying on concurrent modification.
func (s *CreditService) withAccount(ctx context.Context, ownerID string, fn func(tx *redis.Tx, acct *model.CreditAccount) error) error {
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, acctKey(ownerID)).Result()
		if err != nil {
			return err
		}
		return fn(tx, accountFromFields(ownerID, fields))
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.redis.Watch(ctx, txf, acctKey(ownerID))
		if err != redis.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("credit mutation for %s kept racing: %w", ownerID, err)
}

// writeMutation commits the new pool values and the audit row atomically.
// If either write cannot be queued the whole mutation fails.
func (s *CreditService) writeMutation(ctx context.Context, tx *redis.Tx, ownerID string, newSub, newPur int, row *model.CreditTransaction) error {
	rowBytes, err := json.Marshal(row)
	if err != nil {
		return err
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, acctKey(ownerID), fieldSubscription, newSub, fieldPurchased, newPur)
		pipe.LPush(ctx, txlogKey(ownerID), rowBytes)
		return nil
	})
	return err
}

func (s *CreditService) newTransaction(ownerID string, amount int, txType model.TransactionType, description string, balanceAfter int, metadata map[string]string) *model.CreditTransaction {
	return &model.CreditTransaction{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		Amount:          amount,
		TransactionType: txType,
		Description:     description,
		BalanceAfter:    balanceAfter,
		Metadata:        metadata,
		CreatedAt:       time.Now(),
	}
}

func accountFromFields(ownerID string, fields map[string]string) *model.CreditAccount {
	acct := &model.CreditAccount{OwnerID: ownerID}
	if v, ok := fields[fieldSubscription]; ok {
		acct.SubscriptionCredits, _ = strconv.Atoi(v)
	}
	if v, ok := fields[fieldPurchased]; ok {
		acct.PurchasedCredits, _ = strconv.Atoi(v)
	}
	acct.CreditsBalance = acct.SubscriptionCredits + acct.PurchasedCredits
	return acct
}

func acctKey(ownerID string) string {
	return fmt.Sprintf("credit:acct:%s", ownerID)
}

func txlogKey(ownerID string) string {
	return fmt.Sprintf("credit:txlog:%s", ownerID)
}
