package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/workmesh/workmesh/internal/shared"
)

// ErrOverdraft is returned by stores when a batch would drive a balance
// negative. The gateway maps it to shared.ErrInsufficientFunds.
var ErrOverdraft = errors.New("payments: balance overdraft")

// Gateway moves value between platform accounts, keeping the platform fee.
type Gateway struct {
	store      BalanceStore
	feeAccount Account
	feeBP      int64
	logger     *slog.Logger
}

func NewGateway(store BalanceStore, feeAccount Account, feeBasisPoints int64, logger *slog.Logger) (*Gateway, error) {
	if feeBasisPoints < 0 || feeBasisPoints > FeeBasisPointsMax {
		return nil, fmt.Errorf("payments: fee basis points out of range: %d", feeBasisPoints)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{store: store, feeAccount: feeAccount, feeBP: feeBasisPoints, logger: logger}, nil
}

// Deposit credits an account. Value enters the platform only through here.
func (g *Gateway) Deposit(ctx context.Context, acct Account, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("payments: deposit amount must be positive: %d", amount)
	}
	if err := g.store.Apply(ctx, []Entry{{Account: acct, Delta: amount}}); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// Withdraw debits an account. The off-platform payout itself happens in a
// settlement system downstream of the event log.
func (g *Gateway) Withdraw(ctx context.Context, acct Account, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("payments: withdraw amount must be positive: %d", amount)
	}
	if err := g.store.Apply(ctx, []Entry{{Account: acct, Delta: -amount}}); err != nil {
		if errors.Is(err, ErrOverdraft) {
			return fmt.Errorf("withdraw %d from %s: %w", amount, acct, shared.ErrInsufficientFunds)
		}
		return fmt.Errorf("withdraw: %w", err)
	}
	return nil
}

// Balance reports the current balance of an account.
func (g *Gateway) Balance(ctx context.Context, acct Account) (int64, error) {
	return g.store.Balance(ctx, acct)
}

// TransferWithFee moves value from payer to the destination account and
// diverts the platform fee, computed from feeBase plus additionalFee, to the
// fee account. The payer is debited the full value; the destination receives
// value minus the fee.
func (g *Gateway) TransferWithFee(ctx context.Context, payer, to Account, value, feeBase, additionalFee int64) error {
	if value < 0 || feeBase < 0 || additionalFee < 0 {
		return fmt.Errorf("payments: negative transfer parameters")
	}
	fee := Fee(feeBase, g.feeBP) + additionalFee
	if fee > value {
		return fmt.Errorf("payments: fee %d exceeds transfer value %d", fee, value)
	}

	entries := []Entry{
		{Account: payer, Delta: -value},
		{Account: to, Delta: value - fee},
	}
	if fee > 0 {
		entries = append(entries, Entry{Account: g.feeAccount, Delta: fee})
	}
	if err := g.store.Apply(ctx, entries); err != nil {
		if errors.Is(err, ErrOverdraft) {
			return fmt.Errorf("transfer %d from %s: %w", value, payer, shared.ErrInsufficientFunds)
		}
		return fmt.Errorf("transfer: %w", err)
	}
	g.logger.Debug("transfer with fee", "payer", payer, "to", to, "value", value, "fee", fee)
	return nil
}

// TransferAllAndWithdraw settles an escrow account: the payee is owed value
// minus the fee, the remainder of the account goes back to the change
// account, the fee goes to the fee account, and the source is left empty.
// With withdraw set the payee's net proceeds leave the platform in the same
// batch; without it they pool on the payee's account.
func (g *Gateway) TransferAllAndWithdraw(ctx context.Context, from, payee Account, value int64, change Account, feeBase, additionalFee int64, withdraw bool) error {
	if value < 0 || feeBase < 0 || additionalFee < 0 {
		return fmt.Errorf("payments: negative transfer parameters")
	}
	held, err := g.store.Balance(ctx, from)
	if err != nil {
		return fmt.Errorf("read escrow balance: %w", err)
	}
	if held < value {
		return fmt.Errorf("settle %d from %s holding %d: %w", value, from, held, shared.ErrInsufficientFunds)
	}
	fee := Fee(feeBase, g.feeBP) + additionalFee
	if fee > value {
		return fmt.Errorf("payments: fee %d exceeds settlement value %d", fee, value)
	}

	entries := []Entry{{Account: from, Delta: -held}}
	if net := value - fee; net > 0 {
		entries = append(entries, Entry{Account: payee, Delta: net})
		if withdraw {
			entries = append(entries, Entry{Account: payee, Delta: -net})
		}
	}
	if rest := held - value; rest > 0 {
		entries = append(entries, Entry{Account: change, Delta: rest})
	}
	if fee > 0 {
		entries = append(entries, Entry{Account: g.feeAccount, Delta: fee})
	}
	if err := g.store.Apply(ctx, entries); err != nil {
		if errors.Is(err, ErrOverdraft) {
			return fmt.Errorf("settle %s: %w", from, shared.ErrInsufficientFunds)
		}
		return fmt.Errorf("settle: %w", err)
	}
	g.logger.Debug("escrow settled",
		"from", from, "payee", payee, "value", value,
		"change", held-value, "fee", fee, "withdrawn", withdraw)
	return nil
}
