package memory

import (
	"context"

	"trivia-arena-engine/internal/domain"
)

// FreeWallet approves every deduction without moving money. Demo-mode stand-in
// for the real wallet collaborator.
type FreeWallet struct{}

func NewFreeWallet() *FreeWallet {
	return &FreeWallet{}
}

func (w *FreeWallet) DeductEntryFee(_ context.Context, _ string, _ int64, _, _ string) (domain.WalletResult, error) {
	return domain.WalletResult{Success: true}, nil
}

func (w *FreeWallet) Refund(_ context.Context, _ string, _ int64, _ string) error {
	return nil
}
