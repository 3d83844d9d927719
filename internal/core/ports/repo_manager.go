package ports

import "github.com/arkade-os/escrowd/internal/core/domain"

type RepoManager interface {
	Claims() domain.ClaimRepository
	Transactions() domain.TransactionRepository
	Accounts() domain.AccountRepository
	Close()
}
