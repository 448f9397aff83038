package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Solvency compares the pool instance's custodied holdings of asset with the
// sum of its pool, user and fee balances.
func (e *Engine) Solvency(asset common.Address) (SolvencyReport, error) {
	if err := e.ready(); err != nil {
		return SolvencyReport{}, err
	}
	report := SolvencyReport{Asset: asset, Users: new(big.Int)}
	var err error
	if report.Custodied, err = e.assets.BalanceOf(e.instance, asset); err != nil {
		return SolvencyReport{}, fmt.Errorf("pool: custodied %s: %w", asset.Hex(), err)
	}
	if report.Pool, err = e.PoolBalance(asset); err != nil {
		return SolvencyReport{}, err
	}
	if report.Fee, err = e.FeeBalance(asset); err != nil {
		return SolvencyReport{}, err
	}
	users, err := e.Users(asset)
	if err != nil {
		return SolvencyReport{}, err
	}
	for _, user := range users {
		bal, err := e.UserBalance(user, asset)
		if err != nil {
			return SolvencyReport{}, err
		}
		report.Users.Add(report.Users, bal)
	}
	return report, nil
}

// SolvencyAll reports every tracked asset.
func (e *Engine) SolvencyAll() ([]SolvencyReport, error) {
	assets, err := e.TrackedAssets()
	if err != nil {
		return nil, err
	}
	reports := make([]SolvencyReport, 0, len(assets))
	for _, asset := range assets {
		report, err := e.Solvency(asset)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
