package zklink

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/core/state"
	"omnipool/native/pool"
)

func TestGatewayQueuesDeposits(t *testing.T) {
	journal := state.NewJournal(nil)
	gw := NewGateway(common.HexToAddress("0xc0"), journal)
	var ref [32]byte
	ref[31] = 0x07

	for i := int64(1); i <= 2; i++ {
		err := gw.DepositToSpot(context.Background(), pool.SpotDeposit{
			From:    common.HexToAddress("0xf0"),
			User:    common.HexToAddress("0x03"),
			Asset:   common.HexToAddress("0xaa"),
			Amount:  big.NewInt(100 * i),
			DestRef: ref,
		})
		if err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	count, err := gw.Count()
	if err != nil || count != 2 {
		t.Fatalf("expected two deposits, got %d err %v", count, err)
	}
	dep, err := gw.Deposit(1)
	if err != nil {
		t.Fatalf("load deposit: %v", err)
	}
	if dep.Sequence != 1 || dep.Amount.Cmp(big.NewInt(200)) != 0 || dep.DestRef != ref || dep.User != common.HexToAddress("0x03") {
		t.Fatalf("unexpected deposit %+v", dep)
	}
	if _, err := gw.Deposit(5); err == nil {
		t.Fatalf("expected missing deposit to fail")
	}
}

func TestGatewayRevertsWithJournal(t *testing.T) {
	journal := state.NewJournal(nil)
	gw := NewGateway(common.HexToAddress("0xc0"), journal)
	var ref [32]byte
	ref[0] = 0x01

	snap := journal.Snapshot()
	if err := gw.DepositToSpot(context.Background(), pool.SpotDeposit{Amount: big.NewInt(1), DestRef: ref}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	journal.RevertToSnapshot(snap)
	if count, _ := gw.Count(); count != 0 {
		t.Fatalf("expected reverted deposit to disappear, count %d", count)
	}
}

func TestGatewayRejectsInvalidDeposits(t *testing.T) {
	gw := NewGateway(common.HexToAddress("0xc0"), state.NewJournal(nil))
	var ref [32]byte
	ref[0] = 0x01
	if err := gw.DepositToSpot(context.Background(), pool.SpotDeposit{Amount: big.NewInt(0), DestRef: ref}); err == nil {
		t.Fatalf("expected zero amount to fail")
	}
	if err := gw.DepositToSpot(context.Background(), pool.SpotDeposit{Amount: big.NewInt(1)}); err == nil {
		t.Fatalf("expected missing destination to fail")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gw.DepositToSpot(ctx, pool.SpotDeposit{Amount: big.NewInt(1), DestRef: ref}); err == nil {
		t.Fatalf("expected cancelled context to fail")
	}
	var unset *Gateway
	if _, err := unset.Count(); err == nil {
		t.Fatalf("expected nil gateway to fail")
	}
}
