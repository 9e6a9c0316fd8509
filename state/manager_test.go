package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"otcdesk/native/otc"
	"otcdesk/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestDeskRoundTrip(t *testing.T) {
	m := newTestManager(t)

	_, ok, err := m.DeskGet()
	require.NoError(t, err)
	require.False(t, ok)

	desk := &otc.Desk{
		Owner:                       addr(0x01),
		Agent:                       addr(0x02),
		Vault:                       addr(0x03),
		Approvers:                   [][20]byte{addr(0x04), addr(0x05)},
		RequiredApprovals:           2,
		MinUsdAmount8:               5_0000_0000,
		MaxTokenPerOrder:            big.NewInt(1_000_000),
		QuoteExpirySecs:             900,
		MaxLockupSecs:               86_400,
		MaxPriceAgeSecs:             7200,
		ManualPriceMaxAgeSecs:       3600,
		EmergencyRefundEnabled:      true,
		EmergencyRefundDeadlineSecs: 1000,
		AdminRecoverySecs:           5000,
		NativeDecimals:              18,
		StableDecimals:              6,
		NextConsignmentID:           7,
		NextOfferID:                 11,
	}
	require.NoError(t, m.DeskPut(desk))

	loaded, ok, err := m.DeskGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, desk, loaded)
}

func TestConsignmentRoundTrip(t *testing.T) {
	m := newTestManager(t)

	consignment := &otc.Consignment{
		ID:                    3,
		Token:                 "TKN",
		Consigner:             addr(0x10),
		TotalAmount:           big.NewInt(1000),
		RemainingAmount:       big.NewInt(400),
		Negotiable:            true,
		MinDiscountBps:        500,
		MaxDiscountBps:        2000,
		MinLockupDays:         7,
		MaxLockupDays:         90,
		MinDealAmount:         big.NewInt(10),
		MaxDealAmount:         big.NewInt(500),
		Fractionalized:        true,
		Private:               true,
		AllowList:             [][20]byte{addr(0x20)},
		MaxPriceVolatilityBps: 500,
		MaxTimeToExecuteSecs:  3600,
		Active:                true,
		CreatedAt:             1_000_000,
	}
	require.NoError(t, m.ConsignmentPut(consignment))

	loaded, ok, err := m.ConsignmentGet(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, consignment, loaded)

	_, ok, err = m.ConsignmentGet(99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOfferRoundTrip(t *testing.T) {
	m := newTestManager(t)

	offer := &otc.Offer{
		ID:                   5,
		ConsignmentID:        3,
		Token:                "TKN",
		Beneficiary:          addr(0x20),
		TokenAmount:          big.NewInt(400),
		DiscountBps:          1000,
		CreatedAt:            1_000_000,
		LockupSecs:           30 * 86_400,
		UnlockTime:           1_000_000 + 30*86_400,
		PaidAt:               1_000_500,
		PriceUsd8:            2_0000_0000,
		RefPriceUsd8:         5_0000_0000,
		MaxPriceDeviationBps: 500,
		Currency:             otc.CurrencyNative,
		Approvals:            [][20]byte{addr(0x04), addr(0x05)},
		Approved:             true,
		Paid:                 true,
		Payer:                addr(0x21),
		AmountPaid:           big.NewInt(123456),
	}
	require.NoError(t, m.OfferPut(offer))

	loaded, ok, err := m.OfferGet(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, offer, loaded)
}

func TestInventoryRoundTrip(t *testing.T) {
	m := newTestManager(t)
	inv := &otc.TokenInventory{Token: "TKN", Deposited: big.NewInt(1000), Reserved: big.NewInt(400)}
	require.NoError(t, m.InventoryPut(inv))

	loaded, ok, err := m.InventoryGet("TKN")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, inv, loaded)
}

func TestOpenOffersRoundTrip(t *testing.T) {
	m := newTestManager(t)

	ids, err := m.OpenOffersGet()
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, m.OpenOffersPut([]uint64{3, 1, 2}))
	ids, err = m.OpenOffersGet()
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 1, 2}, ids)
}

func TestBeneficiaryOffersRoundTrip(t *testing.T) {
	m := newTestManager(t)
	beneficiary := addr(0x20)

	require.NoError(t, m.BeneficiaryOffersPut(beneficiary, []uint64{1, 2}))
	ids, err := m.BeneficiaryOffersGet(beneficiary)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, ids)

	other, err := m.BeneficiaryOffersGet(addr(0x30))
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager(t)
	holder := addr(0x40)

	account, err := m.Account(holder)
	require.NoError(t, err)
	require.Zero(t, account.Nonce)
	require.Empty(t, account.Balances)

	account.Nonce = 3
	account.SetBalance("TKN", big.NewInt(1000))
	account.SetBalance(otc.AssetStable, big.NewInt(250))
	require.NoError(t, m.PutAccount(holder, account))

	loaded, err := m.Account(holder)
	require.NoError(t, err)
	require.Equal(t, uint64(3), loaded.Nonce)
	require.Equal(t, big.NewInt(1000), loaded.Balance("TKN"))
	require.Equal(t, big.NewInt(250), loaded.Balance(otc.AssetStable))
}

func TestTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)
	token := &otc.TokenRegistration{
		Symbol:    "TKN",
		Decimals:  9,
		FeedID:    "feed-tkn",
		Active:    true,
		CreatedAt: 1_000_000,
	}
	require.NoError(t, m.TokenPut(token))

	loaded, ok, err := m.TokenGet("TKN")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, token, loaded)
}
