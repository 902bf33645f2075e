package chain_test

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-pines/frog/internal/chain"
	"github.com/the-pines/frog/internal/chain/chaintest"
)

var (
	executor = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	usdcAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func TestArtifactsExposeMethods(t *testing.T) {
	cases := []struct {
		name    string
		abi     *abi.ABI
		methods []string
	}{
		{"erc20", chain.ERC20ABI, []string{"allowance", "balanceOf", "decimals", "symbol", "approve", "transferFrom"}},
		{"vault", chain.VaultABI, []string{"WSTETH", "depositWstETHFor", "withdrawSplitToETH", "setRouterAllowed", "canWithdraw"}},
		{"factory", chain.FactoryABI, []string{"createVault"}},
		{"points", chain.PointsABI, []string{"balanceOf", "decimals"}},
		{"leaderboard", chain.LeaderboardABI, []string{"TOPK", "topAt", "mint"}},
	}
	for _, tc := range cases {
		for _, m := range tc.methods {
			_, ok := tc.abi.Methods[m]
			assert.True(t, ok, "%s missing %s", tc.name, m)
		}
	}
	_, ok := chain.FactoryABI.Events["VaultCreated"]
	assert.True(t, ok)
}

func TestParseArtifactErrors(t *testing.T) {
	_, err := chain.ParseArtifact([]byte(`not json`))
	assert.Error(t, err)

	_, err = chain.ParseArtifact([]byte(`{"contractName":"X"}`))
	assert.Error(t, err)

	parsed, err := chain.ParseArtifact([]byte(`{"abi":[{"type":"function","name":"ping","inputs":[],"outputs":[],"stateMutability":"view"}]}`))
	require.NoError(t, err)
	assert.Contains(t, parsed.Methods, "ping")
}

func TestERC20TransferFrom(t *testing.T) {
	fake := chaintest.New(executor)
	usdc := fake.InstallToken(usdcAddr, "USDC", 6)
	usdc.SetBalance(alice, big.NewInt(100))
	usdc.SetAllowance(alice, executor, big.NewInt(60))

	token := chain.NewERC20(fake, usdcAddr)
	ctx := context.Background()

	dec, err := token.Decimals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), dec)

	res, err := token.TransferFrom(ctx, alice, treasury, big.NewInt(50))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, res.Hash)

	bal, err := token.BalanceOf(ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal.Int64())

	allowance, err := token.Allowance(ctx, alice, executor)
	require.NoError(t, err)
	assert.Equal(t, int64(10), allowance.Int64())

	// allowance now short: mined but reverted
	res, err = token.TransferFrom(ctx, alice, treasury, big.NewInt(50))
	require.ErrorIs(t, err, chain.ErrTxReverted)
	require.NotNil(t, res)
	assert.Equal(t, types.ReceiptStatusFailed, res.Receipt.Status)
}

func TestFactoryCreatedVault(t *testing.T) {
	fake := chaintest.New(executor)
	factoryAddr := common.HexToAddress("0x00000000000000000000000000000000000000fa")
	stub := fake.InstallFactory(factoryAddr, nil)
	factory := chain.NewVaultFactory(fake, factoryAddr)

	res, err := factory.CreateVault(context.Background(), alice, executor, 1_900_000_000, big.NewInt(1e18), "Holiday")
	require.NoError(t, err)

	vault, err := factory.CreatedVault(res.Receipt)
	require.NoError(t, err)
	require.Len(t, stub.Created, 1)
	assert.Equal(t, stub.Created[0], vault)
}

func TestFactoryCreatedVaultIgnoresForeignLogs(t *testing.T) {
	factoryAddr := common.HexToAddress("0x00000000000000000000000000000000000000fa")
	factory := chain.NewVaultFactory(chaintest.New(executor), factoryAddr)
	event := chain.FactoryABI.Events["VaultCreated"]

	receipt := &types.Receipt{Logs: []*types.Log{{
		Address: common.HexToAddress("0xbad"),
		Topics:  []common.Hash{event.ID, common.BytesToHash(alice.Bytes()), common.BytesToHash(treasury.Bytes())},
	}}}
	_, err := factory.CreatedVault(receipt)
	assert.ErrorIs(t, err, chain.ErrVaultNotCreated)

	_, err = factory.CreatedVault(nil)
	assert.ErrorIs(t, err, chain.ErrVaultNotCreated)
}

func TestPackWithdrawSplitToETH(t *testing.T) {
	data, err := chain.PackWithdrawSplitToETH(big.NewInt(10), common.HexToAddress("0x00000000000000000000000000000000000000d0"), []byte{0xde, 0xad}, big.NewInt(1))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, chain.VaultABI.Methods["withdrawSplitToETH"].ID))
}

func TestLeaderboardMintAndRank(t *testing.T) {
	fake := chaintest.New(executor)
	lbAddr := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	pointsAddr := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	pts := fake.InstallToken(pointsAddr, "FROG", 18)
	fake.InstallLeaderboard(lbAddr, pts, 10)

	lb := chain.NewLeaderboard(fake, lbAddr)
	ctx := context.Background()
	_, err := lb.Mint(ctx, alice, big.NewInt(5))
	require.NoError(t, err)
	_, err = lb.Mint(ctx, treasury, big.NewInt(9))
	require.NoError(t, err)

	k, err := lb.TopK(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), k.Int64())

	user, amount, err := lb.TopAt(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, treasury, user)
	assert.Equal(t, int64(9), amount.Int64())

	bal, err := chain.NewPointsToken(fake, pointsAddr).BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal.Int64())
}
