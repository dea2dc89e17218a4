package gachaverse

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRpcAccountRegister(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	handler := rpcAccountRegister(gv)

	payload := fmt.Sprintf(`{"address":%q}`, "0xABCDEF1234567890ABCDEF1234567890ABCDEF12")
	out, err := handler(context.Background(), &mockLogger{}, nil, nk, payload)
	require.NoError(t, err)

	response := &accountRegisterResponse{}
	require.NoError(t, json.Unmarshal([]byte(out), response))
	// The address comes back normalized to lowercase.
	assert.Equal(t, "0xabcdef1234567890abcdef1234567890abcdef12", response.Address)
	assert.Equal(t, float64(500), response.Balance)
	assert.True(t, response.IsNew)
}

func TestRpcRejectsInvalidAddress(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	handler := rpcBalanceGet(gv)

	for _, payload := range []string{
		`{"address":"not-an-address"}`,
		`{"address":"0x123"}`,
		`{"address":""}`,
	} {
		_, err := handler(context.Background(), &mockLogger{}, nil, nk, payload)
		assert.ErrorIs(t, err, ErrInvalidAddress, "payload: %s", payload)
	}
}

func TestRpcRejectsMalformedPayload(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	handler := rpcReactorHarvest(gv)

	_, err := handler(context.Background(), &mockLogger{}, nil, nk, "{not json")
	assert.ErrorIs(t, err, ErrPayloadDecode)
}

func TestRpcSpinRateLimited(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	gv.SetRateLimiter(NewWindowRateLimiter(map[string]int{RateClassSpin: 1}))
	handler := rpcGachaSpin(gv)

	payload := fmt.Sprintf(`{"address":%q}`, testAddress)
	_, err := handler(context.Background(), &mockLogger{}, nil, nk, payload)
	require.NoError(t, err)

	_, err = handler(context.Background(), &mockLogger{}, nil, nk, payload)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRpcCatalogListsDropTable(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	handler := rpcGachaCatalog(gv)

	out, err := handler(context.Background(), &mockLogger{}, nil, nk, "{}")
	require.NoError(t, err)

	response := &gachaCatalogResponse{}
	require.NoError(t, json.Unmarshal([]byte(out), response))
	assert.Len(t, response.Items, 5)
}

func TestRpcCollectionListRoundTrip(t *testing.T) {
	nk := newTestNakama()
	gv := newTestGachaverse()
	item := mintTestItem(t, gv, nk, testAddress, "Rare")
	handler := rpcCollectionList(gv)

	payload := fmt.Sprintf(`{"address":%q}`, testAddress)
	out, err := handler(context.Background(), &mockLogger{}, nil, nk, payload)
	require.NoError(t, err)

	response := &collectionListResponse{}
	require.NoError(t, json.Unmarshal([]byte(out), response))
	require.Len(t, response.Items, 1)
	assert.Equal(t, item.ID, response.Items[0].ID)
}
