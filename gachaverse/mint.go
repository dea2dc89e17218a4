package gachaverse

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/kelseyhightower/envconfig"
)

// A Minter submits token mints to an external chain endpoint.
type Minter interface {
	// Configured reports whether a real mint target is available. Callers
	// record a no_contract status instead of calling Mint when it is not.
	Configured() bool

	// Mint credits amount tokens to account and returns the transaction id.
	Mint(ctx context.Context, account string, amount int64, memo string) (string, error)
}

// mintEnv is the environment configuration for the exchange minter, read
// under the GVCOIN_ prefix.
type mintEnv struct {
	RPCURLs         []string `envconfig:"RPC_URLS"`
	ContractAddress string   `envconfig:"CONTRACT_ADDRESS"`
	MinterKey       string   `envconfig:"MINTER_KEY"`
	CallTimeoutSec  int      `envconfig:"CALL_TIMEOUT_SEC" default:"8"`
}

// endpointMinter posts mint requests to an ordered list of RPC endpoints,
// moving to the next on failure. Each call carries its own deadline so a
// hanging endpoint cannot stall the whole attempt.
type endpointMinter struct {
	endpoints   []string
	contract    string
	minterKey   string
	callTimeout time.Duration
	httpClient  *http.Client
}

// NewEnvExchangeMinter builds the exchange minter from GVCOIN_* environment
// variables. An unset contract or endpoint list yields an unconfigured
// minter, exchanges then settle with a no_contract status.
func NewEnvExchangeMinter(logger runtime.Logger) Minter {
	var env mintEnv
	if err := envconfig.Process("gvcoin", &env); err != nil {
		logger.Warn("Failed to read GVCOIN_* environment: %v", err)
	}
	if len(env.RPCURLs) == 0 || env.ContractAddress == "" {
		logger.Info("No GVCOIN contract configured, exchanges will not mint on-chain")
		return &endpointMinter{}
	}
	timeout := time.Duration(env.CallTimeoutSec) * time.Second
	return &endpointMinter{
		endpoints:   env.RPCURLs,
		contract:    env.ContractAddress,
		minterKey:   env.MinterKey,
		callTimeout: timeout,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (m *endpointMinter) Configured() bool {
	return len(m.endpoints) > 0 && m.contract != ""
}

type mintRequest struct {
	Contract  string `json:"contract"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	Memo      string `json:"memo,omitempty"`
	MinterKey string `json:"minter_key,omitempty"`
}

type mintResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

func (m *endpointMinter) Mint(ctx context.Context, account string, amount int64, memo string) (string, error) {
	if !m.Configured() {
		return "", ErrMintUnavailable
	}

	body, err := json.Marshal(&mintRequest{
		Contract:  m.contract,
		To:        account,
		Amount:    amount,
		Memo:      memo,
		MinterKey: m.minterKey,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for _, endpoint := range m.endpoints {
		txID, err := m.mintOnce(ctx, endpoint, body)
		if err == nil {
			return txID, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("all mint endpoints failed: %w", lastErr)
}

func (m *endpointMinter) mintOnce(ctx context.Context, endpoint string, body []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mint endpoint %s returned status %d", endpoint, resp.StatusCode)
	}

	var decoded mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	if decoded.TxHash == "" {
		return "", errors.New("mint endpoint returned no transaction hash")
	}
	return decoded.TxHash, nil
}

// simulatedMinter issues synthetic transaction hashes without touching any
// chain. Item claims settle through it until real NFT minting lands.
type simulatedMinter struct{}

func (simulatedMinter) Configured() bool {
	return true
}

func (simulatedMinter) Mint(ctx context.Context, account string, amount int64, memo string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw), nil
}
