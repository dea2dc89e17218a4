package gachaverse

import "encoding/json"

// addressRequest is the minimal payload shape shared by RPCs that only need
// the caller's wallet address.
type addressRequest struct {
	Address string `json:"address"`
}

// decodeAddressPayload parses a payload carrying only a wallet address and
// returns it normalized.
func decodeAddressPayload(payload string) (string, error) {
	request := &addressRequest{}
	if err := json.Unmarshal([]byte(payload), request); err != nil {
		return "", ErrPayloadDecode
	}
	return NormalizeAddress(request.Address)
}

// admit charges one attempt against the account's window for an operation
// class. Read-only RPCs skip it.
func admit(g Gachaverse, class, address string) error {
	limiter := g.GetRateLimiter()
	if limiter == nil {
		return nil
	}
	if allowed, _ := limiter.Allow(class, address); !allowed {
		return ErrRateLimited
	}
	return nil
}

func encodeResponse(response any) (string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return "", ErrPayloadEncode
	}
	return string(data), nil
}
