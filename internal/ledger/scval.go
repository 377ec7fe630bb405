package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ScVal is the tagged value representation contract storage entries and
// operation arguments travel in. The ledger RPC emits and accepts these as
// JSON objects with a type tag and a type-dependent value.
type ScVal struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Value type tags.
const (
	TypeSymbol  = "symbol"
	TypeU32     = "u32"
	TypeU64     = "u64"
	TypeI128    = "i128"
	TypeBytes   = "bytes"
	TypeAddress = "address"
	TypeVec     = "vec"
)

// =============================================================================
// Constructors
// =============================================================================

func SymbolVal(s string) ScVal {
	raw, _ := json.Marshal(s)
	return ScVal{Type: TypeSymbol, Value: raw}
}

func U32Val(v uint32) ScVal {
	raw, _ := json.Marshal(v)
	return ScVal{Type: TypeU32, Value: raw}
}

func U64Val(v uint64) ScVal {
	// 64-bit values travel as decimal strings to survive JSON number limits.
	raw, _ := json.Marshal(strconv.FormatUint(v, 10))
	return ScVal{Type: TypeU64, Value: raw}
}

func I128Val(v *big.Int) ScVal {
	if v == nil {
		v = new(big.Int)
	}
	raw, _ := json.Marshal(v.String())
	return ScVal{Type: TypeI128, Value: raw}
}

func BytesVal(b []byte) ScVal {
	raw, _ := json.Marshal(hex.EncodeToString(b))
	return ScVal{Type: TypeBytes, Value: raw}
}

func AddressVal(addr string) ScVal {
	raw, _ := json.Marshal(addr)
	return ScVal{Type: TypeAddress, Value: raw}
}

func VecVal(items ...ScVal) ScVal {
	raw, _ := json.Marshal(items)
	return ScVal{Type: TypeVec, Value: raw}
}

// =============================================================================
// Parsers
// =============================================================================

// ParseSymbol extracts a symbol string from a ScVal.
func ParseSymbol(v ScVal) (string, error) {
	if v.Type != TypeSymbol {
		return "", fmt.Errorf("unexpected type for symbol: %s", v.Type)
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return "", err
	}
	return s, nil
}

// ParseAddress extracts an account identifier from a ScVal.
func ParseAddress(v ScVal) (string, error) {
	if v.Type != TypeAddress && v.Type != TypeSymbol {
		return "", fmt.Errorf("unexpected type for address: %s", v.Type)
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("empty address")
	}
	return s, nil
}

// ParseU64 extracts an unsigned 64-bit integer. Accepts both JSON numbers
// and decimal strings; older ledger clients emit either.
func ParseU64(v ScVal) (uint64, error) {
	if v.Type != TypeU64 && v.Type != TypeU32 {
		return 0, fmt.Errorf("unexpected type for u64: %s", v.Type)
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		return strconv.ParseUint(s, 10, 64)
	}
	var n uint64
	if err := json.Unmarshal(v.Value, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// ParseI128 extracts a 128-bit signed integer as a big.Int.
func ParseI128(v ScVal) (*big.Int, error) {
	if v.Type != TypeI128 && v.Type != TypeU64 && v.Type != TypeU32 {
		return nil, fmt.Errorf("unexpected type for i128: %s", v.Type)
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return n, nil
	}
	var n int64
	if err := json.Unmarshal(v.Value, &n); err != nil {
		return nil, err
	}
	return big.NewInt(n), nil
}

// ParseBytes extracts a byte string. Hex is canonical; a 0x prefix is
// tolerated for client-supplied values.
func ParseBytes(v ScVal) ([]byte, error) {
	if v.Type != TypeBytes {
		return nil, fmt.Errorf("unexpected type for bytes: %s", v.Type)
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return nil, err
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// ParseVec extracts the elements of a vec ScVal.
func ParseVec(v ScVal) ([]ScVal, error) {
	if v.Type != TypeVec {
		return nil, fmt.Errorf("unexpected type for vec: %s", v.Type)
	}
	var items []ScVal
	if err := json.Unmarshal(v.Value, &items); err != nil {
		return nil, fmt.Errorf("unmarshal vec: %w", err)
	}
	return items, nil
}
