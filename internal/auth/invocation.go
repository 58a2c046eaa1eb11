package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/shopspring/decimal"
)

// Invocation is the exact call a proof is bound to: the marketplace instance,
// the operation, and its arguments in canonical string form.
type Invocation struct {
	Contract models.Identity `json:"contract"`
	Function string          `json:"function"`
	Args     []string        `json:"args"`
}

// NewInvocation builds an Invocation, rendering each argument canonically.
func NewInvocation(contract models.Identity, function models.Operation, args ...any) Invocation {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = canonical(a)
	}
	return Invocation{Contract: contract, Function: string(function), Args: out}
}

func canonical(v any) string {
	switch x := v.(type) {
	case models.Identity:
		return string(x)
	case models.AssetID:
		return string(x)
	case string:
		return x
	case uint64:
		return strconv.FormatUint(x, 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case decimal.Decimal:
		return models.FormatAmount(x)
	default:
		return fmt.Sprint(x)
	}
}

// Digest is the sha256 of the invocation together with nonce. Proof schemes
// sign or embed it.
func (inv Invocation) Digest(nonce string) [32]byte {
	payload, _ := json.Marshal(struct {
		Invocation
		Nonce string `json:"nonce"`
	}{inv, nonce})
	return sha256.Sum256(payload)
}

// DigestHex is Digest rendered as lowercase hex.
func (inv Invocation) DigestHex(nonce string) string {
	d := inv.Digest(nonce)
	return hex.EncodeToString(d[:])
}

func (inv Invocation) Equal(other Invocation) bool {
	if inv.Contract != other.Contract || inv.Function != other.Function || len(inv.Args) != len(other.Args) {
		return false
	}
	for i := range inv.Args {
		if inv.Args[i] != other.Args[i] {
			return false
		}
	}
	return true
}

func (inv Invocation) String() string {
	return fmt.Sprintf("%s.%s(%s)", inv.Contract, inv.Function, strings.Join(inv.Args, ", "))
}
