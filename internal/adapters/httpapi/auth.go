package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Cabeceras de una petición firmada. La firma es personal_sign (EIP-191) del
// firmante de X-Caller sobre SigningPayload.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderSignature = "X-Signature"

	defaultSkew = 2 * time.Minute
)

type callerKey struct{}

// SigningPayload es el mensaje que firma el cliente: método, path, timestamp,
// nonce y body, separados por salto de línea.
func SigningPayload(method, path, timestamp, nonce string, body []byte) []byte {
	var b bytes.Buffer
	for _, part := range []string{method, path, timestamp, nonce} {
		b.WriteString(part)
		b.WriteByte('\n')
	}
	b.Write(body)
	return b.Bytes()
}

// SignRequest firma r con key. body tiene que ser el mismo que lleva r.
func SignRequest(r *http.Request, body []byte, key *ecdsa.PrivateKey, at time.Time, nonce string) error {
	ts := strconv.FormatInt(at.Unix(), 10)
	sig, err := crypto.Sign(accounts.TextHash(SigningPayload(r.Method, r.URL.Path, ts, nonce, body)), key)
	if err != nil {
		return fmt.Errorf("httpapi.SignRequest: %w", err)
	}
	r.Header.Set(CallerHeader, crypto.PubkeyToAddress(key.PublicKey).Hex())
	r.Header.Set(HeaderTimestamp, ts)
	r.Header.Set(HeaderNonce, nonce)
	r.Header.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}

// verifier recupera el firmante de la petición y rechaza nonces repetidos
// dentro de la ventana de skew.
type verifier struct {
	skew time.Duration
	now  func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newVerifier(skew time.Duration, now func() time.Time) *verifier {
	if skew <= 0 {
		skew = defaultSkew
	}
	if now == nil {
		now = time.Now
	}
	return &verifier{skew: skew, now: now, seen: make(map[string]time.Time)}
}

func (v *verifier) verify(r *http.Request, body []byte) (common.Address, error) {
	caller, err := headerCaller(r)
	if err != nil {
		return common.Address{}, err
	}
	tsRaw := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	unix, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return common.Address{}, fmt.Errorf("missing or invalid %s header", HeaderTimestamp)
	}
	now := v.now()
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.skew {
		return common.Address{}, fmt.Errorf("timestamp outside allowed skew of %s", v.skew)
	}
	nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
	if nonce == "" {
		return common.Address{}, fmt.Errorf("missing %s header", HeaderNonce)
	}
	sig, err := hexutil.Decode(strings.TrimSpace(r.Header.Get(HeaderSignature)))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("missing or invalid %s header", HeaderSignature)
	}
	// las wallets devuelven v = 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(SigningPayload(r.Method, r.URL.Path, tsRaw, nonce, body)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	if crypto.PubkeyToAddress(*pub) != caller {
		return common.Address{}, errors.New("signature does not match caller")
	}
	if !v.register(caller.Hex()+"|"+tsRaw+"|"+nonce, now) {
		return common.Address{}, errors.New("nonce already used")
	}
	return caller, nil
}

func (v *verifier) register(key string, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	cutoff := now.Add(-2 * v.skew)
	for k, at := range v.seen {
		if at.Before(cutoff) {
			delete(v.seen, k)
		}
	}
	if _, dup := v.seen[key]; dup {
		return false
	}
	v.seen[key] = now
	return true
}

// authenticate verifica la firma de las peticiones que modifican estado y deja
// el firmante en el contexto.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		caller, err := s.verifier.verify(r, body)
		if err != nil {
			writeJSONError(w, http.StatusForbidden, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// caller devuelve el firmante verificado o, sin verificación, la cabecera
// X-Caller tal cual.
func (s *Server) caller(r *http.Request) (common.Address, error) {
	if s.verifier == nil {
		return headerCaller(r)
	}
	c, ok := r.Context().Value(callerKey{}).(common.Address)
	if !ok {
		return common.Address{}, errors.New("unauthenticated request")
	}
	return c, nil
}

// checkOwner exige que el firmante sea la cuenta del path. Sin verificación
// las rutas de cuenta actúan para cualquier {account}.
func (s *Server) checkOwner(r *http.Request, account common.Address) error {
	if s.verifier == nil {
		return nil
	}
	c, err := s.caller(r)
	if err != nil {
		return fmt.Errorf("%s: %w", err, domain.ErrUnauthorized)
	}
	if c != account {
		return fmt.Errorf("caller %s is not %s: %w", c.Hex(), account.Hex(), domain.ErrUnauthorized)
	}
	return nil
}
