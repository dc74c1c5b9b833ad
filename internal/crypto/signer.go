package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// SpotOrder(bytes32 marketId,bytes32 subaccountId,address feeRecipient,uint256 price,uint256 quantity,uint256 nonce,uint256 expiration,uint8 orderType)
	spotOrderTypeHash = ethcrypto.Keccak256(
		[]byte("SpotOrder(bytes32 marketId,bytes32 subaccountId,address feeRecipient,uint256 price,uint256 quantity,uint256 nonce,uint256 expiration,uint8 orderType)"),
	)

	// CancelOrder(bytes32 marketId,bytes32 subaccountId,bytes32 orderHash)
	cancelOrderTypeHash = ethcrypto.Keccak256(
		[]byte("CancelOrder(bytes32 marketId,bytes32 subaccountId,bytes32 orderHash)"),
	)
)

// Order type values used in SpotOrderPayload.OrderType.
const (
	OrderTypeBuy  = 1
	OrderTypeSell = 2
)

// SpotOrderPayload represents the fields of a Helix spot order that must be
// signed via EIP-712. String types are used for hashes and large numbers to
// preserve precision across JSON boundaries; Price and Quantity are
// fixed-point decimal strings scaled by 1e18.
type SpotOrderPayload struct {
	MarketID     string `json:"marketId"`
	SubaccountID string `json:"subaccountId"`
	FeeRecipient string `json:"feeRecipient"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	Nonce        string `json:"nonce"`
	Expiration   string `json:"expiration"`
	OrderType    int    `json:"orderType"` // 1 = BUY, 2 = SELL
}

// Signer provides EIP-712 signing for the Helix exchange API.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and the
// EIP-155 chain ID the Helix endpoint expects.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)

	s := &Signer{
		privateKey: pk,
		address:    addr,
		chainID:    chainID,
	}

	// Pre-compute the domain separator; it only depends on the chain ID.
	s.domainSep = s.buildDomainSeparator("Injective Web3", "1.0.0.0", chainID)

	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// DefaultSubaccount returns the signer's default subaccount ID: the 20-byte
// address right-padded with the zero subaccount index to 32 bytes.
func (s *Signer) DefaultSubaccount() string {
	b := make([]byte, 32)
	copy(b, s.address.Bytes())
	return "0x" + hex.EncodeToString(b)
}

// SignOrder signs a SpotOrder EIP-712 struct used to place orders on Helix.
// It returns a hex-encoded 65-byte signature.
func (s *Signer) SignOrder(order SpotOrderPayload) (string, error) {
	structHash, err := spotOrderStructHash(order)
	if err != nil {
		return "", err
	}

	digest := eip712Hash(s.domainSep, structHash)
	return s.signDigest(digest)
}

// OrderHash returns the EIP-712 digest of an order as a hex string. The same
// value identifies the order in cancel requests and fill reports.
func (s *Signer) OrderHash(order SpotOrderPayload) (string, error) {
	structHash, err := spotOrderStructHash(order)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(eip712Hash(s.domainSep, structHash)), nil
}

// SignCancel signs a CancelOrder EIP-712 struct for a previously placed order
// identified by its order hash.
func (s *Signer) SignCancel(marketID, subaccountID, orderHash string) (string, error) {
	market, err := hexTo32Bytes(marketID)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: invalid marketId %q: %w", marketID, err)
	}
	sub, err := hexTo32Bytes(subaccountID)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: invalid subaccountId %q: %w", subaccountID, err)
	}
	oh, err := hexTo32Bytes(orderHash)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: invalid orderHash %q: %w", orderHash, err)
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(cancelOrderTypeHash, market, sub, oh),
	)

	digest := eip712Hash(s.domainSep, structHash)
	return s.signDigest(digest)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func (s *Signer) buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// spotOrderStructHash encodes and hashes a SpotOrderPayload according to
// EIP-712.
func spotOrderStructHash(o SpotOrderPayload) ([]byte, error) {
	market, err := hexTo32Bytes(o.MarketID)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid marketId %q: %w", o.MarketID, err)
	}
	sub, err := hexTo32Bytes(o.SubaccountID)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid subaccountId %q: %w", o.SubaccountID, err)
	}
	price, ok := new(big.Int).SetString(o.Price, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid price %q", o.Price)
	}
	quantity, ok := new(big.Int).SetString(o.Quantity, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid quantity %q", o.Quantity)
	}
	nonce, ok := new(big.Int).SetString(o.Nonce, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid nonce %q", o.Nonce)
	}
	expiration, ok := new(big.Int).SetString(o.Expiration, 10)
	if !ok {
		return nil, fmt.Errorf("crypto/signer: invalid expiration %q", o.Expiration)
	}
	if o.OrderType != OrderTypeBuy && o.OrderType != OrderTypeSell {
		return nil, fmt.Errorf("crypto/signer: invalid orderType %d", o.OrderType)
	}

	feeRecipient := common.HexToAddress(o.FeeRecipient)

	return ethcrypto.Keccak256(
		concatBytes(
			spotOrderTypeHash,
			market,
			sub,
			common.LeftPadBytes(feeRecipient.Bytes(), 32),
			bigIntTo32Bytes(price),
			bigIntTo32Bytes(quantity),
			bigIntTo32Bytes(nonce),
			bigIntTo32Bytes(expiration),
			bigIntTo32Bytes(big.NewInt(int64(o.OrderType))),
		),
	), nil
}

// hexTo32Bytes decodes a hex string (with or without 0x prefix) into exactly
// 32 bytes.
func hexTo32Bytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	return b, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
