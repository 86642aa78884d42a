// Package attestation provides the enclave measurement document that
// backs C6's custom TLS verifier. It replaces WebPKI trust with a
// binding between a TLS leaf certificate and an attested enclave
// measurement: E3's certificate is only accepted if its public key is
// registered against a measurement this trust store recognizes.
//
// The quote format here is deliberately simplified relative to a real
// SGX DCAP quote (this module never runs inside real SGX hardware); it
// keeps the same shape — header, measurement, signature — so the
// verification logic exercises the same structure a real remote-report
// library would hand it.
package attestation

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cagemesh/fabric/internal/cagerr"
)

const quoteMagic = "CAGE_QUOTE_V1"

// Document is the attested identity of a peer enclave: its measurement
// (UniqueID, analogous to MRENCLAVE), its signer identity (SignerID,
// analogous to MRSIGNER) and the product/version pair the platform
// uses to gate upgrades.
type Document struct {
	UniqueID        string
	SignerID        string
	ProductID       uint16
	SecurityVersion uint16
	Debug           bool
	Timestamp       time.Time
}

// GenerateQuote produces a signed attestation quote binding reportData
// (typically a hash of the TLS certificate this enclave presents) to
// doc, using key as the platform's attestation signing secret.
func GenerateQuote(doc Document, reportData []byte, key []byte) []byte {
	uid, _ := hex.DecodeString(doc.UniqueID)
	sid, _ := hex.DecodeString(doc.SignerID)

	quote := make([]byte, 0, 128+len(reportData))
	quote = append(quote, []byte(quoteMagic)...)
	quote = append(quote, padTo(uid, 32)...)
	quote = append(quote, padTo(sid, 32)...)

	var idBuf [4]byte
	binary.BigEndian.PutUint16(idBuf[0:2], doc.ProductID)
	binary.BigEndian.PutUint16(idBuf[2:4], doc.SecurityVersion)
	quote = append(quote, idBuf[:]...)

	debugByte := byte(0)
	if doc.Debug {
		debugByte = 1
	}
	quote = append(quote, debugByte)

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(doc.Timestamp.Unix()))
	quote = append(quote, tsBuf[:]...)

	var rdLen [2]byte
	binary.BigEndian.PutUint16(rdLen[:], uint16(len(reportData)))
	quote = append(quote, rdLen[:]...)
	quote = append(quote, reportData...)

	sig := sign(key, quote)
	quote = append(quote, sig...)
	return quote
}

// VerifiedQuote is the parsed, signature-checked content of a quote.
type VerifiedQuote struct {
	Document   Document
	ReportData []byte
}

// VerifyQuote checks the quote's signature against key and parses its
// fields. It does not compare against any expected measurement — that
// is TrustStore's job.
func VerifyQuote(quote []byte, key []byte) (*VerifiedQuote, error) {
	const headerLen = len(quoteMagic) + 32 + 32 + 4 + 1 + 8 + 2
	if len(quote) < headerLen+sha256.Size {
		return nil, fmt.Errorf("%w: quote too short", cagerr.ErrAttestation)
	}
	if string(quote[:len(quoteMagic)]) != quoteMagic {
		return nil, fmt.Errorf("%w: bad quote magic", cagerr.ErrAttestation)
	}

	off := len(quoteMagic)
	uid := quote[off : off+32]
	off += 32
	sid := quote[off : off+32]
	off += 32
	productID := binary.BigEndian.Uint16(quote[off : off+2])
	secVersion := binary.BigEndian.Uint16(quote[off+2 : off+4])
	off += 4
	debug := quote[off] == 1
	off++
	ts := binary.BigEndian.Uint64(quote[off : off+8])
	off += 8
	rdLen := int(binary.BigEndian.Uint16(quote[off : off+2]))
	off += 2
	if off+rdLen+sha256.Size > len(quote) {
		return nil, fmt.Errorf("%w: truncated quote body", cagerr.ErrAttestation)
	}
	reportData := quote[off : off+rdLen]
	off += rdLen
	sig := quote[off : off+sha256.Size]

	body := quote[:off]
	want := sign(key, body)
	if subtle.ConstantTimeCompare(sig, want) != 1 {
		return nil, fmt.Errorf("%w: quote signature mismatch", cagerr.ErrAttestation)
	}

	return &VerifiedQuote{
		Document: Document{
			UniqueID:        hex.EncodeToString(trimZero(uid)),
			SignerID:        hex.EncodeToString(trimZero(sid)),
			ProductID:       productID,
			SecurityVersion: secVersion,
			Debug:           debug,
			Timestamp:       time.Unix(int64(ts), 0),
		},
		ReportData: reportData,
	}, nil
}

func sign(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func padTo(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

func trimZero(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}

// TrustStore binds TLS leaf certificates to recognized enclave
// measurements. internal/e3's verifier consults it on every handshake;
// nothing is trusted unless its fingerprint was registered here first
// (SPEC_FULL.md §4.6, grounded on the teacher's tee/network pinned-cert
// verifier, generalized from a fixed fingerprint map to attested
// documents).
type TrustStore struct {
	mu               sync.RWMutex
	bindings         map[[32]byte]Document
	expectedUniqueID string
	expectedSignerID string
}

// NewTrustStore returns a store that only accepts documents whose
// UniqueID/SignerID match the expected measurement. Either may be left
// empty to skip that check, matching ego.VerifyQuote's optional
// expected-value semantics.
func NewTrustStore(expectedUniqueID, expectedSignerID string) *TrustStore {
	return &TrustStore{
		bindings:         make(map[[32]byte]Document),
		expectedUniqueID: expectedUniqueID,
		expectedSignerID: expectedSignerID,
	}
}

// Register binds a leaf certificate's public key to an attested
// document after verifying the document's measurement matches what
// this store expects.
func (t *TrustStore) Register(leaf *x509.Certificate, doc Document) error {
	if t.expectedUniqueID != "" && doc.UniqueID != t.expectedUniqueID {
		return fmt.Errorf("%w: unique id mismatch: expected %s, got %s", cagerr.ErrAttestation, t.expectedUniqueID, doc.UniqueID)
	}
	if t.expectedSignerID != "" && doc.SignerID != t.expectedSignerID {
		return fmt.Errorf("%w: signer id mismatch: expected %s, got %s", cagerr.ErrAttestation, t.expectedSignerID, doc.SignerID)
	}

	fp := fingerprint(leaf)
	t.mu.Lock()
	t.bindings[fp] = doc
	t.mu.Unlock()
	return nil
}

// VerifyLeafBinding reports whether leaf's public key is bound to a
// recognized enclave measurement. It is the function wired into C6's
// tls.Config.VerifyConnection and must never fall back to WebPKI trust
// on a miss.
func (t *TrustStore) VerifyLeafBinding(leaf *x509.Certificate) error {
	fp := fingerprint(leaf)

	t.mu.RLock()
	_, ok := t.bindings[fp]
	t.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: certificate not bound to a recognized enclave measurement", cagerr.ErrAttestation)
	}
	return nil
}

func fingerprint(cert *x509.Certificate) [32]byte {
	return sha256.Sum256(cert.RawSubjectPublicKeyInfo)
}
